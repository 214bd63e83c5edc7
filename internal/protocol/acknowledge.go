package protocol

import (
	"fmt"

	"edgefleet.c2/internal/core/domain"
)

// Acknowledgement datagram:
//
//	version:2 opType:1 (ACKNOWLEDGE) operationId:str updateState:1 [details:str]

// DecodeAcknowledgement parses an acknowledgement datagram. Unknown update
// state bytes decode to NOT_APPLIED.
func DecodeAcknowledgement(b []byte) (*domain.Acknowledgement, error) {
	r := NewReader(b)
	if _, err := readHeader(r, domain.OperationAcknowledge); err != nil {
		return nil, err
	}

	ack := &domain.Acknowledgement{}
	var err error
	if ack.OperationID, err = r.ReadString(); err != nil {
		return nil, decodeErr("operation identifier", err)
	}
	state, err := r.ReadUint8()
	if err != nil {
		return nil, decodeErr("update state", err)
	}
	ack.State = DecodeUpdateState(state)

	if r.Remaining() > 0 {
		if ack.Details, err = r.ReadString(); err != nil {
			return nil, decodeErr("details", err)
		}
	}
	return ack, nil
}

func EncodeAcknowledgement(version uint16, ack *domain.Acknowledgement) ([]byte, error) {
	w := NewWriter()
	w.WriteUint16(version)
	w.WriteUint8(OpAcknowledge)
	w.WriteString(ack.OperationID)
	w.WriteUint8(EncodeUpdateState(ack.State))
	if ack.Details != "" {
		w.WriteString(ack.Details)
	}
	if err := w.Err(); err != nil {
		return nil, fmt.Errorf("encode acknowledgement: %w", err)
	}
	return w.Bytes(), nil
}
