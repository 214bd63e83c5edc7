package protocol

import (
	"fmt"

	"edgefleet.c2/internal/core/domain"
)

// EncodeResponse serializes the operations to deliver, in order. A nil or
// empty list encodes as the version followed by a zero count.
func EncodeResponse(version uint16, ops []*domain.Operation) ([]byte, error) {
	w := NewWriter()
	w.WriteUint16(version)
	w.WriteCount(len(ops))
	for _, op := range ops {
		b, err := EncodeOperationType(op.Operation)
		if err != nil {
			w.Fail(err)
			break
		}
		w.WriteUint8(b)
		w.WriteString(op.ID)
		w.WriteString(op.Operand)
		w.WriteCount(len(op.Args))
		for _, k := range sortedKeys(op.Args) {
			w.WriteString(k)
			w.WriteString(op.Args[k])
		}
	}
	if err := w.Err(); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return w.Bytes(), nil
}

// DecodeResponse is the agent side of EncodeResponse.
func DecodeResponse(b []byte) (uint16, []*domain.Operation, error) {
	r := NewReader(b)
	version, err := r.ReadUint16()
	if err != nil {
		return 0, nil, decodeErr("version", err)
	}
	n, err := r.ReadUint16()
	if err != nil {
		return 0, nil, decodeErr("operation count", err)
	}

	ops := make([]*domain.Operation, 0, n)
	for i := 0; i < int(n); i++ {
		tb, err := r.ReadUint8()
		if err != nil {
			return 0, nil, decodeErr("operation type", err)
		}
		opType, err := DecodeOperationType(tb)
		if err != nil {
			return 0, nil, decodeErr("operation type", err)
		}
		op := &domain.Operation{Operation: opType}
		if op.ID, err = r.ReadString(); err != nil {
			return 0, nil, decodeErr("operation identifier", err)
		}
		if op.Operand, err = r.ReadString(); err != nil {
			return 0, nil, decodeErr("operand", err)
		}
		argc, err := r.ReadUint16()
		if err != nil {
			return 0, nil, decodeErr("argument count", err)
		}
		if argc > 0 {
			op.Args = make(map[string]string, argc)
		}
		for j := 0; j < int(argc); j++ {
			k, err := r.ReadString()
			if err != nil {
				return 0, nil, decodeErr("argument key", err)
			}
			v, err := r.ReadString()
			if err != nil {
				return 0, nil, decodeErr("argument value", err)
			}
			op.Args[k] = v
		}
		ops = append(ops, op)
	}
	return version, ops, nil
}
