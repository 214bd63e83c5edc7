package protocol

import (
	"fmt"

	"edgefleet.c2/internal/core/domain"
)

// Wire values for operation kinds. These are fixed by the protocol and must
// not follow any in-memory ordering.
const (
	OpAcknowledge byte = 0
	OpHeartbeat   byte = 1
	OpClear       byte = 2
	OpDescribe    byte = 3
	OpRestart     byte = 4
	OpStart       byte = 5
	OpUpdate      byte = 6
	OpStop        byte = 7
)

// EncodeOperationType returns the wire byte for t.
func EncodeOperationType(t domain.OperationType) (byte, error) {
	switch t {
	case domain.OperationAcknowledge:
		return OpAcknowledge, nil
	case domain.OperationHeartbeat:
		return OpHeartbeat, nil
	case domain.OperationClear:
		return OpClear, nil
	case domain.OperationDescribe:
		return OpDescribe, nil
	case domain.OperationRestart:
		return OpRestart, nil
	case domain.OperationStart:
		return OpStart, nil
	case domain.OperationUpdate:
		return OpUpdate, nil
	case domain.OperationStop:
		return OpStop, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOperationType, string(t))
}

// DecodeOperationType returns the operation kind for a wire byte.
func DecodeOperationType(b byte) (domain.OperationType, error) {
	switch b {
	case OpAcknowledge:
		return domain.OperationAcknowledge, nil
	case OpHeartbeat:
		return domain.OperationHeartbeat, nil
	case OpClear:
		return domain.OperationClear, nil
	case OpDescribe:
		return domain.OperationDescribe, nil
	case OpRestart:
		return domain.OperationRestart, nil
	case OpStart:
		return domain.OperationStart, nil
	case OpUpdate:
		return domain.OperationUpdate, nil
	case OpStop:
		return domain.OperationStop, nil
	}
	return "", fmt.Errorf("%w: 0x%02x", ErrUnknownOperationType, b)
}

// Wire values for acknowledgement outcomes.
const (
	StateFullyApplied           byte = 0
	StatePartiallyApplied       byte = 1
	StateOperationNotUnderstood byte = 2
	StateNotApplied             byte = 3
)

// EncodeUpdateState returns the wire byte for s. Anything unrecognized is
// sent as NOT_APPLIED.
func EncodeUpdateState(s domain.UpdateState) byte {
	switch s {
	case domain.UpdateStateFullyApplied:
		return StateFullyApplied
	case domain.UpdateStatePartiallyApplied:
		return StatePartiallyApplied
	case domain.UpdateStateOperationNotUnderstood:
		return StateOperationNotUnderstood
	default:
		return StateNotApplied
	}
}

// DecodeUpdateState never fails: unknown or future values degrade to
// NOT_APPLIED.
func DecodeUpdateState(b byte) domain.UpdateState {
	switch b {
	case StateFullyApplied:
		return domain.UpdateStateFullyApplied
	case StatePartiallyApplied:
		return domain.UpdateStatePartiallyApplied
	case StateOperationNotUnderstood:
		return domain.UpdateStateOperationNotUnderstood
	default:
		return domain.UpdateStateNotApplied
	}
}
