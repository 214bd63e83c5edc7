package domain

import (
	"fmt"
	"time"
)

// OperationType is the kind of management work an operation carries.
// Wire values are assigned by the protocol package, not by this type.
type OperationType string

const (
	OperationAcknowledge OperationType = "ACKNOWLEDGE"
	OperationHeartbeat   OperationType = "HEARTBEAT"
	OperationClear       OperationType = "CLEAR"
	OperationDescribe    OperationType = "DESCRIBE"
	OperationRestart     OperationType = "RESTART"
	OperationStart       OperationType = "START"
	OperationUpdate      OperationType = "UPDATE"
	OperationStop        OperationType = "STOP"
)

// Valid reports whether t is one of the eight defined kinds.
func (t OperationType) Valid() bool {
	switch t {
	case OperationAcknowledge, OperationHeartbeat, OperationClear, OperationDescribe,
		OperationRestart, OperationStart, OperationUpdate, OperationStop:
		return true
	}
	return false
}

type OperationState string

const (
	OperationStateQueued   OperationState = "QUEUED"
	OperationStateDeployed OperationState = "DEPLOYED"
	OperationStateDone     OperationState = "DONE"
)

// operationTransitions is the whole lifecycle: QUEUED -> DEPLOYED -> DONE.
var operationTransitions = map[OperationState]OperationState{
	OperationStateQueued:   OperationStateDeployed,
	OperationStateDeployed: OperationStateDone,
}

// CanTransitionTo reports whether the lifecycle allows s -> next.
func (s OperationState) CanTransitionTo(next OperationState) bool {
	to, ok := operationTransitions[s]
	return ok && to == next
}

// UpdateState is the outcome an agent reports when acknowledging an operation.
type UpdateState string

const (
	UpdateStateFullyApplied           UpdateState = "FULLY_APPLIED"
	UpdateStatePartiallyApplied       UpdateState = "PARTIALLY_APPLIED"
	UpdateStateOperationNotUnderstood UpdateState = "OPERATION_NOT_UNDERSTOOD"
	UpdateStateNotApplied             UpdateState = "NOT_APPLIED"
)

// ParseUpdateState maps a name to an UpdateState. Unknown names degrade to
// NOT_APPLIED.
func ParseUpdateState(name string) UpdateState {
	switch s := UpdateState(name); s {
	case UpdateStateFullyApplied, UpdateStatePartiallyApplied, UpdateStateOperationNotUnderstood:
		return s
	default:
		return UpdateStateNotApplied
	}
}

const (
	OperandConfiguration = "configuration"

	ArgLocation = "location"
	ArgPersist  = "persist"
)

// Operation is a unit of management work for one target agent. Apart from
// State and the acknowledgement fields it is never mutated after creation.
type Operation struct {
	ID            string            `json:"identifier" gorm:"primaryKey"`
	Operation     OperationType     `json:"operation"`
	Operand       string            `json:"operand,omitempty"`
	Args          map[string]string `json:"args,omitempty" gorm:"serializer:json"`
	TargetAgentID string            `json:"targetAgentId" gorm:"index"`
	State         OperationState    `json:"state" gorm:"index"`
	CreatedBy     string            `json:"createdBy,omitempty"`
	AckState      UpdateState       `json:"ackState,omitempty"`
	AckDetails    string            `json:"ackDetails,omitempty"`
	CreatedAt     time.Time         `json:"created"`
	UpdatedAt     time.Time         `json:"updated"`
}

func (Operation) TableName() string {
	return "operations"
}

// Transition moves the operation to next, enforcing the lifecycle.
func (o *Operation) Transition(next OperationState) error {
	if !o.State.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s for operation %s", ErrInvalidTransition, o.State, next, o.ID)
	}
	o.State = next
	o.UpdatedAt = time.Now()
	return nil
}
