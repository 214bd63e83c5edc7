package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgefleet.c2/internal/core/domain"
)

func TestAcknowledgement_RoundTrip(t *testing.T) {
	tests := []domain.Acknowledgement{
		{OperationID: "op-1", State: domain.UpdateStateFullyApplied},
		{OperationID: "op-2", State: domain.UpdateStateOperationNotUnderstood, Details: "no such operand"},
	}
	for _, in := range tests {
		b, err := EncodeAcknowledgement(Version0, &in)
		require.NoError(t, err)

		out, err := DecodeAcknowledgement(b)
		require.NoError(t, err)
		assert.Equal(t, in, *out)
	}
}

func TestDecodeAcknowledgement_UnknownStateDegrades(t *testing.T) {
	b := []byte{0x00, 0x00, 0x00, 0x00, 0x02, 'o', 'p', 0x2A}
	ack, err := DecodeAcknowledgement(b)
	require.NoError(t, err)
	assert.Equal(t, "op", ack.OperationID)
	assert.Equal(t, domain.UpdateStateNotApplied, ack.State)
}

func TestDecodeAcknowledgement_Rejects(t *testing.T) {
	_, err := DecodeAcknowledgement([]byte{0x00, 0x00, 0x01, 0x00, 0x00, 0x00})
	assert.ErrorIs(t, err, ErrUnexpectedOperationType)

	_, err = DecodeAcknowledgement([]byte{0x00, 0x00, 0x00, 0x00, 0x02, 'o', 'p'})
	assert.ErrorIs(t, err, ErrTruncatedPayload)
}
