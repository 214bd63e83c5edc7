package flowlocation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_FlowLocation(t *testing.T) {
	tests := []struct {
		name string
		base string
		flow string
		want string
	}{
		{"relative", "", "flow-1", "/c2/api/flows/flow-1/content"},
		{"absolute", "https://c2.example.com", "flow-1", "https://c2.example.com/c2/api/flows/flow-1/content"},
		{"base with path", "https://c2.example.com/fleet/", "flow-1", "https://c2.example.com/fleet/c2/api/flows/flow-1/content"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewResolver(tt.base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.FlowLocation(tt.flow))
		})
	}
}

func TestNewResolver_RejectsRelativeBase(t *testing.T) {
	_, err := NewResolver("c2.example.com")
	assert.Error(t, err)
}
