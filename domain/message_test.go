package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatus_CanAdvance(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"sent to delivered", StatusSent, StatusDelivered, true},
		{"delivered to read", StatusDelivered, StatusRead, true},
		{"sent to read skips a step", StatusSent, StatusRead, false},
		{"delivered back to sent", StatusDelivered, StatusSent, false},
		{"read is terminal", StatusRead, StatusDelivered, false},
		{"same status is not a transition", StatusDelivered, StatusDelivered, false},
		{"unknown source", Status("bogus"), StatusDelivered, false},
		{"unknown target", StatusSent, Status("bogus"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.from.CanAdvance(tt.to))
		})
	}
}
