package notification

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/djlord-it/opsched/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.ErrorClass
	}{
		{
			name: "malformed event",
			err:  fmt.Errorf("%w: missing scope id", ErrMalformedEvent),
			want: domain.ErrorClassConfiguration,
		},
		{
			name: "unknown operation",
			err:  fmt.Errorf("apply update: %w", ErrOperationNotFound),
			want: domain.ErrorClassGeneric,
		},
		{
			name: "deadline exceeded",
			err:  context.DeadlineExceeded,
			want: domain.ErrorClassCommunication,
		},
		{
			name: "cancelled mid-processing",
			err:  fmt.Errorf("apply update: %w", context.Canceled),
			want: domain.ErrorClassCommunication,
		},
		{
			name: "wrapped connection refused",
			err:  fmt.Errorf("update operation: %w", errors.New("dial tcp 10.0.0.1:5432: connect: connection refused")),
			want: domain.ErrorClassCommunication,
		},
		{
			name: "broken pipe",
			err:  errors.New("write: broken pipe"),
			want: domain.ErrorClassCommunication,
		},
		{
			name: "anything else",
			err:  errors.New("pq: null value in column"),
			want: domain.ErrorClassGeneric,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
