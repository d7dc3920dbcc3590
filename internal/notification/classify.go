package notification

import (
	"context"
	"errors"
	"strings"

	"github.com/djlord-it/opsched/internal/domain"
)

// communicationPatterns are substrings of transport/database errors
// worth retrying. Bounded, matched case-insensitively.
var communicationPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"network is unreachable",
	"timeout",
	"deadline exceeded",
	"bad connection",
	"dial",
}

// Classify maps a processing failure to its error class. Only
// communication-class failures are worth redelivering; configuration
// failures are structurally invalid and generic failures are unknown.
func Classify(err error) domain.ErrorClass {
	switch {
	case err == nil:
		return domain.ErrorClassGeneric
	case errors.Is(err, ErrMalformedEvent):
		return domain.ErrorClassConfiguration
	case errors.Is(err, ErrOperationNotFound):
		return domain.ErrorClassGeneric
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ErrorClassCommunication
	case errors.Is(err, context.Canceled):
		// Processing interrupted, not a verdict on the event itself.
		return domain.ErrorClassCommunication
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range communicationPatterns {
		if strings.Contains(msg, pattern) {
			return domain.ErrorClassCommunication
		}
	}
	return domain.ErrorClassGeneric
}
