// recovery/classify.go
// Package recovery classifies execution failures and picks the bounded
// recovery strategy for each category.
package recovery

import (
	"context"
	"errors"
	"strings"

	"github.com/dkastrov/taskpilot-cli/api/schemas"
)

// ErrPageDrift is the sentinel raised when the page mutated or navigated
// out from under an in-flight step.
var ErrPageDrift = errors.New("unexpected page change detected")

// Classify buckets an execution failure into the closed category set. The
// mapping is substring driven and total: anything unrecognized is unknown,
// never a new category.
func Classify(err error) schemas.ErrorCategory {
	if err == nil {
		return schemas.ErrCategoryUnknown
	}
	if errors.Is(err, ErrPageDrift) {
		return schemas.ErrCategoryPageChange
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return schemas.ErrCategoryTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "not found", "no element", "no node", "could not find", "did not match"):
		return schemas.ErrCategoryElementMissing
	case containsAny(msg, "timeout", "timed out", "deadline"):
		return schemas.ErrCategoryTimeout
	case containsAny(msg, "permission", "access denied", "forbidden", "not allowed"):
		return schemas.ErrCategoryPermission
	case containsAny(msg, "network", "connection", "net::", "dns", "unreachable"):
		return schemas.ErrCategoryNetwork
	case containsAny(msg, "page change", "navigated away", "frame detached", "execution context destroyed"):
		return schemas.ErrCategoryPageChange
	default:
		return schemas.ErrCategoryUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
