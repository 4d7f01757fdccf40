package nutrition

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFood means the oracle rejected the image as not food.
	ErrNotFood = errors.New("not food detected")
	// ErrMalformed means the response did not match the required schema.
	ErrMalformed = errors.New("malformed inference response")
	// ErrAuth means the API credential is missing or was rejected.
	ErrAuth = errors.New("inference authentication failed")
	// ErrTransport covers connectivity problems and timeouts.
	ErrTransport = errors.New("inference transport failed")
	// ErrService means the inference service answered with an error.
	ErrService = errors.New("inference service error")
	// ErrNoValidSamples means every attempt of a run failed.
	ErrNoValidSamples = errors.New("no valid samples")
)

// NoValidSamplesError is returned by a run in which no attempt produced a
// valid sample. It matches ErrNoValidSamples and unwraps to the individual
// attempt failures so their classification survives.
type NoValidSamplesError struct {
	Requested int
	Failures  []error
}

func (e *NoValidSamplesError) Error() string {
	if len(e.Failures) == 1 {
		return fmt.Sprintf("%s: %v", ErrNoValidSamples, e.Failures[0])
	}
	msgs := make([]string, len(e.Failures))
	for i, err := range e.Failures {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%s (%d attempts): %s", ErrNoValidSamples, e.Requested, strings.Join(msgs, "; "))
}

func (e *NoValidSamplesError) Is(target error) bool {
	return target == ErrNoValidSamples
}

func (e *NoValidSamplesError) Unwrap() []error {
	return e.Failures
}

// Kind is the recovery oriented classification of a run failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFood
	KindMalformed
	KindAuth
	KindTransport
	KindService
	KindNoValidSamples
)

func (k Kind) String() string {
	switch k {
	case KindNotFood:
		return "not_food"
	case KindMalformed:
		return "malformed"
	case KindAuth:
		return "auth"
	case KindTransport:
		return "transport"
	case KindService:
		return "service"
	case KindNoValidSamples:
		return "no_valid_samples"
	default:
		return "unknown"
	}
}

// kindOf classifies a single attempt failure.
func kindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrTransport):
		return KindTransport
	case errors.Is(err, ErrService):
		return KindService
	case errors.Is(err, ErrNotFood):
		return KindNotFood
	case errors.Is(err, ErrMalformed):
		return KindMalformed
	default:
		return KindUnknown
	}
}

// Classify decides which recovery a failed run calls for.
//
// A rejected credential always wins since no retry can succeed without new
// configuration. A single-sample run reports its sole failure. A multi-sample
// run reports transport or service trouble only when every attempt failed
// that way, otherwise it is a plain NoValidSamples.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, ErrAuth) {
		return KindAuth
	}
	var nv *NoValidSamplesError
	if !errors.As(err, &nv) {
		if errors.Is(err, ErrNoValidSamples) {
			return KindNoValidSamples
		}
		return kindOf(err)
	}
	if len(nv.Failures) == 0 {
		return KindNoValidSamples
	}
	if nv.Requested == 1 && len(nv.Failures) == 1 {
		if k := kindOf(nv.Failures[0]); k != KindUnknown {
			return k
		}
		return KindNoValidSamples
	}
	first := kindOf(nv.Failures[0])
	if first != KindTransport && first != KindService {
		return KindNoValidSamples
	}
	for _, f := range nv.Failures[1:] {
		if kindOf(f) != first {
			return KindNoValidSamples
		}
	}
	return first
}
