package strategy

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSizeTooSmall rejects orders below a pair's common minimum size.
var ErrSizeTooSmall = errors.New("order size below market minimum")

// ErrNoCandidatePair is returned when no eligible pair qualifies for a pass.
var ErrNoCandidatePair = errors.New("no candidate pair")

// PairLegError reports a hedged execution where at least one leg failed.
// The surviving leg is left in place: a timed-out request may still have
// filled, so an automatic compensating order could double the exposure
// instead of removing it. The balance pass repairs parity on a later cycle.
type PairLegError struct {
	Base string
	Legs []string
	Errs []error
}

func (e *PairLegError) Error() string {
	parts := make([]string, len(e.Legs))
	for i, leg := range e.Legs {
		parts[i] = fmt.Sprintf("%s: %v", leg, e.Errs[i])
	}
	return fmt.Sprintf("pair legs failed on %s: %s", e.Base, strings.Join(parts, "; "))
}

func (e *PairLegError) Unwrap() []error {
	return e.Errs
}

// FailedLeg reports whether the named leg ("spot" or "perp") failed.
func (e *PairLegError) FailedLeg(leg string) bool {
	for _, l := range e.Legs {
		if l == leg {
			return true
		}
	}
	return false
}
