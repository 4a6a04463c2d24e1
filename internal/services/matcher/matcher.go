// Package matcher resolves a deposit address against outstanding receivables.
package matcher

import (
	"time"

	"github.com/vadiminshakov/siapay/internal/domain"
)

// Outcome is the result class of a match.
type Outcome int

const (
	NoMatch Outcome = iota
	Unique
	Ambiguous
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case NoMatch:
		return "no_match"
	case Unique:
		return "unique"
	case Ambiguous:
		return "ambiguous"
	}
	return "unknown"
}

// Result carries the outcome and the live receivables that produced it.
type Result struct {
	Outcome    Outcome
	Candidates []domain.Entry
}

// Receivable returns the matched receivable for a Unique outcome.
func (r Result) Receivable() (domain.Entry, bool) {
	if r.Outcome != Unique {
		return domain.Entry{}, false
	}
	return r.Candidates[0], true
}

// Match finds the live receivables bound to address at the given time.
// Several live receivables on one address are reported as Ambiguous and
// never narrowed down to one.
func Match(address string, receivables []domain.Entry, at time.Time) Result {
	if address == "" {
		return Result{Outcome: NoMatch}
	}

	var live []domain.Entry
	for _, r := range receivables {
		if r.Kind != domain.KindReceivable || r.LocalAddress != address {
			continue
		}
		if r.Expired(at) {
			continue
		}
		live = append(live, r)
	}

	switch len(live) {
	case 0:
		return Result{Outcome: NoMatch}
	case 1:
		return Result{Outcome: Unique, Candidates: live}
	default:
		return Result{Outcome: Ambiguous, Candidates: live}
	}
}
