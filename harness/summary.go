package harness

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/exp/slices"

	"github.com/colorfulnotion/evmtests/types"
)

// Summary collects the results of one Run in completion order.
type Summary struct {
	Results       []Result
	Skipped       int
	Dispatched    int
	NotDispatched int
	Cancelled     bool
	Started       time.Time
	Elapsed       time.Duration
}

// Count returns the number of results of the given kind.
func (s *Summary) Count(kind types.StatusKind) int {
	n := 0
	for _, r := range s.Results {
		if r.Status.Kind == kind {
			n++
		}
	}
	return n
}

// Sorted returns the results ordered by identity.
func (s *Summary) Sorted() []Result {
	out := slices.Clone(s.Results)
	slices.SortFunc(out, func(a, b Result) int {
		return strings.Compare(string(a.Identity), string(b.Identity))
	})
	return out
}

// Lookup returns the result recorded for id.
func (s *Summary) Lookup(id types.TestIdentity) (Result, bool) {
	for _, r := range s.Results {
		if r.Identity == id {
			return r, true
		}
	}
	return Result{}, false
}

func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "dispatched=%d skipped=%d", s.Dispatched, s.Skipped)
	for k := types.StatusPassedWitness; k <= types.StatusCancelled; k++ {
		if n := s.Count(k); n > 0 {
			fmt.Fprintf(&b, " %s=%d", k, n)
		}
	}
	if s.Cancelled {
		fmt.Fprintf(&b, " cancelled (not dispatched=%d)", s.NotDispatched)
	}
	fmt.Fprintf(&b, " elapsed=%s", s.Elapsed.Round(time.Millisecond))
	return b.String()
}
