package report

import (
	"strings"
	"time"

	"golang.org/x/exp/slices"

	"github.com/colorfulnotion/evmtests/harness"
	"github.com/colorfulnotion/evmtests/types"
)

// Row tallies outcomes.
type Row struct {
	Name          string
	PassedProof   int
	PassedWitness int
	Ignored       int
	EvmErr        int
	WrongRoots    int
	TimedOut      int
	Cancelled     int
}

func (r *Row) add(kind types.StatusKind) {
	switch kind {
	case types.StatusPassedProof:
		r.PassedProof++
	case types.StatusPassedWitness:
		r.PassedWitness++
	case types.StatusIgnored:
		r.Ignored++
	case types.StatusEvmErr:
		r.EvmErr++
	case types.StatusIncorrectRoots:
		r.WrongRoots++
	case types.StatusTimedOut:
		r.TimedOut++
	case types.StatusCancelled:
		r.Cancelled++
	}
}

func (r Row) Total() int {
	return r.PassedProof + r.PassedWitness + r.Ignored + r.EvmErr + r.WrongRoots + r.TimedOut + r.Cancelled
}

func (r Row) Failed() int { return r.EvmErr + r.WrongRoots + r.TimedOut }

// Failure is one failing test as shown in reports.
type Failure struct {
	Identity  types.TestIdentity
	Status    string
	StateDiff string
}

// Report is a run summary grouped by fixture group.
type Report struct {
	Commit      string
	GeneratedAt time.Time
	Elapsed     time.Duration
	Skipped     int
	Cancelled   bool
	Totals      Row
	Groups      []Row
	Failures    []Failure
	results     []harness.Result
}

// New builds a report from a run summary.
func New(sum *harness.Summary, commit string) *Report {
	rep := &Report{
		Commit:      commit,
		GeneratedAt: time.Now().UTC(),
		Elapsed:     sum.Elapsed,
		Skipped:     sum.Skipped,
		Cancelled:   sum.Cancelled,
		Totals:      Row{Name: "total"},
		results:     sum.Sorted(),
	}
	groups := map[string]*Row{}
	for _, r := range rep.results {
		g := r.Identity.Group()
		row, ok := groups[g]
		if !ok {
			row = &Row{Name: g}
			groups[g] = row
		}
		row.add(r.Status.Kind)
		rep.Totals.add(r.Status.Kind)
		switch r.Status.Kind {
		case types.StatusEvmErr, types.StatusIncorrectRoots, types.StatusTimedOut:
			rep.Failures = append(rep.Failures, Failure{
				Identity:  r.Identity,
				Status:    r.Status.String(),
				StateDiff: r.Status.StateDiff,
			})
		}
	}
	for _, row := range groups {
		rep.Groups = append(rep.Groups, *row)
	}
	slices.SortFunc(rep.Groups, func(a, b Row) int { return strings.Compare(a.Name, b.Name) })
	return rep
}
