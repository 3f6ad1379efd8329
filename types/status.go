package types

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PassState is the persisted outcome of a test.
type PassState string

const (
	PassedWitness PassState = "PassedWitness"
	PassedProof   PassState = "PassedProof"
	Ignored       PassState = "Ignored"
	Failed        PassState = "Failed"
	NotRun        PassState = "NotRun"
)

func ParsePassState(s string) (PassState, error) {
	switch p := PassState(s); p {
	case PassedWitness, PassedProof, Ignored, Failed, NotRun:
		return p, nil
	}
	return "", fmt.Errorf("unknown pass state %q", s)
}

// RunEntry is the stored record of one identity.
type RunEntry struct {
	PassState PassState
	LastRun   time.Time // zero when never run
}

// StatusKind classifies one execution attempt.
type StatusKind int

const (
	StatusPassedWitness StatusKind = iota
	StatusPassedProof
	StatusIgnored
	StatusEvmErr
	StatusIncorrectRoots
	StatusTimedOut
	StatusCancelled
)

func (k StatusKind) String() string {
	switch k {
	case StatusPassedWitness:
		return "PassedWitness"
	case StatusPassedProof:
		return "PassedProof"
	case StatusIgnored:
		return "Ignored"
	case StatusEvmErr:
		return "EvmErr"
	case StatusIncorrectRoots:
		return "IncorrectRoots"
	case StatusTimedOut:
		return "TimedOut"
	case StatusCancelled:
		return "Cancelled"
	}
	return "Unknown"
}

// RootComparison is Correct, or a Difference carrying both roots.
type RootComparison struct {
	Correct  bool
	Actual   common.Hash
	Expected common.Hash
}

func CompareRoot(actual, expected common.Hash) RootComparison {
	return RootComparison{Correct: actual == expected, Actual: actual, Expected: expected}
}

func (c RootComparison) String() string {
	if c.Correct {
		return "Correct"
	}
	return fmt.Sprintf("Difference(actual %s, expected %s)", c.Actual.Hex(), c.Expected.Hex())
}

// RootsDiff is the three-way root comparison of a finished run.
type RootsDiff struct {
	State        RootComparison
	Receipts     RootComparison
	Transactions RootComparison
}

func (d RootsDiff) AllCorrect() bool {
	return d.State.Correct && d.Receipts.Correct && d.Transactions.Correct
}

func (d RootsDiff) String() string {
	return fmt.Sprintf("state: %s, receipts: %s, txns: %s", d.State, d.Receipts, d.Transactions)
}

// TestStatus is the classified outcome of running one test.
type TestStatus struct {
	Kind      StatusKind
	Detail    string
	Roots     *RootsDiff
	StateDiff string
}

func (s TestStatus) String() string {
	switch s.Kind {
	case StatusEvmErr, StatusIgnored:
		if s.Detail != "" {
			return fmt.Sprintf("%s(%s)", s.Kind, s.Detail)
		}
	case StatusIncorrectRoots:
		if s.Roots != nil {
			return fmt.Sprintf("%s(%s)", s.Kind, s.Roots)
		}
	}
	return s.Kind.String()
}

// PassState maps the status onto the stored state. ok is false for cancelled
// runs, which must not be recorded.
func (s TestStatus) PassState() (state PassState, ok bool) {
	switch s.Kind {
	case StatusPassedWitness:
		return PassedWitness, true
	case StatusPassedProof:
		return PassedProof, true
	case StatusIgnored:
		return Ignored, true
	case StatusCancelled:
		return "", false
	default:
		return Failed, true
	}
}

func (s TestStatus) Passed() bool {
	return s.Kind == StatusPassedWitness || s.Kind == StatusPassedProof
}
