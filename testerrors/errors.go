package testerrors

import (
	"context"
	"errors"
	"strings"
)

// Parse (P) Errors
var (
	ErrPMalformedJSON       = errors.New("P1|MalformedJSON: Fixture is not valid JSON for the blockchain test schema.")
	ErrPMissingField        = errors.New("P2|MissingField: A required fixture field is absent.")
	ErrPBadNumber           = errors.New("P3|BadNumber: A numeric field is neither hex nor decimal.")
	ErrPBadHex              = errors.New("P4|BadHex: A byte field is not valid hex.")
	ErrPUnsupportedTxType   = errors.New("P5|UnsupportedTxType: Transaction type prefix is not one of legacy, 0x01, 0x02, 0x03.")
	ErrPBadRLP              = errors.New("P6|BadRLP: Transaction bytes do not decode as RLP.")
	ErrPInvalidByDesign     = errors.New("P7|InvalidByDesign: Fixture declares its transaction or block invalid.")
	ErrPMultipleBlocks      = errors.New("P8|MultipleBlocks: Fixture has more than one block.")
	ErrPTransactionCount    = errors.New("P9|TransactionCount: Block must carry exactly one transaction.")
	ErrPTxTypeMismatch      = errors.New("P10|TxTypeMismatch: Declared transaction type disagrees with its fields.")
	ErrPArtifactUnreadable  = errors.New("P11|ArtifactUnreadable: Parsed test artifact cannot be decoded.")
	ErrPEmptyFixture        = errors.New("P12|EmptyFixture: Fixture file contains no tests.")
	ErrPMalformedAccessList = errors.New("P13|MalformedAccessList: Access list is neither a list nor a single entry.")
)

// Numeric range (N) Errors
var (
	ErrNGasUsedRange  = errors.New("N1|GasUsedRange: Block gas used does not fit in 32 bits.")
	ErrNGasLimitRange = errors.New("N2|GasLimitRange: Block gas limit does not fit in 32 bits.")
	ErrNBalanceRange  = errors.New("N3|BalanceRange: Balance does not fit the basic data leaf.")
	ErrNValueRange    = errors.New("N4|ValueRange: Value exceeds 256 bits.")
	ErrNCodeSizeRange = errors.New("N5|CodeSizeRange: Code size does not fit in 24 bits.")
)

// Engine (E) Errors
var (
	ErrEExecution    = errors.New("E1|Execution: Engine rejected or failed the execution.")
	ErrEVerification = errors.New("E2|Verification: Proof failed verification.")
	ErrEPanic        = errors.New("E3|Panic: Engine panicked.")
	ErrEBadOutput    = errors.New("E4|BadOutput: Engine output cannot be decoded.")
)

// Root mismatch (R), timeout (T), store (S), cancellation (C)
var (
	ErrRRootMismatch = errors.New("R1|RootMismatch: Engine produced roots different from the fixture.")
	ErrTTimeout      = errors.New("T1|Timeout: Engine did not finish within the per-test timeout.")
	ErrSStoreRead    = errors.New("S1|StoreRead: Run state file cannot be read.")
	ErrSStoreWrite   = errors.New("S2|StoreWrite: Run state file cannot be written.")
	ErrSStoreLocked  = errors.New("S3|StoreLocked: Run state file is locked by another process.")
	ErrCCancelled    = errors.New("C1|Cancelled: Run was cancelled before the test finished.")
)

// Class groups errors by the handling policy they trigger.
type Class int

const (
	ClassUnknown Class = iota
	ClassParse
	ClassNumericRange
	ClassEngine
	ClassRootMismatch
	ClassTimeout
	ClassStore
	ClassCancelled
)

func (c Class) String() string {
	switch c {
	case ClassParse:
		return "parse"
	case ClassNumericRange:
		return "numeric-range"
	case ClassEngine:
		return "engine"
	case ClassRootMismatch:
		return "root-mismatch"
	case ClassTimeout:
		return "timeout"
	case ClassStore:
		return "store"
	case ClassCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

var classes = []struct {
	class Class
	errs  []error
}{
	{ClassParse, []error{ErrPMalformedJSON, ErrPMissingField, ErrPBadNumber, ErrPBadHex, ErrPUnsupportedTxType, ErrPBadRLP, ErrPInvalidByDesign, ErrPMultipleBlocks, ErrPTransactionCount, ErrPTxTypeMismatch, ErrPArtifactUnreadable, ErrPEmptyFixture, ErrPMalformedAccessList}},
	{ClassNumericRange, []error{ErrNGasUsedRange, ErrNGasLimitRange, ErrNBalanceRange, ErrNValueRange, ErrNCodeSizeRange}},
	{ClassEngine, []error{ErrEExecution, ErrEVerification, ErrEPanic, ErrEBadOutput}},
	{ClassRootMismatch, []error{ErrRRootMismatch}},
	{ClassTimeout, []error{ErrTTimeout}},
	{ClassStore, []error{ErrSStoreRead, ErrSStoreWrite, ErrSStoreLocked}},
	{ClassCancelled, []error{ErrCCancelled, context.Canceled}},
}

// Classify maps a (possibly wrapped) error onto its handling class.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	for _, c := range classes {
		for _, target := range c.errs {
			if errors.Is(err, target) {
				return c.class
			}
		}
	}
	return ClassUnknown
}

// IsIgnorable reports whether err reflects a harness limitation rather than an engine defect.
func IsIgnorable(err error) bool {
	return Classify(err) == ClassNumericRange
}

// GetErrorName extracts the error name from the innermost coded error in err.
func GetErrorName(err error) string {
	if err == nil {
		return "No Error"
	}
	errStr := innermostCoded(err)
	if !strings.Contains(errStr, "|") || !strings.Contains(errStr, ":") {
		return errStr
	}
	nameDesc := strings.SplitN(errStr, "|", 2)[1]
	return strings.TrimSpace(strings.SplitN(nameDesc, ":", 2)[0])
}

// GetErrorCode extracts the error code, e.g. "P7".
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	errStr := innermostCoded(err)
	if !strings.Contains(errStr, "|") {
		return ""
	}
	return strings.TrimSpace(strings.SplitN(errStr, "|", 2)[0])
}

func innermostCoded(err error) string {
	for _, c := range classes {
		for _, target := range c.errs {
			if errors.Is(err, target) && strings.Contains(target.Error(), "|") {
				return target.Error()
			}
		}
	}
	return err.Error()
}
