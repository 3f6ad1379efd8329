package testerrors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyWrapped(t *testing.T) {
	err := fmt.Errorf("variant add_d0g0v0: %w", ErrNGasUsedRange)
	assert.Equal(t, ClassNumericRange, Classify(err))
	assert.True(t, IsIgnorable(err))
	assert.Equal(t, "N1", GetErrorCode(err))
	assert.Equal(t, "GasUsedRange", GetErrorName(err))

	assert.Equal(t, ClassCancelled, Classify(fmt.Errorf("dispatch: %w", context.Canceled)))
	assert.Equal(t, ClassParse, Classify(ErrPInvalidByDesign))
	assert.Equal(t, ClassUnknown, Classify(fmt.Errorf("plain")))
	assert.False(t, IsIgnorable(ErrEExecution))
}

func TestErrorNamesOfUncodedErrors(t *testing.T) {
	assert.Equal(t, "No Error", GetErrorName(nil))
	assert.Equal(t, "boom", GetErrorName(fmt.Errorf("boom")))
	assert.Equal(t, "", GetErrorCode(fmt.Errorf("boom")))
}
