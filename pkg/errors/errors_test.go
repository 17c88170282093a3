package errors

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindsMatchTheirSentinel(t *testing.T) {
	cases := []struct {
		err      error
		sentinel error
	}{
		{NewConfigurationError("Cropper", "z_range", "bad span"), ErrConfiguration},
		{NewUnknownOperationError("Sharpener"), ErrUnknownOperation},
		{NewOptimizationError("Destriper", 4, io.EOF), ErrOptimization},
		{NewTransformError("Registrator", "expected %d shifts, got %d", 3, 2), ErrTransform},
		{NewPipelineStateError("demo", "apply", "BUILT"), ErrPipelineState},
	}
	all := []error{ErrConfiguration, ErrUnknownOperation, ErrOptimization, ErrTransform, ErrPipelineState}
	for _, tc := range cases {
		wrapped := fmt.Errorf("step X: %w", tc.err)
		for _, s := range all {
			assert.Equal(t, s == tc.sentinel, Is(wrapped, s), "%v vs %v", tc.err, s)
		}
	}
}

func TestMessages(t *testing.T) {
	assert.Equal(t, `Cropper: bad span (key "z_range")`, NewConfigurationError("Cropper", "z_range", "bad span").Error())
	assert.Equal(t, "Registrator: expected 3 shifts, got 2", NewTransformError("Registrator", "expected %d shifts, got %d", 3, 2).Error())
	assert.Equal(t, `pipeline "demo": apply not allowed in state BUILT`, NewPipelineStateError("demo", "apply", "BUILT").Error())
	assert.Equal(t, "Destriper: all 4 candidates failed: last error: EOF", NewOptimizationError("Destriper", 4, io.EOF).Error())
}

func TestWrappedCauseIsReachable(t *testing.T) {
	err := WrapConfigurationError("Flatter", io.ErrUnexpectedEOF)
	assert.True(t, Is(err, io.ErrUnexpectedEOF))

	var cfgErr *ConfigurationError
	require.True(t, As(fmt.Errorf("outer: %w", err), &cfgErr))
	assert.Equal(t, "Flatter", cfgErr.Operation)

	assert.True(t, Is(WrapTransformError("Cropper", io.EOF), io.EOF))
}
