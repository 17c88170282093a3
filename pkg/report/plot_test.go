package report

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bmiptools/pkg/optimizer"
)

func TestSaveLossPlot(t *testing.T) {
	res := &optimizer.Result{
		Best:      optimizer.Candidate{"sigma": 3.0},
		Loss:      0.2,
		Evaluated: 4,
		Failed:    1,
		Losses:    []float64{0.9, 0.2, math.NaN(), 0.5},
	}
	path := filepath.Join(t.TempDir(), "plots", "Destriper_loss.png")
	require.NoError(t, SaveLossPlot(path, "Destriper parameter search", res))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestSaveLossPlotWithoutCandidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loss.png")
	assert.Error(t, SaveLossPlot(path, "empty", nil))
	assert.Error(t, SaveLossPlot(path, "failed", &optimizer.Result{Losses: []float64{math.NaN()}}))
	assert.NoFileExists(t, path)
}
