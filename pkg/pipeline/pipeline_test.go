package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"bmiptools/pkg/errors"
	"bmiptools/pkg/plugin"
	"bmiptools/pkg/registry"
	"bmiptools/pkg/stack"
	"bmiptools/pkg/transform"
)

func ramp(t *testing.T, slices, height, width int) *stack.Stack {
	t.Helper()
	s, err := stack.New(slices, height, width)
	require.NoError(t, err)
	for z := 0; z < slices; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				s.Set(z, y, x, float64(z*10000+y*100+x))
			}
		}
	}
	return s
}

func cropBox() plugin.Dictionary {
	return plugin.Dictionary{"y_range": []any{20, 40}, "x_range": []any{20, 40}}
}

func TestBuildUnknownOperation(t *testing.T) {
	_, err := New(registry.Default(), []string{"Cropper", "Sharpener"}, t.TempDir(), "p")
	assert.True(t, errors.Is(err, errors.ErrUnknownOperation))
}

func TestApplyBeforeInitialize(t *testing.T) {
	p, err := New(registry.Default(), []string{"Cropper"}, t.TempDir(), "p")
	require.NoError(t, err)
	assert.Equal(t, Built, p.State())

	err = p.Apply(context.Background(), ramp(t, 1, 4, 4))
	var stateErr *errors.PipelineStateError
	require.True(t, errors.As(err, &stateErr))
	assert.Equal(t, "BUILT", stateErr.State)

	_, err = p.Save()
	assert.True(t, errors.Is(err, errors.ErrPipelineState))
}

func TestStepKeysAndIndependentDuplicates(t *testing.T) {
	p, err := New(registry.Default(), []string{"Cropper", "Standardizer", "Cropper", "Cropper"}, t.TempDir(), "")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(p.Name(), "pipeline_"))
	assert.Len(t, p.Name(), len("pipeline_")+8)

	want := []StepInfo{
		{Key: "Cropper", Operation: "Cropper"},
		{Key: "Standardizer", Operation: "Standardizer"},
		{Key: "Cropper_1", Operation: "Cropper"},
		{Key: "Cropper_2", Operation: "Cropper"},
	}
	if diff := cmp.Diff(want, p.Steps()); diff != "" {
		t.Errorf("steps mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, p.Initialize(Overrides(map[string]plugin.Dictionary{"Cropper_1": cropBox()})))
	first, _ := p.Plugin("Cropper")
	second, _ := p.Plugin("Cropper_1")
	assert.NotSame(t, first, second)
	assert.NotEqual(t, first.Configuration(), second.Configuration())
}

func TestCropThenStandardize(t *testing.T) {
	p, err := New(registry.Default(), []string{"Cropper", "Standardizer"}, t.TempDir(), "scenario")
	require.NoError(t, err)
	require.NoError(t, p.Initialize(Overrides(map[string]plugin.Dictionary{"Cropper": cropBox()})))

	s := ramp(t, 3, 50, 60)
	crop, err := s.Region(stack.Full(), stack.NewSpan(20, 40), stack.NewSpan(20, 40))
	require.NoError(t, err)
	mean, std := stat.PopMeanStdDev(crop.Data(), nil)

	require.NoError(t, p.Apply(context.Background(), s))
	assert.Equal(t, Applied, p.State())
	assert.Equal(t, stack.Shape{Slices: 3, Height: 20, Width: 20}, s.Shape())
	for i, v := range crop.Data() {
		require.InDelta(t, (v-mean)/std, s.Data()[i], 1e-9)
	}
}

func TestOrderMatters(t *testing.T) {
	run := func(ops []string) *stack.Stack {
		p, err := New(registry.Default(), ops, t.TempDir(), "order")
		require.NoError(t, err)
		require.NoError(t, p.Initialize(Overrides(map[string]plugin.Dictionary{"Cropper": cropBox()})))
		s := ramp(t, 2, 50, 50)
		require.NoError(t, p.Apply(context.Background(), s))
		return s
	}
	a := run([]string{"Cropper", "Standardizer"})
	b := run([]string{"Standardizer", "Cropper"})
	assert.Equal(t, a.Shape(), b.Shape())
	assert.False(t, a.Equal(b))
}

func TestApplyTwiceNeedsInitialize(t *testing.T) {
	p, err := New(registry.Default(), []string{"Standardizer"}, t.TempDir(), "twice")
	require.NoError(t, err)
	require.NoError(t, p.Initialize(Defaults()))
	require.NoError(t, p.Apply(context.Background(), ramp(t, 1, 4, 4)))

	err = p.Apply(context.Background(), ramp(t, 1, 4, 4))
	assert.True(t, errors.Is(err, errors.ErrPipelineState))

	require.NoError(t, p.Initialize(Defaults()))
	assert.Equal(t, Initialized, p.State())
	require.NoError(t, p.Apply(context.Background(), ramp(t, 1, 4, 4)))
}

func TestApplyErrorNamesStep(t *testing.T) {
	p, err := New(registry.Default(), []string{"Standardizer", "Cropper"}, t.TempDir(), "fail")
	require.NoError(t, err)
	require.NoError(t, p.Initialize(Overrides(map[string]plugin.Dictionary{
		"Cropper": {"x_range": []any{100, 200}},
	})))

	s := ramp(t, 2, 8, 8)
	err = p.Apply(context.Background(), s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTransform))
	assert.Contains(t, err.Error(), "step Cropper")
	assert.Equal(t, Initialized, p.State())

	// The standardizer ran before the failure; nothing is rolled back.
	mean, _ := stat.PopMeanStdDev(s.Data(), nil)
	assert.InDelta(t, 0, mean, 1e-9)
}

func TestInitializeRejectsBadConfiguration(t *testing.T) {
	p, err := New(registry.Default(), []string{"Cropper"}, t.TempDir(), "bad")
	require.NoError(t, err)

	err = p.Initialize(Overrides(map[string]plugin.Dictionary{"Cropper_1": {}}))
	assert.True(t, errors.Is(err, errors.ErrConfiguration))

	err = p.Initialize(Overrides(map[string]plugin.Dictionary{"Cropper": {"z_rnage": []any{0, 1}}}))
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
	assert.Equal(t, Built, p.State())
}

func TestFailedReinitializeKeepsConfiguration(t *testing.T) {
	p, err := New(registry.Default(), []string{"Cropper", "Standardizer"}, t.TempDir(), "reinit")
	require.NoError(t, err)
	require.NoError(t, p.Initialize(Overrides(map[string]plugin.Dictionary{"Cropper": cropBox()})))
	cropper, _ := p.Plugin("Cropper")
	before := cropper.Configuration()

	err = p.Initialize(Overrides(map[string]plugin.Dictionary{
		"Standardizer": {"standardization_type": "bogus"},
	}))
	require.True(t, errors.Is(err, errors.ErrConfiguration))
	assert.Equal(t, Initialized, p.State())

	cropper, _ = p.Plugin("Cropper")
	if diff := cmp.Diff(before, cropper.Configuration()); diff != "" {
		t.Errorf("failed initialize changed the configuration (-want +got):\n%s", diff)
	}

	s := ramp(t, 2, 60, 60)
	require.NoError(t, p.Apply(context.Background(), s))
	assert.Equal(t, stack.Shape{Slices: 2, Height: 20, Width: 20}, s.Shape())
}

func TestProgressReachesOptimizableSteps(t *testing.T) {
	var done, total int
	var last string
	p, err := New(registry.Default(), []string{"Flatter"}, t.TempDir(), "progress",
		WithProgress(func(d, n int, msg string) { done, total, last = d, n, msg }))
	require.NoError(t, err)
	require.NoError(t, p.Initialize(Overrides(map[string]plugin.Dictionary{
		"Flatter": {"optimization_setting": map[string]any{
			"sigma_min": 1, "sigma_max": 3, "sigma_step": 1,
			"opt_bounding_box": map[string]any{"use_bounding_box": false},
		}},
	})))

	require.NoError(t, p.Apply(context.Background(), ramp(t, 1, 16, 16)))
	assert.Equal(t, 2, done)
	assert.Equal(t, 2, total)
	assert.True(t, strings.HasPrefix(last, "Flatter: best sigma="), last)
}

func assertEquivalent(t *testing.T, want, got *Pipeline) {
	t.Helper()
	assert.Equal(t, want.Name(), got.Name())
	assert.Equal(t, want.Folder(), got.Folder())
	assert.Equal(t, want.Operations(), got.Operations())
	assert.Equal(t, want.RunID(), got.RunID())
	require.Equal(t, want.Steps(), got.Steps())
	for _, s := range want.Steps() {
		a, _ := want.Plugin(s.Key)
		b, _ := got.Plugin(s.Key)
		if diff := cmp.Diff(a.Configuration(), b.Configuration()); diff != "" {
			t.Errorf("step %s configuration mismatch (-saved +loaded):\n%s", s.Key, diff)
		}
	}
}

func TestSaveLoadEveryOperation(t *testing.T) {
	reg := registry.Default()
	for _, name := range reg.Names() {
		t.Run(name, func(t *testing.T) {
			folder := t.TempDir()
			p, err := New(reg, []string{name, name}, folder, "roundtrip_"+strings.ToLower(name))
			require.NoError(t, err)
			require.NoError(t, p.Initialize(Defaults()))

			path, err := p.Save()
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(folder, p.Name(), "pipeline__"+p.Name()+".bin"), path)
			assert.FileExists(t, filepath.Join(folder, p.Name(), "pipeline__"+p.Name()+".json"))

			loaded, err := Load(reg, path)
			require.NoError(t, err)
			assert.Equal(t, Loaded, loaded.State())
			assertEquivalent(t, p, loaded)
		})
	}
}

func TestSaveLoadAllOperationsWithOverrides(t *testing.T) {
	reg := registry.Default()
	p, err := New(reg, reg.Names(), t.TempDir(), "all")
	require.NoError(t, err)
	require.NoError(t, p.Initialize(Overrides(map[string]plugin.Dictionary{
		"Cropper":   cropBox(),
		"Destriper": {"transformation_parameters": map[string]any{"sigma": 7.5}},
		"Denoiser":  {"auto_optimize": false},
	})))
	denoiser, _ := p.Plugin("Denoiser")
	require.NoError(t, denoiser.Set("optimization_setting.fit_step", 3))

	path, err := p.Save()
	require.NoError(t, err)
	loaded, err := Load(reg, path)
	require.NoError(t, err)
	assertEquivalent(t, p, loaded)

	summary, err := readSummary(strings.TrimSuffix(path, ".bin") + ".json")
	require.NoError(t, err)
	if diff := cmp.Diff(p.Summary(), summary); diff != "" {
		t.Errorf("summary mismatch (-live +file):\n%s", diff)
	}
}

func registrationStack(t *testing.T) *stack.Stack {
	t.Helper()
	rng := rand.New(rand.NewSource(3))
	s, err := stack.New(3, 32, 32)
	require.NoError(t, err)
	base := make([]float64, 32*32)
	for i := range base {
		base[i] = rng.Float64()
	}
	for z := 0; z < 3; z++ {
		for y := 0; y < 32; y++ {
			for x := 0; x < 32; x++ {
				sy := ((y-2*z)%32 + 32) % 32
				s.Set(z, y, x, base[sy*32+x])
			}
		}
	}
	return s
}

func TestFitStepSharesPlugin(t *testing.T) {
	reg := registry.Default()
	p, err := New(reg, []string{"fit_Registrator", "Standardizer", "Registrator"}, t.TempDir(), "fit")
	require.NoError(t, err)

	steps := p.Steps()
	assert.Equal(t, StepInfo{Key: "fit_Registrator", Operation: "Registrator", Fit: true}, steps[0])
	fit, _ := p.Plugin("fit_Registrator")
	apply, _ := p.Plugin("Registrator")
	assert.Same(t, fit, apply)

	require.NoError(t, p.Initialize(Overrides(map[string]plugin.Dictionary{
		"Registrator": {"opt_bounding_box": map[string]any{"use_bounding_box": false}},
	})))
	fit, _ = p.Plugin("fit_Registrator")
	use, _ := fit.Configuration().Lookup("opt_bounding_box.use_bounding_box")
	assert.Equal(t, false, use)

	require.NoError(t, p.Apply(context.Background(), registrationStack(t)))
	reg8r := fit.(*transform.Registrator)
	require.True(t, reg8r.Fitted())
	assert.Equal(t, []transform.SliceShift{{DY: 0, DX: 0}, {DY: -2, DX: 0}, {DY: -4, DX: 0}}, reg8r.Shifts())

	path, err := p.Save()
	require.NoError(t, err)
	loaded, err := Load(reg, path)
	require.NoError(t, err)
	assertEquivalent(t, p, loaded)

	lf, _ := loaded.Plugin("fit_Registrator")
	la, _ := loaded.Plugin("Registrator")
	assert.Same(t, lf, la)
	assert.True(t, la.(*transform.Registrator).Fitted())
	assert.Equal(t, reg8r.Shifts(), la.(*transform.Registrator).Shifts())
}

func TestFitStepValidation(t *testing.T) {
	_, err := New(registry.Default(), []string{"fit_Cropper", "Cropper"}, t.TempDir(), "x")
	assert.True(t, errors.Is(err, errors.ErrConfiguration))

	_, err = New(registry.Default(), []string{"Registrator", "fit_Registrator"}, t.TempDir(), "x")
	assert.True(t, errors.Is(err, errors.ErrConfiguration))

	_, err = New(registry.Default(), []string{"fit_Sharpener", "Sharpener"}, t.TempDir(), "x")
	assert.True(t, errors.Is(err, errors.ErrUnknownOperation))
}

func TestTemplateAndFromFile(t *testing.T) {
	dir := t.TempDir()
	p, err := New(registry.Default(), []string{"Cropper", "Standardizer"}, dir, "file")
	require.NoError(t, err)

	path := filepath.Join(dir, "template.json")
	require.NoError(t, p.Template(path))

	var sum Summary
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &sum))
	sum.Steps[0].Configuration["y_range"] = []any{20, 40}
	sum.Steps[1].Configuration["standardization_type"] = "0/1"
	data, err = json.Marshal(sum)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	require.NoError(t, p.Initialize(FromFile(path)))
	crop, _ := p.Plugin("Cropper")
	v, _ := crop.Configuration().Lookup("y_range")
	assert.Equal(t, []any{20.0, 40.0}, v)
	std, _ := p.Plugin("Standardizer")
	assert.Equal(t, "0/1", std.(*transform.Standardizer).Config.Type)

	other, err := New(registry.Default(), []string{"Standardizer"}, dir, "other")
	require.NoError(t, err)
	err = other.Initialize(FromFile(path))
	assert.True(t, errors.Is(err, errors.ErrConfiguration))

	err = other.Initialize(FromFile(filepath.Join(dir, "missing.json")))
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
}

func TestInteractive(t *testing.T) {
	dir := t.TempDir()
	p, err := New(registry.Default(), []string{"Equalizer"}, dir, "interactive")
	require.NoError(t, err)

	var out bytes.Buffer
	path := filepath.Join(dir, "edit.json")
	require.NoError(t, p.Initialize(Interactive(strings.NewReader("\n"), &out, path)))
	assert.Contains(t, out.String(), path)
	assert.FileExists(t, path)
	assert.Equal(t, Initialized, p.State())

	eq, _ := p.Plugin("Equalizer")
	assert.Equal(t, eq.DefaultConfiguration(), eq.Configuration())
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "future.bin")
	require.NoError(t, writeSnapshot(path, snapshot{Version: SnapshotVersion + 1, Name: "future", Operations: []string{"Cropper"}}))

	_, err := Load(registry.Default(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported version")

	require.NoError(t, os.WriteFile(path, []byte("not a snapshot"), 0o644))
	_, err = Load(registry.Default(), path)
	assert.Error(t, err)
}

func TestSaveRefusesLockedFolder(t *testing.T) {
	p, err := New(registry.Default(), []string{"Cropper"}, t.TempDir(), "locked")
	require.NoError(t, err)
	require.NoError(t, p.Initialize(Defaults()))
	require.NoError(t, os.MkdirAll(p.Dir(), 0o755))

	held := flock.New(filepath.Join(p.Dir(), lockFile))
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)

	_, err = p.Save()
	assert.ErrorContains(t, err, "another process")

	require.NoError(t, held.Unlock())
	_, err = p.Save()
	assert.NoError(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "LOADED", Loaded.String())
	assert.Equal(t, "State(9)", State(9).String())
}
