package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bmiptools/pkg/errors"
	"bmiptools/pkg/plugin"
	"bmiptools/pkg/transform"
)

func TestDefaultRegistry(t *testing.T) {
	r := Default()
	assert.Same(t, r, Default())
	assert.Equal(t, []string{
		"Affine", "Cropper", "Decharger", "Denoiser", "Destriper",
		"Equalizer", "Flatter", "HistogramMatcher", "Registrator", "Standardizer",
	}, r.Names())

	e, err := r.Lookup(transform.NameRegistrator)
	require.NoError(t, err)
	assert.True(t, e.Fitter)

	e, err = r.Lookup(transform.NameCropper)
	require.NoError(t, err)
	assert.False(t, e.Fitter)
	assert.Contains(t, e.Default, "y_range")
}

func TestLookupUnknown(t *testing.T) {
	_, err := Default().Lookup("Sharpener")
	assert.True(t, errors.Is(err, errors.ErrUnknownOperation))

	_, err = Default().Build("Sharpener", nil)
	assert.True(t, errors.Is(err, errors.ErrUnknownOperation))
}

func TestLookupReturnsPrivateDefaults(t *testing.T) {
	e, err := Default().Lookup(transform.NameStandardizer)
	require.NoError(t, err)
	e.Default["standardization_type"] = "0/1"

	again, err := Default().Lookup(transform.NameStandardizer)
	require.NoError(t, err)
	assert.Equal(t, "mean/std", again.Default["standardization_type"])
}

// Any configuration accepted by a constructor only uses keys of the default
// template, and every default template is accepted as is.
func TestDefaultTemplateIsSuperset(t *testing.T) {
	r := Default()
	for _, name := range r.Names() {
		e, err := r.Lookup(name)
		require.NoError(t, err)

		p, err := e.New(e.Default)
		require.NoError(t, err, name)
		assert.Equal(t, e.Default.Paths(), p.Configuration().Paths(), name)

		bogus := e.Default.Merge(plugin.Dictionary{"not_a_key": 1})
		_, err = e.New(bogus)
		assert.True(t, errors.Is(err, errors.ErrConfiguration), name)
	}
}

// Changing one leaf through Set changes exactly that leaf.
func TestSingleFieldMutation(t *testing.T) {
	r := Default()
	for _, name := range r.Names() {
		p, err := r.Build(name, nil)
		require.NoError(t, err)
		before := p.Configuration()

		for _, path := range before.Paths() {
			v, _ := before.Lookup(path)
			b, ok := v.(bool)
			if !ok {
				continue
			}
			require.NoError(t, p.Set(path, !b), "%s %s", name, path)
			after := p.Configuration()
			for _, other := range before.Paths() {
				want, _ := before.Lookup(other)
				got, _ := after.Lookup(other)
				if other == path {
					assert.Equal(t, !b, got)
					continue
				}
				assert.Equal(t, want, got, "%s: %s changed when setting %s", name, other, path)
			}
			require.NoError(t, p.Set(path, b))
		}
	}
}

func TestNewRejectsMismatchedName(t *testing.T) {
	_, err := New(map[string]Constructor{"Crop": adapt(transform.NewCropper)})
	assert.Error(t, err)
}
