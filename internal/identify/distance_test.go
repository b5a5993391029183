package identify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceProperties(t *testing.T) {
	vectors := []Embedding{
		{0, 0, 0},
		{1, 0, 0},
		{0.3, -0.2, 0.9},
		{-1, 2.5, 0.25},
	}
	for _, m := range []Metric{MetricEuclidean, MetricCosine} {
		t.Run(m.String(), func(t *testing.T) {
			for _, a := range vectors {
				self, err := m.Distance(a, a)
				require.NoError(t, err)
				assert.InDelta(t, 0, self, 1e-9)

				for _, b := range vectors {
					ab, err := m.Distance(a, b)
					require.NoError(t, err)
					ba, err := m.Distance(b, a)
					require.NoError(t, err)
					assert.Equal(t, ab, ba)
					assert.GreaterOrEqual(t, ab, 0.0)
				}
			}
		})
	}
}

func TestEuclideanDistanceValue(t *testing.T) {
	d, err := MetricEuclidean.Distance(Embedding{0, 0}, Embedding{3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 5.0, d, 1e-9)
}

func TestCosineDistanceValue(t *testing.T) {
	d, err := MetricCosine.Distance(Embedding{1, 0}, Embedding{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, d, 1e-9)

	d, err = MetricCosine.Distance(Embedding{1, 0}, Embedding{-2, 0})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, d, 1e-9)
}

func TestDistanceDimensionMismatch(t *testing.T) {
	_, err := MetricEuclidean.Distance(Embedding{1, 2}, Embedding{1, 2, 3})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	var dm *DimensionMismatchError
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 2, dm.Want)
	assert.Equal(t, 3, dm.Got)
}

func TestParseMetric(t *testing.T) {
	tests := []struct {
		in      string
		want    Metric
		wantErr bool
	}{
		{"", MetricEuclidean, false},
		{"euclidean", MetricEuclidean, false},
		{"L2", MetricEuclidean, false},
		{" Cosine ", MetricCosine, false},
		{"manhattan", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMetric(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize(t *testing.T) {
	v := Embedding{3, 4}
	Normalize(v)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := Embedding{0, 0}
	Normalize(zero)
	assert.Equal(t, Embedding{0, 0}, zero)
}
