package epochs

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallFrame(t *testing.T) *Frame {
	t.Helper()
	f, err := NewFrame(
		[]string{"epoch_id", "time", "sub_id", "x", "MiPf"},
		[][]string{
			{"1", "0", "s1", "0.5", "1.0"},
			{"1", "4", "s1", "0.5", "1.5"},
			{"2", "0", "s2", "1.5", "2.0"},
			{"2", "4", "s2", "1.5", "2.5"},
			{"3", "4", "s1", "2.5", "3.5"},
			{"3", "0", "s1", "2.5", "3.0"},
		},
	)
	require.NoError(t, err)
	return f
}

func TestFromFrame(t *testing.T) {
	e, err := FromFrame(smallFrame(t), "time", "epoch_id", []string{"MiPf"})
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 4}, e.Times())
	assert.Equal(t, []string{"1", "2", "3"}, e.EpochIDs())
	assert.Equal(t, []int{0, 2, 5}, e.RowsAt(0))

	levels, err := e.Levels("sub_id")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, levels)
}

func TestWithout(t *testing.T) {
	e, err := FromFrame(smallFrame(t), "time", "epoch_id", []string{"MiPf"})
	require.NoError(t, err)

	reduced, err := e.Without("sub_id", "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, reduced.EpochIDs())
	assert.Equal(t, 2, reduced.Frame.Len())
	assert.Equal(t, 6, e.Frame.Len(), "original frame untouched")

	_, err = e.Without("nope", "s1")
	assert.Error(t, err)
}

func TestFromFrameRejectsRaggedEpochs(t *testing.T) {
	f, err := NewFrame(
		[]string{"epoch_id", "time", "MiPf"},
		[][]string{
			{"1", "0", "1"},
			{"1", "4", "1"},
			{"2", "0", "1"},
		},
	)
	require.NoError(t, err)

	_, err = FromFrame(f, "time", "epoch_id", []string{"MiPf"})
	assert.ErrorContains(t, err, "time stamps")
}

func TestFromFrameRejectsBadColumns(t *testing.T) {
	f := smallFrame(t)

	_, err := FromFrame(f, "time", "epoch_id", []string{"missing"})
	assert.Error(t, err)

	_, err = FromFrame(f, "time", "epoch_id", []string{"sub_id"})
	assert.ErrorContains(t, err, "not numeric")

	_, err = FromFrame(f, "time", "epoch_id", nil)
	assert.Error(t, err)
}

func TestFrameBasics(t *testing.T) {
	_, err := NewFrame([]string{"a", "a"}, nil)
	assert.Error(t, err)

	_, err = NewFrame([]string{"a", "b"}, [][]string{{"1"}})
	assert.Error(t, err)

	f, err := NewFrame([]string{" a ", "b"}, [][]string{{"1", "x"}})
	require.NoError(t, err)
	assert.True(t, f.Has("a"))
	assert.Equal(t, 1.0, f.Float(0, "a"))
	assert.True(t, math.IsNaN(f.Float(0, "b")))
	assert.Equal(t, -1, f.ColumnIndex("c"))
}
