package formula

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMixedFormula(t *testing.T) {
	f, err := Parse("a_cloze_c + (a_cloze_c | sub_id) + (1 | m_item_id)")
	require.NoError(t, err)

	assert.True(t, f.Intercept)
	require.Len(t, f.Fixed, 1)
	assert.Equal(t, "a_cloze_c", f.Fixed[0].Name())
	require.Len(t, f.Random, 2)
	assert.Equal(t, RandomTerm{Expr: "a_cloze_c", Group: "sub_id"}, f.Random[0])
	assert.Equal(t, RandomTerm{Expr: "1", Group: "m_item_id"}, f.Random[1])
	assert.True(t, f.HasRandom())
	assert.Equal(t, []string{"a_cloze_c", "sub_id", "m_item_id"}, f.Columns())
}

func TestParseInterceptControl(t *testing.T) {
	tests := []struct {
		rhs       string
		intercept bool
		fixed     []string
	}{
		{"1", true, nil},
		{"x", true, []string{"x"}},
		{"0 + x", false, []string{"x"}},
		{"x + z - 1", false, []string{"x", "z"}},
		{"x + x:z", true, []string{"x", "x:z"}},
	}

	for _, tt := range tests {
		t.Run(tt.rhs, func(t *testing.T) {
			f, err := Parse(tt.rhs)
			require.NoError(t, err)
			assert.Equal(t, tt.intercept, f.Intercept)
			var names []string
			for _, term := range f.Fixed {
				names = append(names, term.Name())
			}
			assert.Equal(t, tt.fixed, names)
			assert.False(t, f.HasRandom())
		})
	}
}

func TestParseUncorrelatedRandom(t *testing.T) {
	f, err := Parse("x + (x || subject)")
	require.NoError(t, err)
	require.Len(t, f.Random, 1)
	assert.True(t, f.Random[0].Uncorrelated)
	assert.Equal(t, "subject", f.Random[0].Group)
}

func TestParseRejects(t *testing.T) {
	for _, rhs := range []string{
		"",
		"y ~ x",
		"x * z",
		"x + (1 | )",
		"x + (1 | s",
		"x - z",
		"x + + z",
	} {
		_, err := Parse(rhs)
		assert.Error(t, err, rhs)
	}
}
