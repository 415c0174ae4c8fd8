package sqlstore

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"lmerkit/domain/core"
	"lmerkit/domain/lmer"
	"lmerkit/internal"
	"lmerkit/internal/errors"
	"lmerkit/internal/migration"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return NewStore(internal.NewLogger(internal.LogLevelError))
}

func coefTable(t *testing.T, scale float64) *lmer.CoefTable {
	t.Helper()
	tbl := lmer.NewCoefTable([]string{"MiPf", "MiCe", "MiOc"})
	require.NoError(t, tbl.Append(
		lmer.Row{Time: -100, Model: "cloze", Param: "(Intercept)", Key: lmer.KeyEstimate, Values: []float64{scale, 2 * scale, math.NaN()}},
		lmer.Row{Time: -100, Model: "cloze", Param: "(Intercept)", Key: lmer.KeyHasWarning, Values: []float64{0, 1, math.NaN()}},
		lmer.Row{Time: 0, Model: "cloze", Param: "cloze", Key: lmer.KeyPValue, Values: []float64{0.01, 0.5, 1e-12}},
	))
	return tbl
}

func TestStoreRoundTripSQLite(t *testing.T) {
	ctx := context.Background()
	target := lmer.Target{Path: filepath.Join(t.TempDir(), "coefs.db"), Group: "lmer_coefs"}
	store := newTestStore()

	want := coefTable(t, 1)
	require.NoError(t, store.Save(ctx, target, want))

	got, err := store.Load(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, want.Channels, got.Channels)
	require.Len(t, got.Rows, len(want.Rows))
	for i, w := range want.Rows {
		g := got.Rows[i]
		assert.Equal(t, w.Time, g.Time)
		assert.Equal(t, w.Model+w.Param+string(w.Key), g.Model+g.Param+string(g.Key))
		for j, v := range w.Values {
			if math.IsNaN(v) {
				assert.True(t, math.IsNaN(g.Values[j]), "NULL reads back as NaN")
			} else {
				assert.Equal(t, v, g.Values[j])
			}
		}
	}
}

func TestStoreLoadReturnsLatestRun(t *testing.T) {
	ctx := context.Background()
	target := lmer.Target{Path: filepath.Join(t.TempDir(), "coefs.sqlite"), Group: "coefs"}
	store := newTestStore()

	require.NoError(t, store.Save(ctx, target, coefTable(t, 1)))
	runID := core.NewRunID()
	require.NoError(t, store.Save(core.ContextWithRunID(ctx, runID), target, coefTable(t, 7)))

	got, err := store.Load(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, 7.0, got.Rows[0].Values[0])

	db, err := Open(ctx, target.Path)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.GetContext(ctx, &n, `SELECT COUNT(*) FROM lmer_runs WHERE run_id = ?`, runID.String()))
	assert.Equal(t, 1, n, "the context run id tags the saved run")
}

func TestStoreRejectsBadTableName(t *testing.T) {
	target := lmer.Target{Path: filepath.Join(t.TempDir(), "coefs.db"), Group: "coefs; DROP TABLE x"}
	err := newTestStore().Save(context.Background(), target, coefTable(t, 1))
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))

	_, err = newTestStore().Load(context.Background(), target)
	assert.Error(t, err)
}

func TestStoreLoadMissingTable(t *testing.T) {
	ctx := context.Background()
	target := lmer.Target{Path: filepath.Join(t.TempDir(), "coefs.db"), Group: "coefs"}
	require.NoError(t, newTestStore().Save(ctx, target, coefTable(t, 1)))

	_, err := newTestStore().Load(ctx, lmer.Target{Path: target.Path, Group: "other"})
	assert.Error(t, err)
}

func TestIsPostgresDSN(t *testing.T) {
	assert.True(t, IsPostgresDSN("postgres://u@db/eeg"))
	assert.True(t, IsPostgresDSN("postgresql://u@db/eeg"))
	assert.False(t, IsPostgresDSN("coefs.db"))
}

func TestValidTableName(t *testing.T) {
	assert.True(t, migration.ValidTableName("lmer_coefs"))
	assert.False(t, migration.ValidTableName("1coefs"))
	assert.False(t, migration.ValidTableName(migration.RunsTable))
}

func TestStoreRoundTripNonFiniteValues(t *testing.T) {
	ctx := context.Background()
	target := lmer.Target{Path: filepath.Join(t.TempDir(), "coefs.db"), Group: "aics"}
	store := newTestStore()

	want := lmer.NewCoefTable([]string{"MiPf", "MiCe", "MiOc"})
	require.NoError(t, want.Append(
		lmer.Row{Time: 0, Model: "x", Param: "(Intercept)", Key: lmer.KeyAIC, Values: []float64{math.Inf(-1), math.Inf(1), math.NaN()}},
		lmer.Row{Time: 0, Model: "x", Param: "(Intercept)", Key: lmer.KeyEstimate, Values: []float64{1.5, 0, -2}},
	))
	require.NoError(t, store.Save(ctx, target, want))

	got, err := store.Load(ctx, target)
	require.NoError(t, err)
	require.Len(t, got.Rows, 2)
	aic := got.Rows[0].Values
	assert.True(t, math.IsInf(aic[0], -1))
	assert.True(t, math.IsInf(aic[1], 1))
	assert.True(t, math.IsNaN(aic[2]))
	assert.Equal(t, []float64{1.5, 0, -2}, got.Rows[1].Values)

	db, err := Open(ctx, target.Path)
	require.NoError(t, err)
	defer db.Close()
	var numeric int
	require.NoError(t, db.GetContext(ctx, &numeric, `SELECT COUNT(*) FROM aics WHERE stat_key = 'AIC' AND value IS NOT NULL`))
	assert.Equal(t, 0, numeric, "infinities are never written to the numeric column")
}
