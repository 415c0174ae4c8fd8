package app

import (
	"context"
	"strings"

	"lmerkit/domain/lmer"
	"lmerkit/internal/errors"
	"lmerkit/ports"
)

// Route names understood by SinkRouter
const (
	RouteWorkbook = "workbook"
	RouteSQL      = "sql"
)

// SinkRouter dispatches saves and loads by target: .xlsx paths go to the
// workbook store; .db/.sqlite/.sqlite3 files and postgres:// DSNs to the SQL store
type SinkRouter struct {
	stores map[string]ports.TableStore
}

var _ ports.TableStore = (*SinkRouter)(nil)

// NewSinkRouter creates a router; either store may be nil to disable its route
func NewSinkRouter(workbook, sql ports.TableStore) *SinkRouter {
	r := &SinkRouter{stores: make(map[string]ports.TableStore)}
	if workbook != nil {
		r.stores[RouteWorkbook] = workbook
	}
	if sql != nil {
		r.stores[RouteSQL] = sql
	}
	return r
}

// RouteOf returns the route a target resolves to
func RouteOf(target lmer.Target) (string, error) {
	if strings.HasPrefix(target.Path, "postgres://") || strings.HasPrefix(target.Path, "postgresql://") {
		return RouteSQL, nil
	}
	switch target.Ext() {
	case ".xlsx":
		return RouteWorkbook, nil
	case ".db", ".sqlite", ".sqlite3":
		return RouteSQL, nil
	}
	return "", errors.InvalidInputf("cannot tell how to store %q: use .xlsx, .db, .sqlite or a postgres:// DSN", target.Path)
}

func (r *SinkRouter) store(target lmer.Target) (ports.TableStore, error) {
	if err := target.Validate(); err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, err)
	}
	route, err := RouteOf(target)
	if err != nil {
		return nil, err
	}
	s, ok := r.stores[route]
	if !ok {
		return nil, errors.InvalidInputf("no %s store configured for %s", route, target)
	}
	return s, nil
}

// Save persists table to the store selected by target
func (r *SinkRouter) Save(ctx context.Context, target lmer.Target, table *lmer.CoefTable) error {
	s, err := r.store(target)
	if err != nil {
		return err
	}
	if err := s.Save(ctx, target, table); err != nil {
		return errors.PersistenceError(target.String(), err)
	}
	return nil
}

// Load reads a table back from the store selected by target
func (r *SinkRouter) Load(ctx context.Context, target lmer.Target) (*lmer.CoefTable, error) {
	s, err := r.store(target)
	if err != nil {
		return nil, err
	}
	table, err := s.Load(ctx, target)
	if err != nil {
		return nil, errors.Wrapf(err, "load from %s failed", target)
	}
	return table, nil
}
