package ports

import (
	"context"

	"lmerkit/domain/epochs"
	"lmerkit/domain/lmer"
)

// TableSink persists an aggregated coefficient table under a target group
type TableSink interface {
	Save(ctx context.Context, target lmer.Target, table *lmer.CoefTable) error
}

// TableSource reads a previously saved coefficient table back
type TableSource interface {
	Load(ctx context.Context, target lmer.Target) (*lmer.CoefTable, error)
}

// FrameReader loads the flat table epochs are built from
type FrameReader interface {
	ReadFrame(ctx context.Context, path string) (*epochs.Frame, error)
}

// TableStore both saves and loads coefficient tables
type TableStore interface {
	TableSink
	TableSource
}
