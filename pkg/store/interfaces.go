package store

import (
	"context"
	"time"

	"billboardvis/pkg/model"

	"github.com/paulmach/orb"
)

// BuildingStore handles the building dataset.
type BuildingStore interface {
	SaveBuildings(ctx context.Context, buildings []model.Building) error
	ClearBuildings(ctx context.Context) error
	ListBuildings(ctx context.Context) ([]model.Building, error)
	BuildingsInBound(ctx context.Context, b orb.Bound) ([]model.Building, error)
	CountBuildings(ctx context.Context) (int, error)
}

// TraceStore handles GPS trace points.
type TraceStore interface {
	SaveTracePoints(ctx context.Context, points []model.TracePoint) error
	ClearTracePoints(ctx context.Context) error
	TracePointsInBound(ctx context.Context, b orb.Bound) ([]model.TracePoint, error)
}

// ResultStore keeps the rendered output of analysis stages per session.
type ResultStore interface {
	SaveStageResult(ctx context.Context, sessionID, stage string, data []byte) error
	GetStageResult(ctx context.Context, sessionID, stage string) ([]byte, bool, error)
	PruneStageResults(ctx context.Context, olderThan time.Duration) (int64, error)
}

// StateStore handles persistent application state.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
	DeleteState(ctx context.Context, key string) error
}
