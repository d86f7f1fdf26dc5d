package pipeline

import "errors"

var (
	// ErrNoBillboards indicates a stage run on a session without billboards.
	ErrNoBillboards = errors.New("no billboards")
	// ErrStageOrder indicates a stage run before the stage it depends on.
	ErrStageOrder = errors.New("stage called out of order")
	// ErrBuildingsUnavailable indicates the building dataset could not be loaded.
	ErrBuildingsUnavailable = errors.New("building source unavailable")
	// ErrStaleInput indicates a stage result dropped because its inputs were
	// replaced while it ran.
	ErrStaleInput = errors.New("stage inputs changed during run")
)
