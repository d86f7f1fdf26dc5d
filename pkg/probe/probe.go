// Package probe runs the startup checks of the server.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultTimeout bounds a single check when the probe sets none.
const DefaultTimeout = 5 * time.Second

// ErrNoBuildings indicates an empty building dataset.
var ErrNoBuildings = errors.New("building dataset is empty")

// CheckFunc is a function that performs a health check.
// It returns nil if the check passes, or an error if it fails.
type CheckFunc func(ctx context.Context) error

// Probe represents a single startup check.
type Probe struct {
	Name     string
	Check    CheckFunc
	Critical bool // A failure prevents startup
	Timeout  time.Duration
}

// Result holds the outcome of a single probe.
type Result struct {
	Probe    Probe
	Error    error
	Duration time.Duration
}

// Run executes the probes in order, each under its own timeout.
func Run(ctx context.Context, probes []Probe) []Result {
	results := make([]Result, len(probes))

	for i, p := range probes {
		timeout := p.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}

		start := time.Now()
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		err := p.Check(checkCtx)
		cancel()

		results[i] = Result{Probe: p, Error: err, Duration: time.Since(start)}
	}
	return results
}

// AnalyzeResults logs a summary line per probe and returns the joined errors
// of the critical probes that failed.
func AnalyzeResults(logger *slog.Logger, results []Result) error {
	if logger == nil {
		logger = slog.Default()
	}
	var criticalErrors []error

	logger.Info("Startup Checks Summary")
	for _, r := range results {
		status := "PASS"
		if r.Error != nil {
			status = "FAIL"
		}
		msg := fmt.Sprintf("[%s] %-20s (%v)", status, r.Probe.Name, r.Duration.Round(time.Millisecond))

		switch {
		case r.Error == nil:
			logger.Info(msg)
		case r.Probe.Critical:
			logger.Error(msg, "error", r.Error)
			criticalErrors = append(criticalErrors, fmt.Errorf("%s: %w", r.Probe.Name, r.Error))
		default:
			logger.Warn(msg, "error", r.Error)
		}
	}

	return errors.Join(criticalErrors...)
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Database is the critical database reachability probe.
func Database(db Pinger) Probe {
	return Probe{
		Name:     "Database",
		Critical: true,
		Check:    db.PingContext,
	}
}

// BuildingCounter reports the size of the building dataset.
type BuildingCounter interface {
	CountBuildings(ctx context.Context) (int, error)
}

// Buildings warns when no buildings are loaded. The analysis still runs, but
// no occlusion will ever be found.
func Buildings(c BuildingCounter) Probe {
	return Probe{
		Name: "Building dataset",
		Check: func(ctx context.Context) error {
			n, err := c.CountBuildings(ctx)
			if err != nil {
				return err
			}
			if n == 0 {
				return ErrNoBuildings
			}
			return nil
		},
	}
}
