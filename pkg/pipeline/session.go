package pipeline

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"billboardvis/pkg/model"
)

// Stage names one step of the analysis.
type Stage string

const (
	StageExposure  Stage = "gea"
	StageOcclusion Stage = "ia"
	StageVisible   Stage = "va"
)

// ParseStage validates a stage name.
func ParseStage(s string) (Stage, error) {
	switch Stage(s) {
	case StageExposure, StageOcclusion, StageVisible:
		return Stage(s), nil
	}
	return "", fmt.Errorf("unknown stage %q", s)
}

// ItemFailure records one billboard or building that produced no result.
type ItemFailure struct {
	Stage  Stage
	ItemID string
	Err    error
}

func (f ItemFailure) Error() string {
	return fmt.Sprintf("%s %s: %v", f.Stage, f.ItemID, f.Err)
}

func (f ItemFailure) Unwrap() error {
	return f.Err
}

// MarshalJSON renders the error as a message.
func (f ItemFailure) MarshalJSON() ([]byte, error) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return json.Marshal(struct {
		Stage  Stage  `json:"stage"`
		ItemID string `json:"item_id"`
		Error  string `json:"error"`
	}{f.Stage, f.ItemID, msg})
}

// StageReport summarises one stage run.
type StageReport struct {
	Stage      Stage         `json:"stage"`
	Items      int           `json:"items"`    // Inputs considered
	Produced   int           `json:"produced"` // Regions produced
	Failures   []ItemFailure `json:"failures,omitempty"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Session holds the billboards of one analysis and the output of every stage
// run so far. Setting billboards discards all stage outputs; re-running a
// stage discards the outputs of the stages after it.
//
// Each stage carries an input generation that advances whenever anything it
// depends on is replaced. A stage result computed from an older generation
// is dropped instead of stored.
type Session struct {
	ID string

	mu         sync.Mutex
	billboards []model.Billboard
	exposures  []model.ExposureRegion
	occlusions []model.OcclusionRegion
	visible    *model.VisibleRegion
	done       map[Stage]bool
	reports    map[Stage]StageReport
	gen        map[Stage]uint64
}

// NewSession creates an empty session.
func NewSession(id string) *Session {
	return &Session{
		ID:      id,
		done:    make(map[Stage]bool),
		reports: make(map[Stage]StageReport),
		gen:     make(map[Stage]uint64),
	}
}

// snapshot is a consistent copy of the inputs of one stage run.
type snapshot struct {
	billboards []model.Billboard
	exposures  []model.ExposureRegion
	occlusions []model.OcclusionRegion
	done       map[Stage]bool
	gen        uint64 // Input generation of the stage
}

func (s *Session) snapshot(stage Stage) snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	done := make(map[Stage]bool, len(s.done))
	for k, v := range s.done {
		done[k] = v
	}
	return snapshot{
		billboards: append([]model.Billboard(nil), s.billboards...),
		exposures:  append([]model.ExposureRegion(nil), s.exposures...),
		occlusions: append([]model.OcclusionRegion(nil), s.occlusions...),
		done:       done,
		gen:        s.gen[stage],
	}
}

// SetBillboards replaces the billboard set and resets every stage.
func (s *Session) SetBillboards(bbs []model.Billboard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.billboards = append([]model.Billboard(nil), bbs...)
	s.resetFrom(StageExposure)
}

// Billboards returns a copy of the billboard set.
func (s *Session) Billboards() []model.Billboard {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Billboard(nil), s.billboards...)
}

// Exposures returns the exposure regions and whether the stage has run.
func (s *Session) Exposures() ([]model.ExposureRegion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ExposureRegion(nil), s.exposures...), s.done[StageExposure]
}

// Occlusions returns the occlusion regions and whether the stage has run.
func (s *Session) Occlusions() ([]model.OcclusionRegion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.OcclusionRegion(nil), s.occlusions...), s.done[StageOcclusion]
}

// Visible returns the visible region, or nil if the stage has not run.
func (s *Session) Visible() *model.VisibleRegion {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.visible == nil {
		return nil
	}
	v := *s.visible
	return &v
}

// Reports returns the reports of the stages run so far.
func (s *Session) Reports() map[Stage]StageReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Stage]StageReport, len(s.reports))
	for k, v := range s.reports {
		out[k] = v
	}
	return out
}

// setExposures stores an exposure result computed at input generation gen.
// It reports false and changes nothing when the billboards were replaced in
// the meantime.
func (s *Session) setExposures(rs []model.ExposureRegion, rep StageReport, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen[StageExposure] != gen {
		return false
	}
	s.resetFrom(StageOcclusion)
	s.exposures = rs
	s.done[StageExposure] = true
	s.reports[StageExposure] = rep
	return true
}

func (s *Session) setOcclusions(rs []model.OcclusionRegion, rep StageReport, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen[StageOcclusion] != gen {
		return false
	}
	s.resetFrom(StageVisible)
	s.occlusions = rs
	s.done[StageOcclusion] = true
	s.reports[StageOcclusion] = rep
	return true
}

func (s *Session) setVisible(v model.VisibleRegion, rep StageReport, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen[StageVisible] != gen {
		return false
	}
	s.visible = &v
	s.done[StageVisible] = true
	s.reports[StageVisible] = rep
	return true
}

// resetFrom clears stage and everything after it and advances their input
// generations. Caller holds mu.
func (s *Session) resetFrom(stage Stage) {
	switch stage {
	case StageExposure:
		s.exposures = nil
		delete(s.done, StageExposure)
		delete(s.reports, StageExposure)
		s.gen[StageExposure]++
		fallthrough
	case StageOcclusion:
		s.occlusions = nil
		delete(s.done, StageOcclusion)
		delete(s.reports, StageOcclusion)
		s.gen[StageOcclusion]++
		fallthrough
	case StageVisible:
		s.visible = nil
		delete(s.done, StageVisible)
		delete(s.reports, StageVisible)
		s.gen[StageVisible]++
	}
}
