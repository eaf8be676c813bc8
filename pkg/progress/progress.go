package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// FormatVersion is written into every serialized state
const FormatVersion = 1

// Status is the lifecycle status of one batch run
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further transitions are allowed
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusPaused, StatusCompleted, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

var transitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusFailed},
	StatusRunning: {StatusPaused, StatusCompleted, StatusCancelled, StatusFailed},
	StatusPaused:  {StatusRunning, StatusCompleted, StatusCancelled, StatusFailed},
}

// CanTransition reports whether a state may move from one status to another
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition is returned when a status change breaks the state machine
var ErrInvalidTransition = errors.New("invalid status transition")

// FailedItem records one item whose work function returned an error
type FailedItem struct {
	Index int    `json:"index"`
	Item  string `json:"item"`
	Error string `json:"error"`
}

// State tracks the counters and status of one batch run.
// It is not safe for concurrent use; the owning runner serializes access.
type State struct {
	Total            int          `json:"total"`
	Completed        int          `json:"completed"`
	Success          int          `json:"success"`
	Failed           int          `json:"failed"`
	Skipped          int          `json:"skipped"`
	StartTime        *time.Time   `json:"start_time"`
	EndTime          *time.Time   `json:"end_time"`
	Status           Status       `json:"status"`
	FailedItems      []FailedItem `json:"failed_items"`
	CompletedIndices []int        `json:"completed_indices,omitempty"`

	done map[int]struct{}
}

// New returns a pending state for total items
func New(total int) *State {
	return &State{
		Total:       total,
		Status:      StatusPending,
		FailedItems: make([]FailedItem, 0),
	}
}

// Start moves a pending state to running and stamps the start time
func (s *State) Start(now time.Time) error {
	if err := s.SetStatus(StatusRunning); err != nil {
		return err
	}
	started := now
	s.StartTime = &started
	return nil
}

// SetStatus applies a validated status transition
func (s *State) SetStatus(to Status) error {
	if s.Status == to {
		return nil
	}
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	return nil
}

// Finish sets a terminal status and the end time. It fails if the state
// already finished.
func (s *State) Finish(status Status, now time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, status)
	}
	if s.EndTime != nil {
		return fmt.Errorf("%w: end time already set", ErrInvalidTransition)
	}
	if err := s.SetStatus(status); err != nil {
		return err
	}
	ended := now
	s.EndTime = &ended
	return nil
}

// Reopen turns a previously interrupted state back into a running one so a
// resumed run can continue folding completions into it.
func (s *State) Reopen() {
	s.Status = StatusRunning
	s.EndTime = nil
	s.Skipped = 0
	if s.FailedItems == nil {
		s.FailedItems = make([]FailedItem, 0)
	}
}

// RecordSuccess folds a successful completion of the item at index
func (s *State) RecordSuccess(index int) {
	s.adoptPositional()
	s.Completed++
	s.Success++
	s.markDone(index)
}

// RecordFailure folds a failed completion of the item at index
func (s *State) RecordFailure(index int, item string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	s.adoptPositional()
	s.Completed++
	s.Failed++
	s.FailedItems = append(s.FailedItems, FailedItem{Index: index, Item: item, Error: msg})
	s.markDone(index)
}

// adoptPositional converts a state without recorded indices, where the first
// Completed items are done, to explicit indices before new ones are added
func (s *State) adoptPositional() {
	if len(s.CompletedIndices) > 0 || s.Completed == 0 {
		return
	}
	s.CompletedIndices = make([]int, 0, s.Completed+1)
	for i := 0; i < s.Completed; i++ {
		s.CompletedIndices = append(s.CompletedIndices, i)
	}
	s.done = nil
}

func (s *State) markDone(index int) {
	s.indexSet()[index] = struct{}{}
	s.CompletedIndices = append(s.CompletedIndices, index)
}

func (s *State) indexSet() map[int]struct{} {
	if s.done == nil {
		s.done = make(map[int]struct{}, len(s.CompletedIndices))
		for _, idx := range s.CompletedIndices {
			s.done[idx] = struct{}{}
		}
	}
	return s.done
}

// IsDone reports whether the item at index has already been folded in.
// States written before indices were tracked fall back to positional order.
func (s *State) IsDone(index int) bool {
	if len(s.CompletedIndices) == 0 {
		return index < s.Completed
	}
	_, ok := s.indexSet()[index]
	return ok
}

// Remaining returns the indices in [0, n) that still need to run, in input order
func (s *State) Remaining(n int) []int {
	remaining := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if !s.IsDone(i) {
			remaining = append(remaining, i)
		}
	}
	return remaining
}

// CompletionPercentage returns completed/total as a percentage
func (s *State) CompletionPercentage() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Total) * 100
}

// SuccessRate returns success/completed as a percentage
func (s *State) SuccessRate() float64 {
	if s.Completed == 0 {
		return 0
	}
	return float64(s.Success) / float64(s.Completed) * 100
}

// Duration returns the elapsed run time, measured up to now while running
func (s *State) Duration(now time.Time) time.Duration {
	if s.StartTime == nil {
		return 0
	}
	if s.EndTime != nil {
		return s.EndTime.Sub(*s.StartTime)
	}
	return now.Sub(*s.StartTime)
}

// Clone returns a deep copy safe to hand to other goroutines
func (s *State) Clone() *State {
	c := &State{
		Total:     s.Total,
		Completed: s.Completed,
		Success:   s.Success,
		Failed:    s.Failed,
		Skipped:   s.Skipped,
		Status:    s.Status,
	}
	if s.StartTime != nil {
		t := *s.StartTime
		c.StartTime = &t
	}
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	c.FailedItems = make([]FailedItem, len(s.FailedItems))
	copy(c.FailedItems, s.FailedItems)
	if len(s.CompletedIndices) > 0 {
		c.CompletedIndices = make([]int, len(s.CompletedIndices))
		copy(c.CompletedIndices, s.CompletedIndices)
	}
	return c
}

// Validate checks the counter invariants
func (s *State) Validate() error {
	var errs []error
	if !s.Status.Valid() {
		errs = append(errs, fmt.Errorf("unknown status %q", s.Status))
	}
	if s.Total < 0 || s.Completed < 0 || s.Success < 0 || s.Failed < 0 || s.Skipped < 0 {
		errs = append(errs, errors.New("counters cannot be negative"))
	}
	if s.Completed > s.Total {
		errs = append(errs, fmt.Errorf("completed %d exceeds total %d", s.Completed, s.Total))
	}
	if s.Completed != s.Success+s.Failed {
		errs = append(errs, fmt.Errorf("completed %d != success %d + failed %d", s.Completed, s.Success, s.Failed))
	}
	if s.Failed != len(s.FailedItems) {
		errs = append(errs, fmt.Errorf("failed %d != %d failed items", s.Failed, len(s.FailedItems)))
	}
	if len(s.CompletedIndices) > 0 && len(s.CompletedIndices) != s.Completed {
		errs = append(errs, fmt.Errorf("%d completed indices recorded for %d completions", len(s.CompletedIndices), s.Completed))
	}
	if s.EndTime != nil && !s.Status.IsTerminal() {
		errs = append(errs, fmt.Errorf("end time set on non-terminal status %s", s.Status))
	}
	return errors.Join(errs...)
}

// document is the on-disk shape of a State
type document struct {
	Version int `json:"version"`
	*State
}

// Marshal encodes the state as an indented, versioned JSON document
func (s *State) Marshal() ([]byte, error) {
	snapshot := s.Clone()
	sort.Ints(snapshot.CompletedIndices)
	return json.MarshalIndent(document{Version: FormatVersion, State: snapshot}, "", "  ")
}

// Unmarshal decodes a JSON document produced by Marshal. Unknown fields are
// ignored; documents from a newer format version are rejected.
func Unmarshal(data []byte) (*State, error) {
	doc := document{State: &State{}}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode progress: %w", err)
	}
	if doc.Version > FormatVersion {
		return nil, fmt.Errorf("unsupported progress format version %d", doc.Version)
	}
	s := doc.State
	if s.Status == "" {
		s.Status = StatusPending
	}
	if s.FailedItems == nil {
		s.FailedItems = make([]FailedItem, 0)
	}
	return s, nil
}
