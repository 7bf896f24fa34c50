// Package servitor defines the servitor entity: a named agent that
// accumulates charge over time, moves through a dormant/active/dismissed
// lifecycle, and carries a list of executable tasks.
package servitor

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// Errors returned by the servitor entity and its services.
var (
	ErrNotFound           = errors.New("servitor: not found")
	ErrAlreadyExists      = errors.New("servitor: already exists")
	ErrDismissed          = errors.New("servitor: dismissed")
	ErrInsufficientCharge = errors.New("servitor: insufficient charge")
	ErrValidation         = errors.New("servitor: validation error")
	ErrTaskNotFound       = errors.New("servitor: task not found")
)

// Status is the lifecycle state of a servitor.
type Status string

// Valid servitor statuses. Dismissed is terminal.
const (
	StatusDormant   Status = "dormant"
	StatusActive    Status = "active"
	StatusDismissed Status = "dismissed"
)

// IsValidStatus reports whether s is a known status value.
func IsValidStatus(s Status) bool {
	switch s {
	case StatusDormant, StatusActive, StatusDismissed:
		return true
	}
	return false
}

// TaskType identifies the handler a task dispatches to.
type TaskType string

// The closed set of task types. Anything else is an invalid-input error
// at execution time, never a silent no-op.
const (
	TaskFileOperation  TaskType = "file_operation"
	TaskReminder       TaskType = "reminder"
	TaskDataProcessing TaskType = "data_processing"
	TaskLog            TaskType = "log"
)

// IsValidTaskType reports whether t is a known task type.
func IsValidTaskType(t TaskType) bool {
	switch t {
	case TaskFileOperation, TaskReminder, TaskDataProcessing, TaskLog:
		return true
	}
	return false
}

// Level bounds and defaults for charge, performance, and the activation
// threshold.
const (
	MinLevel                   = 0.0
	MaxLevel                   = 100.0
	DefaultPerformanceLevel    = 50.0
	DefaultActivationThreshold = 50.0
	DefaultExecutionIntervalHr = 24.0
)

// ChargeEvent is one entry in a servitor's charging history.
type ChargeEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Amount    float64   `json:"amount"`
	Method    string    `json:"method"`
	NewLevel  float64   `json:"new_level"`
}

// BoostEvent is one entry in a servitor's performance history.
type BoostEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Amount    float64   `json:"amount"`
	Reason    string    `json:"reason"`
	NewLevel  float64   `json:"new_level"`
}

// Task is a declared action owned by a servitor. Tasks have no independent
// lifecycle; they are destroyed with their owning servitor. Name is unique
// within the owning servitor only.
type Task struct {
	Name                 string          `json:"name"`
	Description          string          `json:"description"`
	Type                 TaskType        `json:"task_type"`
	Params               json.RawMessage `json:"parameters,omitempty"`
	LastExecutedAt       *time.Time      `json:"last_executed,omitempty"`
	ExecutionCount       int             `json:"execution_count"`
	SuccessCount         int             `json:"success_count"`
	AutoExecute          bool            `json:"auto_execute"`
	ExecutionIntervalHrs float64         `json:"execution_interval_hours"`
}

// AutoEligible reports whether the task should fire during activation:
// autoExecute is set and the task either never ran or ran longer ago than
// its execution interval.
func (t *Task) AutoEligible(now time.Time) bool {
	if !t.AutoExecute {
		return false
	}
	if t.LastExecutedAt == nil {
		return true
	}
	interval := t.ExecutionIntervalHrs
	if interval <= 0 {
		interval = DefaultExecutionIntervalHr
	}
	return now.Sub(*t.LastExecutedAt) > time.Duration(interval*float64(time.Hour))
}

// Servitor is the persistent agent record. Mutating methods serialize
// through an internal mutex so a manual charge and a running charging
// session never lose updates; persistence remains the caller's job.
type Servitor struct {
	mu sync.Mutex

	Name                string        `json:"name"`
	Purpose             string        `json:"purpose"`
	SigilPath           string        `json:"sigil_path,omitempty"`
	ChargeLevel         float64       `json:"charge_level"`
	PerformanceLevel    float64       `json:"performance_level"`
	Status              Status        `json:"status"`
	ActivationThreshold float64       `json:"activation_threshold"`
	CreatedAt           time.Time     `json:"creation_date"`
	LastFedAt           *time.Time    `json:"last_fed,omitempty"`
	LastChargedAt       *time.Time    `json:"last_charged,omitempty"`
	LastBoostedAt       *time.Time    `json:"last_performance_boost,omitempty"`
	Tasks               []*Task       `json:"tasks"`
	ChargeHistory       []ChargeEvent `json:"charging_history"`
	PerformanceHistory  []BoostEvent  `json:"performance_history"`
	Notes               string        `json:"notes"`
}

// New creates a dormant servitor with default performance level and
// activation threshold.
func New(name, purpose string) *Servitor {
	return &Servitor{
		Name:                name,
		Purpose:             purpose,
		PerformanceLevel:    DefaultPerformanceLevel,
		Status:              StatusDormant,
		ActivationThreshold: DefaultActivationThreshold,
		CreatedAt:           time.Now().UTC(),
		Tasks:               []*Task{},
		ChargeHistory:       []ChargeEvent{},
		PerformanceHistory:  []BoostEvent{},
	}
}

func clampLevel(v float64) float64 {
	if v < MinLevel {
		return MinLevel
	}
	if v > MaxLevel {
		return MaxLevel
	}
	return v
}

// AddCharge raises the charge level by amount (clamped to 100), stamps
// LastChargedAt, and appends a charging history entry. Amount must be
// non-negative; validation happens at the service layer. Returns the new
// charge level.
func (s *Servitor) AddCharge(amount float64, method string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	s.ChargeLevel = clampLevel(s.ChargeLevel + amount)
	s.LastChargedAt = &now
	s.ChargeHistory = append(s.ChargeHistory, ChargeEvent{
		Timestamp: now,
		Amount:    amount,
		Method:    method,
		NewLevel:  s.ChargeLevel,
	})
	return s.ChargeLevel
}

// Feed recharges the servitor through the feeding path and stamps
// LastFedAt.
func (s *Servitor) Feed(amount float64) float64 {
	level := s.AddCharge(amount, "feeding")
	s.mu.Lock()
	now := time.Now().UTC()
	s.LastFedAt = &now
	s.mu.Unlock()
	return level
}

// Boost adjusts the performance level by amount (clamped to [0,100]),
// stamps LastBoostedAt, and appends a performance history entry.
// Performance changes only through this call; task execution never
// touches it.
func (s *Servitor) Boost(amount float64, reason string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	s.PerformanceLevel = clampLevel(s.PerformanceLevel + amount)
	s.LastBoostedAt = &now
	s.PerformanceHistory = append(s.PerformanceHistory, BoostEvent{
		Timestamp: now,
		Amount:    amount,
		Reason:    reason,
		NewLevel:  s.PerformanceLevel,
	})
	return s.PerformanceLevel
}

// Level returns the current charge level. Safe to call while a charging
// session is mutating the record.
func (s *Servitor) Level() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ChargeLevel
}

// PerformanceModifier maps the performance level linearly onto [0.5, 2.0].
func (s *Servitor) PerformanceModifier() float64 {
	return 0.5 + (s.PerformanceLevel/MaxLevel)*1.5
}

// CanActivate reports whether the servitor has enough charge to enter the
// active state. Dismissed servitors can never activate.
func (s *Servitor) CanActivate() bool {
	return s.Status != StatusDismissed && s.ChargeLevel >= s.ActivationThreshold
}

// Activate transitions the servitor to active if the charge gate passes.
// The gate is evaluated exactly once; auto-execution side effects belong
// to the lifecycle service.
func (s *Servitor) Activate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status == StatusDismissed || s.ChargeLevel < s.ActivationThreshold {
		return false
	}
	s.Status = StatusActive
	return true
}

// Deactivate returns the servitor to dormant. No-op when already dormant;
// forbidden (also a no-op) when dismissed.
func (s *Servitor) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status != StatusDismissed {
		s.Status = StatusDormant
	}
}

// ApplyDecay lowers the charge level by amount, floored at zero, and
// forces deactivation when an active servitor falls below its activation
// threshold. Returns the charge actually removed.
func (s *Servitor) ApplyDecay(amount float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if amount <= 0 {
		return 0
	}
	if amount > s.ChargeLevel {
		amount = s.ChargeLevel
	}
	s.ChargeLevel -= amount
	if s.ChargeLevel < s.ActivationThreshold && s.Status == StatusActive {
		s.Status = StatusDormant
	}
	return amount
}

// TaskByName returns the first task with the given name. Duplicate names
// resolve to the first match.
func (s *Servitor) TaskByName(name string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// AddTask appends a task to the servitor's collection, applying the
// default execution interval when unset.
func (s *Servitor) AddTask(t *Task) {
	if t.ExecutionIntervalHrs <= 0 {
		t.ExecutionIntervalHrs = DefaultExecutionIntervalHr
	}
	s.mu.Lock()
	s.Tasks = append(s.Tasks, t)
	s.mu.Unlock()
}
