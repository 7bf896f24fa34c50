// Package lifecycle orchestrates the servitor engines: it owns the
// load-decay-mutate-save flow around every operation, the activation state
// machine with its auto-execution side effect, and the session endpoints.
// All mutations funnel back through the storage layer.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/StevenWanglolz/Occult-Magick/internal/charging"
	"github.com/StevenWanglolz/Occult-Magick/internal/dismissal"
	"github.com/StevenWanglolz/Occult-Magick/internal/maintenance"
	"github.com/StevenWanglolz/Occult-Magick/internal/servitor"
	"github.com/StevenWanglolz/Occult-Magick/internal/sigil"
	"github.com/StevenWanglolz/Occult-Magick/internal/storage"
	"github.com/StevenWanglolz/Occult-Magick/internal/tasks"
)

// DefaultFeedAmount is the charge applied by a feeding with no explicit
// amount.
const DefaultFeedAmount = 10.0

// CreateRequest is the input for creating a servitor.
type CreateRequest struct {
	Name                string   `json:"name"`
	Purpose             string   `json:"purpose"`
	InitialCharge       float64  `json:"initial_charge"`
	ActivationThreshold *float64 `json:"activation_threshold,omitempty"`
	SigilStyle          string   `json:"sigil_style,omitempty"`
}

// TaskRequest is the input for declaring a task on a servitor.
type TaskRequest struct {
	Name                 string          `json:"name"`
	Description          string          `json:"description"`
	Type                 string          `json:"task_type"`
	Params               json.RawMessage `json:"parameters,omitempty"`
	AutoExecute          bool            `json:"auto_execute"`
	ExecutionIntervalHrs float64         `json:"execution_interval_hours,omitempty"`
}

// ActivationResult is the outcome of an activation, including results of
// any tasks auto-executed as a side effect of entering the active state.
type ActivationResult struct {
	Servitor    *servitor.Servitor `json:"servitor"`
	AutoResults []tasks.Result     `json:"auto_results"`
}

// Service coordinates storage, maintenance, charging, task execution, and
// dismissal for servitors.
type Service struct {
	store     storage.Store
	maint     *maintenance.Manager
	executor  *tasks.Executor
	sessions  *charging.Manager
	protocol  *dismissal.Protocol
	sigils    *sigil.Generator
	sigilDir  string
	decayRate float64
}

// NewService creates a lifecycle service. sigilDir may be empty to skip
// sigil generation; decayRate ≤ 0 falls back to the default daily rate.
func NewService(store storage.Store, sessions *charging.Manager, sigilDir string, decayRate float64) *Service {
	if decayRate <= 0 {
		decayRate = maintenance.DefaultDecayRate
	}
	return &Service{
		store:     store,
		maint:     maintenance.New(),
		executor:  tasks.NewExecutor(),
		sessions:  sessions,
		protocol:  dismissal.New(store),
		sigils:    sigil.New(),
		sigilDir:  sigilDir,
		decayRate: decayRate,
	}
}

// Create validates the request, renders the sigil, and persists a new
// dormant servitor. A sigil failure is logged but does not block creation.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*servitor.Servitor, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", servitor.ErrValidation)
	}
	if req.Purpose == "" {
		return nil, fmt.Errorf("%w: purpose is required", servitor.ErrValidation)
	}
	if req.InitialCharge < servitor.MinLevel || req.InitialCharge > servitor.MaxLevel {
		return nil, fmt.Errorf("%w: initial_charge must be within [0,100]", servitor.ErrValidation)
	}
	if req.ActivationThreshold != nil &&
		(*req.ActivationThreshold < servitor.MinLevel || *req.ActivationThreshold > servitor.MaxLevel) {
		return nil, fmt.Errorf("%w: activation_threshold must be within [0,100]", servitor.ErrValidation)
	}

	if _, err := s.store.Load(ctx, req.Name); err == nil {
		return nil, servitor.ErrAlreadyExists
	} else if !errors.Is(err, servitor.ErrNotFound) {
		return nil, err
	}

	rec := servitor.New(req.Name, req.Purpose)
	rec.ChargeLevel = req.InitialCharge
	if req.ActivationThreshold != nil {
		rec.ActivationThreshold = *req.ActivationThreshold
	}

	if s.sigilDir != "" {
		path, err := s.sigils.GenerateForServitor(req.Name, req.Purpose, req.SigilStyle, s.sigilDir)
		if err != nil {
			slog.Warn("could not generate sigil", "servitor", req.Name, "error", err)
		} else {
			rec.SigilPath = path
		}
	}

	if err := s.store.Save(ctx, rec); err != nil {
		return nil, err
	}
	slog.Info("servitor created", "servitor", rec.Name, "initial_charge", rec.ChargeLevel)
	return rec, nil
}

// Get loads a servitor and applies lazy decay, persisting the decayed
// state so the stored document always reflects what the caller saw.
func (s *Service) Get(ctx context.Context, name string) (*servitor.Servitor, error) {
	rec, err := s.store.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	if decayed := s.maint.ApplyDecay(rec, s.decayRate); decayed > 0 {
		if err := s.store.Save(ctx, rec); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// List returns servitors filtered by status, each with decay applied.
func (s *Service) List(ctx context.Context, status servitor.Status) ([]*servitor.Servitor, error) {
	if status != "" && !servitor.IsValidStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", servitor.ErrValidation, status)
	}
	records, err := s.store.List(ctx, status)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if decayed := s.maint.ApplyDecay(rec, s.decayRate); decayed > 0 {
			if err := s.store.Save(ctx, rec); err != nil {
				return nil, err
			}
		}
	}
	return records, nil
}

// ListIndex returns the lightweight listing index, optionally filtered.
func (s *Service) ListIndex(ctx context.Context, status servitor.Status) ([]storage.IndexEntry, error) {
	if status != "" && !servitor.IsValidStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", servitor.ErrValidation, status)
	}
	return s.store.ListIndex(ctx, status)
}

// Delete removes a servitor from the store entirely.
func (s *Service) Delete(ctx context.Context, name string) error {
	return s.store.Delete(ctx, name)
}

// Charge applies a manual charge and persists the result.
func (s *Service) Charge(ctx context.Context, name string, amount float64, method string) (*servitor.Servitor, error) {
	if amount < 0 {
		return nil, fmt.Errorf("%w: charge amount must be non-negative", servitor.ErrValidation)
	}
	if method == "" {
		method = "manual"
	}
	rec, err := s.mutable(ctx, name)
	if err != nil {
		return nil, err
	}
	rec.AddCharge(amount, method)
	if err := s.store.Save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Boost explicitly adjusts the performance level. Charging never does
// this implicitly.
func (s *Service) Boost(ctx context.Context, name string, amount float64, reason string) (*servitor.Servitor, error) {
	rec, err := s.mutable(ctx, name)
	if err != nil {
		return nil, err
	}
	rec.Boost(amount, reason)
	if err := s.store.Save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Feed recharges through the feeding path, defaulting the amount.
func (s *Service) Feed(ctx context.Context, name string, amount float64) (*servitor.Servitor, error) {
	if amount < 0 {
		return nil, fmt.Errorf("%w: feed amount must be non-negative", servitor.ErrValidation)
	}
	if amount == 0 {
		amount = DefaultFeedAmount
	}
	rec, err := s.mutable(ctx, name)
	if err != nil {
		return nil, err
	}
	rec.Feed(amount)
	if err := s.store.Save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Activate runs the state machine: the charge gate is checked exactly
// once, and on entering the active state every eligible auto-execute task
// runs. Auto-execution results are returned alongside the servitor.
func (s *Service) Activate(ctx context.Context, name string) (*ActivationResult, error) {
	rec, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if rec.Status == servitor.StatusDismissed {
		return nil, servitor.ErrDismissed
	}
	if !rec.Activate() {
		return nil, fmt.Errorf("%w: charge %.1f below threshold %.1f",
			servitor.ErrInsufficientCharge, rec.ChargeLevel, rec.ActivationThreshold)
	}

	now := time.Now().UTC()
	var results []tasks.Result
	for _, t := range rec.Tasks {
		if t.AutoEligible(now) {
			results = append(results, s.executor.Execute(rec, t))
		}
	}

	if err := s.store.Save(ctx, rec); err != nil {
		return nil, err
	}
	slog.Info("servitor activated", "servitor", rec.Name, "auto_executed", len(results))
	return &ActivationResult{Servitor: rec, AutoResults: results}, nil
}

// Deactivate returns a servitor to dormant. A no-op for a dormant or
// dismissed servitor.
func (s *Service) Deactivate(ctx context.Context, name string) (*servitor.Servitor, error) {
	rec, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	rec.Deactivate()
	if err := s.store.Save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Dismiss runs the dismissal protocol. Any running charging session for
// the servitor is stopped first.
func (s *Service) Dismiss(ctx context.Context, name, reason string) (*servitor.Servitor, error) {
	if sess := s.sessions.Active(name); sess != nil {
		if err := s.sessions.Stop(name); err != nil && !errors.Is(err, charging.ErrSessionNotFound) {
			return nil, err
		}
		// Persist the charge the session accumulated so the archived
		// record carries the true final level.
		if err := s.store.Save(ctx, sess.Servitor); err != nil {
			return nil, err
		}
	}
	rec, err := s.store.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := s.protocol.Dismiss(ctx, rec, reason); err != nil {
		return nil, err
	}
	return rec, nil
}

// Ritual returns the dismissal ritual text for display before a front-end
// confirmation.
func (s *Service) Ritual(ctx context.Context, name string) (string, error) {
	rec, err := s.store.Load(ctx, name)
	if err != nil {
		return "", err
	}
	return s.protocol.RitualText(rec), nil
}

// AddTask validates and appends a task declaration.
func (s *Service) AddTask(ctx context.Context, name string, req TaskRequest) (*servitor.Servitor, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: task name is required", servitor.ErrValidation)
	}
	taskType := servitor.TaskType(req.Type)
	if !servitor.IsValidTaskType(taskType) {
		return nil, fmt.Errorf("%w: unknown task type %q", servitor.ErrValidation, req.Type)
	}
	if err := tasks.ValidateParams(taskType, req.Params); err != nil {
		return nil, err
	}

	rec, err := s.mutable(ctx, name)
	if err != nil {
		return nil, err
	}
	rec.AddTask(&servitor.Task{
		Name:                 req.Name,
		Description:          req.Description,
		Type:                 taskType,
		Params:               req.Params,
		AutoExecute:          req.AutoExecute,
		ExecutionIntervalHrs: req.ExecutionIntervalHrs,
	})
	if err := s.store.Save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ExecuteAll runs every task in collection order and persists the updated
// execution counters.
func (s *Service) ExecuteAll(ctx context.Context, name string) ([]tasks.Result, error) {
	rec, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	results := s.executor.ExecuteAll(rec)
	if err := s.store.Save(ctx, rec); err != nil {
		return nil, err
	}
	return results, nil
}

// ExecuteTask runs the first task matching taskName.
func (s *Service) ExecuteTask(ctx context.Context, name, taskName string) (tasks.Result, error) {
	rec, err := s.Get(ctx, name)
	if err != nil {
		return tasks.Result{}, err
	}
	result, err := s.executor.ExecuteByName(rec, taskName)
	if err != nil {
		return tasks.Result{}, err
	}
	if err := s.store.Save(ctx, rec); err != nil {
		return tasks.Result{}, err
	}
	return result, nil
}

// Health reports the decayed health snapshot for one servitor.
func (s *Service) Health(ctx context.Context, name string) (maintenance.Health, error) {
	rec, err := s.Get(ctx, name)
	if err != nil {
		return maintenance.Health{}, err
	}
	return s.maint.CheckHealth(rec), nil
}

// Reminders returns maintenance reminders across all non-dismissed
// servitors, in listing order.
func (s *Service) Reminders(ctx context.Context) ([]maintenance.Reminder, error) {
	records, err := s.List(ctx, "")
	if err != nil {
		return nil, err
	}
	return s.maint.Reminders(records), nil
}

// StartSession begins a background charging session. While the session
// runs, its in-memory handle is authoritative for the charge level; the
// result is persisted when the session stops, whether through StopSession
// or by a timed session's duration elapsing.
func (s *Service) StartSession(ctx context.Context, name, method string, duration time.Duration, onUpdate charging.UpdateFunc) (*charging.Session, error) {
	rec, err := s.mutable(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.sessions.Start(ctx, rec, method, duration, onUpdate, func(sess *charging.Session) {
		// The worker outlives the request that started it, so persistence
		// cannot ride on the request context.
		if err := s.store.Save(context.Background(), sess.Servitor); err != nil {
			slog.Error("persist session charge", "servitor", sess.Servitor.Name, "error", err)
		}
	})
}

// StopSession stops the servitor's charging session and persists the
// accumulated charge.
func (s *Service) StopSession(ctx context.Context, name string) (*servitor.Servitor, error) {
	sess := s.sessions.Active(name)
	if sess == nil {
		return nil, charging.ErrSessionNotFound
	}
	if err := s.sessions.Stop(name); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, sess.Servitor); err != nil {
		return nil, err
	}
	return sess.Servitor, nil
}

// Session returns the running session for a servitor, or nil.
func (s *Service) Session(name string) *charging.Session {
	return s.sessions.Active(name)
}

// mutable loads a servitor with decay for an edit, rejecting edits to
// dismissed records.
func (s *Service) mutable(ctx context.Context, name string) (*servitor.Servitor, error) {
	rec, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if rec.Status == servitor.StatusDismissed {
		return nil, servitor.ErrDismissed
	}
	return rec, nil
}
