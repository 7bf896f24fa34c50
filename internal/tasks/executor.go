// Package tasks executes a servitor's declared tasks. Each task type has a
// dedicated handler producing a base result; the executor then modulates
// success through the servitor's performance level.
package tasks

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/StevenWanglolz/Occult-Magick/internal/servitor"
)

// recoveryCutoff is the performance modifier above which a failed base
// result may still be flipped to success. The asymmetry between the
// retention roll and the recovery roll is deliberate and matches the
// original outcome model.
const recoveryCutoff = 1.5

// Result captures one task execution attempt.
type Result struct {
	Task      string    `json:"task"`
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Content   string    `json:"content,omitempty"`
	FilePath  string    `json:"file_path,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Value     any       `json:"result,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Outcome-model annotations.
	PerformanceBoosted bool    `json:"performance_boosted,omitempty"`
	PerformanceSaved   bool    `json:"performance_saved,omitempty"`
	PerformanceLevel   float64 `json:"performance_level,omitempty"`
	Note               string  `json:"note,omitempty"`
}

// Executor runs tasks for servitors. The random source is injectable so
// the probabilistic outcome model can be pinned in tests.
type Executor struct {
	now       func() time.Time
	randFloat func() float64
}

// NewExecutor creates an Executor backed by the wall clock and math/rand.
func NewExecutor() *Executor {
	return &Executor{
		now:       func() time.Time { return time.Now().UTC() },
		randFloat: rand.Float64,
	}
}

// Execute runs a single task: type dispatch, then the performance
// modifier. Every attempt increments ExecutionCount and stamps
// LastExecutedAt regardless of outcome; SuccessCount moves only on a
// final success.
func (e *Executor) Execute(s *servitor.Servitor, t *servitor.Task) Result {
	slog.Info("executing task",
		"task", t.Name,
		"servitor", s.Name,
		"performance_level", s.PerformanceLevel,
	)

	now := e.now()
	res := e.executeByType(s, t)
	res.Task = t.Name
	if res.Timestamp.IsZero() {
		res.Timestamp = now
	}

	t.ExecutionCount++
	t.LastExecutedAt = &now

	modifier := s.PerformanceModifier()
	if res.Success {
		// Higher performance retains more of the nominal successes.
		chance := math.Min(1.0, modifier/2.0)
		if e.randFloat() < chance {
			t.SuccessCount++
			res.PerformanceBoosted = true
			res.PerformanceLevel = s.PerformanceLevel
		} else {
			res.Success = false
			res.Note = "task execution affected by low performance"
		}
	} else if modifier > recoveryCutoff {
		// A high-performance servitor occasionally saves a failed attempt.
		if e.randFloat() < (modifier-1.0)/2.0 {
			res.Success = true
			t.SuccessCount++
			res.PerformanceSaved = true
			res.PerformanceLevel = s.PerformanceLevel
		}
	}

	return res
}

// ExecuteAll runs every task in collection order and returns the results
// in that order.
func (e *Executor) ExecuteAll(s *servitor.Servitor) []Result {
	results := make([]Result, 0, len(s.Tasks))
	for _, t := range s.Tasks {
		results = append(results, e.Execute(s, t))
	}
	return results
}

// ExecuteByName runs the first task with the given name. Duplicate names
// resolve to the first match.
func (e *Executor) ExecuteByName(s *servitor.Servitor, name string) (Result, error) {
	t, ok := s.TaskByName(name)
	if !ok {
		return Result{}, fmt.Errorf("%w: task %q", servitor.ErrTaskNotFound, name)
	}
	return e.Execute(s, t), nil
}

// executeByType dispatches on the task type. Unknown types produce an
// error result, never a panic that aborts the caller.
func (e *Executor) executeByType(s *servitor.Servitor, t *servitor.Task) Result {
	switch t.Type {
	case servitor.TaskFileOperation:
		return e.executeFileOperation(t)
	case servitor.TaskReminder:
		return e.executeReminder(s, t)
	case servitor.TaskDataProcessing:
		return e.executeDataProcessing(t)
	case servitor.TaskLog:
		return e.executeLog(s, t)
	default:
		return Result{Error: fmt.Sprintf("unknown task type: %s", t.Type)}
	}
}

func (e *Executor) executeFileOperation(t *servitor.Task) Result {
	var p FileOperationParams
	if err := decodeParams(t.Params, &p); err != nil {
		return Result{Error: err.Error()}
	}
	if p.Operation == "" {
		p.Operation = FileOpCreate
	}
	if p.FilePath == "" {
		return Result{Error: "no file_path specified"}
	}

	switch p.Operation {
	case FileOpCreate:
		if err := os.MkdirAll(filepath.Dir(p.FilePath), 0o755); err != nil {
			return Result{Error: err.Error()}
		}
		if err := os.WriteFile(p.FilePath, []byte(p.Content), 0o644); err != nil {
			return Result{Error: err.Error()}
		}
		return Result{Success: true, Message: "file created: " + p.FilePath}

	case FileOpAppend:
		if err := os.MkdirAll(filepath.Dir(p.FilePath), 0o755); err != nil {
			return Result{Error: err.Error()}
		}
		f, err := os.OpenFile(p.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return Result{Error: err.Error()}
		}
		defer f.Close()
		if _, err := f.WriteString(p.Content); err != nil {
			return Result{Error: err.Error()}
		}
		return Result{Success: true, Message: "content appended to: " + p.FilePath}

	case FileOpDelete:
		if _, err := os.Stat(p.FilePath); err != nil {
			return Result{Error: "file not found: " + p.FilePath}
		}
		if err := os.Remove(p.FilePath); err != nil {
			return Result{Error: err.Error()}
		}
		return Result{Success: true, Message: "file deleted: " + p.FilePath}

	case FileOpRead:
		data, err := os.ReadFile(p.FilePath)
		if err != nil {
			if os.IsNotExist(err) {
				return Result{Error: "file not found: " + p.FilePath}
			}
			return Result{Error: err.Error()}
		}
		return Result{Success: true, Content: string(data), FilePath: p.FilePath}

	default:
		return Result{Error: fmt.Sprintf("unknown operation: %s", p.Operation)}
	}
}

func (e *Executor) executeReminder(s *servitor.Servitor, t *servitor.Task) Result {
	var p ReminderParams
	if err := decodeParams(t.Params, &p); err != nil {
		return Result{Error: err.Error()}
	}
	if p.Message == "" {
		p.Message = "reminder from " + s.Name
	}

	slog.Info("reminder", "servitor", s.Name, "message", p.Message)
	return Result{Success: true, Message: p.Message, Timestamp: e.now()}
}

func (e *Executor) executeDataProcessing(t *servitor.Task) Result {
	var p DataProcessingParams
	if err := decodeParams(t.Params, &p); err != nil {
		return Result{Error: err.Error()}
	}
	if p.Operation == "" {
		p.Operation = DataOpCount
	}

	switch p.Operation {
	case DataOpCount:
		// Strings count whitespace-separated tokens, arrays count elements.
		if s, ok := p.dataString(); ok {
			return Result{Success: true, Value: len(strings.Fields(s)), Operation: DataOpCount}
		}
		if items, ok := p.dataItems(); ok {
			return Result{Success: true, Value: len(items), Operation: DataOpCount}
		}
		return Result{Error: "data must be a string or an array"}

	case DataOpTransform:
		str, ok := p.dataString()
		if !ok {
			return Result{Error: "transform requires string data"}
		}
		// Unknown transform types pass the data through unchanged.
		out := str
		switch p.TransformType {
		case TransformUpper:
			out = strings.ToUpper(str)
		case TransformLower:
			out = strings.ToLower(str)
		}
		return Result{Success: true, Value: out, Operation: DataOpTransform}

	default:
		return Result{Error: fmt.Sprintf("unknown operation: %s", p.Operation)}
	}
}

func (e *Executor) executeLog(s *servitor.Servitor, t *servitor.Task) Result {
	var p LogParams
	if err := decodeParams(t.Params, &p); err != nil {
		return Result{Error: err.Error()}
	}
	if p.Message == "" {
		p.Message = "log entry from " + s.Name
	}

	if p.LogFile != "" {
		line := fmt.Sprintf("[%s] %s: %s\n", e.now().Format(time.RFC3339), s.Name, p.Message)
		if err := os.MkdirAll(filepath.Dir(p.LogFile), 0o755); err != nil {
			return Result{Error: err.Error()}
		}
		f, err := os.OpenFile(p.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return Result{Error: err.Error()}
		}
		defer f.Close()
		if _, err := f.WriteString(line); err != nil {
			return Result{Error: err.Error()}
		}
	}

	slog.Info("task log", "servitor", s.Name, "message", p.Message)
	return Result{Success: true, Message: p.Message}
}
