package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/StevenWanglolz/Occult-Magick/internal/servitor"
)

// testExecutor pins the clock and the outcome rolls so the probabilistic
// model is deterministic.
func testExecutor(rolls ...float64) *Executor {
	i := 0
	return &Executor{
		now: func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
		randFloat: func() float64 {
			if i >= len(rolls) {
				return 0
			}
			v := rolls[i]
			i++
			return v
		},
	}
}

func testServitor(performance float64) *servitor.Servitor {
	s := servitor.New("Lumen", "guard the workspace")
	s.PerformanceLevel = performance
	return s
}

func reminderTask(name string) *servitor.Task {
	return &servitor.Task{
		Name:   name,
		Type:   servitor.TaskReminder,
		Params: json.RawMessage(`{"message":"check the wards"}`),
	}
}

func TestExecuteSuccessRetained(t *testing.T) {
	// Modifier 1.25 at performance 50: retention chance 0.625.
	e := testExecutor(0.5)
	s := testServitor(50)
	task := reminderTask("check")

	res := e.Execute(s, task)
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if !res.PerformanceBoosted {
		t.Error("retained success should be marked PerformanceBoosted")
	}
	if task.ExecutionCount != 1 || task.SuccessCount != 1 {
		t.Errorf("counters = %d/%d, want 1/1", task.ExecutionCount, task.SuccessCount)
	}
	if task.LastExecutedAt == nil {
		t.Error("LastExecutedAt should be stamped")
	}
}

func TestExecuteSuccessDroppedByLowPerformance(t *testing.T) {
	// Modifier 0.5 at performance 0: retention chance 0.25, roll 0.9 fails.
	e := testExecutor(0.9)
	s := testServitor(0)
	task := reminderTask("check")

	res := e.Execute(s, task)
	if res.Success {
		t.Fatalf("expected dropped success, got %+v", res)
	}
	if res.Note == "" {
		t.Error("dropped success should carry a note")
	}
	if task.ExecutionCount != 1 {
		t.Errorf("ExecutionCount = %d, want 1: every attempt counts", task.ExecutionCount)
	}
	if task.SuccessCount != 0 {
		t.Errorf("SuccessCount = %d, want 0", task.SuccessCount)
	}
}

func TestExecuteMaxPerformanceAlwaysRetains(t *testing.T) {
	// Modifier 2.0: retention chance min(1, 1.0) = 1, any roll below 1 passes.
	e := testExecutor(0.999999)
	s := testServitor(100)

	res := e.Execute(s, reminderTask("check"))
	if !res.Success {
		t.Fatalf("max performance should never drop a success, got %+v", res)
	}
}

func failingTask(name string) *servitor.Task {
	// Deleting a file that does not exist produces a failed base result.
	return &servitor.Task{
		Name:   name,
		Type:   servitor.TaskFileOperation,
		Params: json.RawMessage(`{"operation":"delete","file_path":"/nonexistent/never.txt"}`),
	}
}

func TestExecuteFailureRecovered(t *testing.T) {
	// Modifier 2.0 at performance 100: recovery chance 0.5, roll 0.3 passes.
	e := testExecutor(0.3)
	s := testServitor(100)
	task := failingTask("cleanup")

	res := e.Execute(s, task)
	if !res.Success {
		t.Fatalf("expected recovered failure, got %+v", res)
	}
	if !res.PerformanceSaved {
		t.Error("recovered failure should be marked PerformanceSaved")
	}
	if task.SuccessCount != 1 {
		t.Errorf("SuccessCount = %d, want 1", task.SuccessCount)
	}
}

func TestExecuteFailureNotRecoveredAtModestPerformance(t *testing.T) {
	// Modifier 1.25 is below the recovery cutoff: no roll happens at all.
	e := testExecutor(0.0)
	s := testServitor(50)

	res := e.Execute(s, failingTask("cleanup"))
	if res.Success {
		t.Fatalf("modifier below cutoff must not recover, got %+v", res)
	}
	if res.Error == "" {
		t.Error("failed result should carry the base error")
	}
}

func TestExecuteUnknownTaskType(t *testing.T) {
	// Performance 50 keeps the modifier below the recovery cutoff so the
	// failure is not probabilistically saved.
	e := testExecutor()
	s := testServitor(50)
	task := &servitor.Task{Name: "weird", Type: servitor.TaskType("teleport")}

	res := e.Execute(s, task)
	if res.Success {
		t.Fatal("unknown task type should not succeed")
	}
	if !strings.Contains(res.Error, "unknown task type") {
		t.Errorf("error = %q, want unknown task type", res.Error)
	}
	if task.ExecutionCount != 1 {
		t.Errorf("ExecutionCount = %d, the attempt still counts", task.ExecutionCount)
	}
}

func TestExecuteAllOrder(t *testing.T) {
	e := testExecutor(0, 0, 0)
	s := testServitor(100)
	s.AddTask(reminderTask("first"))
	s.AddTask(reminderTask("second"))
	s.AddTask(reminderTask("third"))

	results := e.ExecuteAll(s)
	if len(results) != 3 {
		t.Fatalf("results length = %d, want 3", len(results))
	}
	for i, want := range []string{"first", "second", "third"} {
		if results[i].Task != want {
			t.Errorf("results[%d].Task = %q, want %q", i, results[i].Task, want)
		}
	}
}

func TestExecuteByName(t *testing.T) {
	e := testExecutor(0)
	s := testServitor(100)
	s.AddTask(reminderTask("check"))

	res, err := e.ExecuteByName(s, "check")
	if err != nil {
		t.Fatalf("ExecuteByName: %v", err)
	}
	if res.Task != "check" {
		t.Errorf("result task = %q, want check", res.Task)
	}

	if _, err := e.ExecuteByName(s, "missing"); !errors.Is(err, servitor.ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestFileOperations(t *testing.T) {
	e := testExecutor(0, 0, 0, 0)
	s := testServitor(100)
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")

	run := func(params string) Result {
		t.Helper()
		return e.Execute(s, &servitor.Task{
			Name:   "fileop",
			Type:   servitor.TaskFileOperation,
			Params: json.RawMessage(params),
		})
	}

	res := run(fmt.Sprintf(`{"operation":"create","file_path":%q,"content":"hello"}`, path))
	if !res.Success {
		t.Fatalf("create failed: %+v", res)
	}

	res = run(fmt.Sprintf(`{"operation":"append","file_path":%q,"content":" world"}`, path))
	if !res.Success {
		t.Fatalf("append failed: %+v", res)
	}

	res = run(fmt.Sprintf(`{"operation":"read","file_path":%q}`, path))
	if !res.Success {
		t.Fatalf("read failed: %+v", res)
	}
	if res.Content != "hello world" {
		t.Errorf("content = %q, want %q", res.Content, "hello world")
	}

	res = run(fmt.Sprintf(`{"operation":"delete","file_path":%q}`, path))
	if !res.Success {
		t.Fatalf("delete failed: %+v", res)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file should be gone after delete")
	}
}

func TestFileOperationMissingPath(t *testing.T) {
	e := testExecutor()
	s := testServitor(50)

	res := e.Execute(s, &servitor.Task{
		Name:   "fileop",
		Type:   servitor.TaskFileOperation,
		Params: json.RawMessage(`{"operation":"create"}`),
	})
	if res.Success {
		t.Fatal("create without file_path should fail")
	}
	if !strings.Contains(res.Error, "file_path") {
		t.Errorf("error = %q, want mention of file_path", res.Error)
	}
}

func TestDataProcessing(t *testing.T) {
	e := testExecutor(0, 0, 0)
	s := testServitor(100)

	run := func(params string) Result {
		t.Helper()
		return e.Execute(s, &servitor.Task{
			Name:   "data",
			Type:   servitor.TaskDataProcessing,
			Params: json.RawMessage(params),
		})
	}

	res := run(`{"operation":"count","data":"one two  three"}`)
	if !res.Success {
		t.Fatalf("count failed: %+v", res)
	}
	if res.Value != 3 {
		t.Errorf("count = %v, want 3", res.Value)
	}

	// Array data counts elements instead of tokens.
	res = run(`{"operation":"count","data":["a","b c d",42]}`)
	if !res.Success {
		t.Fatalf("array count failed: %+v", res)
	}
	if res.Value != 3 {
		t.Errorf("array count = %v, want 3 elements", res.Value)
	}

	res = run(`{"operation":"transform","data":"Hello","transform_type":"upper"}`)
	if res.Value != "HELLO" {
		t.Errorf("upper transform = %v, want HELLO", res.Value)
	}

	// Unknown transform types pass the data through unchanged.
	res = run(`{"operation":"transform","data":"Hello","transform_type":"rot13"}`)
	if res.Value != "Hello" {
		t.Errorf("unknown transform = %v, want pass-through", res.Value)
	}
}

func TestDataProcessingRejectsBadShapes(t *testing.T) {
	// Performance 50 keeps the modifier below the recovery cutoff so a
	// failed result stays failed.
	e := testExecutor(0, 0)
	s := testServitor(50)

	run := func(params string) Result {
		t.Helper()
		return e.Execute(s, &servitor.Task{
			Name:   "data",
			Type:   servitor.TaskDataProcessing,
			Params: json.RawMessage(params),
		})
	}

	res := run(`{"operation":"count","data":{"k":1}}`)
	if res.Success {
		t.Fatalf("count of an object should fail: %+v", res)
	}
	if !strings.Contains(res.Error, "string or an array") {
		t.Errorf("error = %q, want shape complaint", res.Error)
	}

	res = run(`{"operation":"transform","data":["a","b"],"transform_type":"upper"}`)
	if res.Success {
		t.Fatalf("transform of an array should fail: %+v", res)
	}
	if !strings.Contains(res.Error, "string") {
		t.Errorf("error = %q, want string requirement", res.Error)
	}
}

func TestLogTaskAppendsLine(t *testing.T) {
	e := testExecutor(0, 0)
	s := testServitor(100)
	logFile := filepath.Join(t.TempDir(), "servitor.log")
	params := fmt.Sprintf(`{"message":"patrol complete","log_file":%q}`, logFile)

	for i := 0; i < 2; i++ {
		res := e.Execute(s, &servitor.Task{
			Name:   "log",
			Type:   servitor.TaskLog,
			Params: json.RawMessage(params),
		})
		if !res.Success {
			t.Fatalf("log failed: %+v", res)
		}
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("log lines = %d, want 2", len(lines))
	}
	if !strings.Contains(lines[0], "Lumen") || !strings.Contains(lines[0], "patrol complete") {
		t.Errorf("unexpected log line: %q", lines[0])
	}
}
