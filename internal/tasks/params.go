package tasks

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/StevenWanglolz/Occult-Magick/internal/servitor"
)

// File operation sub-operations.
const (
	FileOpCreate = "create"
	FileOpAppend = "append"
	FileOpDelete = "delete"
	FileOpRead   = "read"
)

// Data processing sub-operations and transform types.
const (
	DataOpCount     = "count"
	DataOpTransform = "transform"

	TransformUpper = "upper"
	TransformLower = "lower"
)

// FileOperationParams are the parameters for a file_operation task.
type FileOperationParams struct {
	Operation string `json:"operation"`
	FilePath  string `json:"file_path"`
	Content   string `json:"content,omitempty"`
}

// ReminderParams are the parameters for a reminder task.
type ReminderParams struct {
	Message string `json:"message"`
}

// DataProcessingParams are the parameters for a data_processing task.
// Data is either a JSON string or a JSON array: count reports tokens for
// a string and elements for an array; transform requires a string.
type DataProcessingParams struct {
	Operation     string          `json:"operation"`
	Data          json.RawMessage `json:"data,omitempty"`
	TransformType string          `json:"transform_type,omitempty"`
}

// dataString interprets the data payload as a JSON string. A missing
// payload reads as the empty string.
func (p DataProcessingParams) dataString() (string, bool) {
	if len(p.Data) == 0 {
		return "", true
	}
	var s string
	if err := json.Unmarshal(p.Data, &s); err != nil {
		return "", false
	}
	return s, true
}

// dataItems interprets the data payload as a JSON array.
func (p DataProcessingParams) dataItems() ([]json.RawMessage, bool) {
	if len(p.Data) == 0 {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(p.Data, &items); err != nil {
		return nil, false
	}
	return items, true
}

// LogParams are the parameters for a log task.
type LogParams struct {
	Message string `json:"message"`
	LogFile string `json:"log_file,omitempty"`
}

// decodeParams strictly decodes raw into dst. Unknown keys are an error
// rather than being silently dropped, so a typo in a parameter name
// surfaces when the task is declared, not at execution time.
func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", servitor.ErrValidation, err)
	}
	return nil
}

// ValidateParams checks that raw decodes into the parameter struct for the
// given task type and that required fields are present. Called when a task
// is declared.
func ValidateParams(taskType servitor.TaskType, raw json.RawMessage) error {
	switch taskType {
	case servitor.TaskFileOperation:
		var p FileOperationParams
		if err := decodeParams(raw, &p); err != nil {
			return err
		}
		switch p.Operation {
		case "", FileOpCreate, FileOpAppend, FileOpDelete, FileOpRead:
		default:
			return fmt.Errorf("%w: unknown file operation %q", servitor.ErrValidation, p.Operation)
		}
		if p.FilePath == "" {
			return fmt.Errorf("%w: file_path is required", servitor.ErrValidation)
		}
		return nil
	case servitor.TaskReminder:
		var p ReminderParams
		return decodeParams(raw, &p)
	case servitor.TaskDataProcessing:
		var p DataProcessingParams
		if err := decodeParams(raw, &p); err != nil {
			return err
		}
		switch p.Operation {
		case "", DataOpCount, DataOpTransform:
		default:
			return fmt.Errorf("%w: unknown data operation %q", servitor.ErrValidation, p.Operation)
		}
		if len(p.Data) > 0 {
			if _, ok := p.dataString(); !ok {
				if _, ok := p.dataItems(); !ok {
					return fmt.Errorf("%w: data must be a string or an array", servitor.ErrValidation)
				}
			}
		}
		return nil
	case servitor.TaskLog:
		var p LogParams
		return decodeParams(raw, &p)
	default:
		return fmt.Errorf("%w: unknown task type %q", servitor.ErrValidation, taskType)
	}
}
