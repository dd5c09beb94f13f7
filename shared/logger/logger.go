// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

var levelRank = map[LogLevel]int{
	DEBUG: 0,
	INFO:  1,
	WARN:  2,
	ERROR: 3,
}

// ParseLevel maps a case-insensitive level name to a LogLevel, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch LogLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case DEBUG:
		return DEBUG
	case WARN, "WARNING":
		return WARN
	case ERROR:
		return ERROR
	default:
		return INFO
	}
}

// Logger provides structured logging correlated by task and pipeline stage
type Logger struct {
	Component  string
	InstanceID string
	Container  string

	minLevel LogLevel
	out      io.Writer
	mu       sync.Mutex
}

// LogEntry is a single structured log line
type LogEntry struct {
	Timestamp  string                 `json:"timestamp"`
	Level      LogLevel               `json:"level"`
	Component  string                 `json:"component"`
	InstanceID string                 `json:"instance_id"`
	Container  string                 `json:"container"`
	TaskID     string                 `json:"task_id,omitempty"`
	Stage      string                 `json:"stage,omitempty"`
	Message    string                 `json:"message"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// New creates a Logger for the specified component writing to stdout.
// The minimum level comes from LOG_LEVEL.
func New(component string) *Logger {
	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		instanceID = "unknown"
	}

	container, err := os.Hostname()
	if err != nil {
		container = "unknown"
	}

	return &Logger{
		Component:  component,
		InstanceID: instanceID,
		Container:  container,
		minLevel:   ParseLevel(os.Getenv("LOG_LEVEL")),
		out:        os.Stdout,
	}
}

// WithOutput redirects the logger and returns it for chaining.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	l.mu.Lock()
	l.out = w
	l.mu.Unlock()
	return l
}

// SetLevel changes the minimum level that is written.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	l.minLevel = level
	l.mu.Unlock()
}

// Log writes one JSON line if level passes the configured threshold.
func (l *Logger) Log(level LogLevel, taskID, stage, message string, fields map[string]interface{}) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if levelRank[level] < levelRank[l.minLevel] {
		return
	}

	entry := LogEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Level:      level,
		Component:  l.Component,
		InstanceID: l.InstanceID,
		Container:  l.Container,
		TaskID:     taskID,
		Stage:      stage,
		Message:    message,
		Fields:     fields,
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(l.out, "ERROR: failed to marshal log entry: %v\n", err)
		return
	}

	_, _ = l.out.Write(append(jsonBytes, '\n'))
}

// Info logs an informational message
func (l *Logger) Info(taskID, stage, message string, fields map[string]interface{}) {
	l.Log(INFO, taskID, stage, message, fields)
}

// Error logs an error message
func (l *Logger) Error(taskID, stage, message string, fields map[string]interface{}) {
	l.Log(ERROR, taskID, stage, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(taskID, stage, message string, fields map[string]interface{}) {
	l.Log(WARN, taskID, stage, message, fields)
}

// Debug logs a debug message
func (l *Logger) Debug(taskID, stage, message string, fields map[string]interface{}) {
	l.Log(DEBUG, taskID, stage, message, fields)
}

// InfoWithDuration logs an info message with a duration_ms field
func (l *Logger) InfoWithDuration(taskID, stage, message string, d time.Duration, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["duration_ms"] = float64(d.Microseconds()) / 1000.0
	l.Info(taskID, stage, message, fields)
}

// ErrorWithErr logs an error message with the error text attached
func (l *Logger) ErrorWithErr(taskID, stage, message string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Error(taskID, stage, message, fields)
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard(component string) *Logger {
	return New(component).WithOutput(io.Discard)
}
