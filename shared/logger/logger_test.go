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
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) LogEntry {
	t.Helper()
	var entry LogEntry
	line := strings.TrimSpace(buf.String())
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("Failed to parse JSON log: %v\nOutput: %s", err, line)
	}
	return entry
}

// TestNew tests logger initialization
func TestNew(t *testing.T) {
	tests := []struct {
		name           string
		instanceID     string
		expectedInstID string
	}{
		{name: "with instance ID set", instanceID: "instance-123", expectedInstID: "instance-123"},
		{name: "without instance ID", instanceID: "", expectedInstID: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("INSTANCE_ID", tt.instanceID)

			l := New("engine")

			if l.Component != "engine" {
				t.Errorf("Expected component engine, got %s", l.Component)
			}
			if l.InstanceID != tt.expectedInstID {
				t.Errorf("Expected instance ID %s, got %s", tt.expectedInstID, l.InstanceID)
			}
			if l.Container == "" {
				t.Error("Expected container to be set from hostname")
			}
		})
	}
}

// TestLogLevels tests all log level methods
func TestLogLevels(t *testing.T) {
	tests := []struct {
		name    string
		logFunc func(*Logger, string, string, string, map[string]interface{})
		level   LogLevel
		fields  map[string]interface{}
	}{
		{name: "Info log", logFunc: (*Logger).Info, level: INFO, fields: map[string]interface{}{"key": "value"}},
		{name: "Error log", logFunc: (*Logger).Error, level: ERROR, fields: map[string]interface{}{"code": "x"}},
		{name: "Warn log", logFunc: (*Logger).Warn, level: WARN},
		{name: "Debug log", logFunc: (*Logger).Debug, level: DEBUG, fields: map[string]interface{}{"debug": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := New("test-component").WithOutput(&buf)
			l.SetLevel(DEBUG)

			tt.logFunc(l, "task_1", "planner", "message", tt.fields)

			entry := decodeLine(t, &buf)
			if entry.Level != tt.level {
				t.Errorf("Expected level %s, got %s", tt.level, entry.Level)
			}
			if entry.TaskID != "task_1" || entry.Stage != "planner" {
				t.Errorf("Unexpected correlation fields: %+v", entry)
			}
			if _, err := time.Parse(time.RFC3339Nano, entry.Timestamp); err != nil {
				t.Errorf("Invalid timestamp format: %s", entry.Timestamp)
			}
			for key, want := range tt.fields {
				if got := entry.Fields[key]; got != want {
					t.Errorf("Field %q: expected %v, got %v", key, want, got)
				}
			}
		})
	}
}

func TestLevelThreshold(t *testing.T) {
	var buf bytes.Buffer
	l := New("test-component").WithOutput(&buf)
	l.SetLevel(WARN)

	l.Info("task_1", "", "dropped", nil)
	l.Debug("task_1", "", "dropped", nil)
	if buf.Len() != 0 {
		t.Fatalf("Expected no output below threshold, got %q", buf.String())
	}

	l.Warn("task_1", "", "kept", nil)
	if entry := decodeLine(t, &buf); entry.Message != "kept" {
		t.Errorf("Expected kept message, got %q", entry.Message)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DEBUG,
		"WARNING": WARN,
		" error ": ERROR,
		"":        INFO,
		"verbose": INFO,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

// TestInfoWithDuration tests the InfoWithDuration helper method
func TestInfoWithDuration(t *testing.T) {
	var buf bytes.Buffer
	l := New("test-component").WithOutput(&buf)

	l.InfoWithDuration("task_1", "experts", "stage finished", 1500*time.Microsecond, map[string]interface{}{
		"experts": 4,
	})

	entry := decodeLine(t, &buf)
	if entry.Fields["duration_ms"] != 1.5 {
		t.Errorf("Expected duration_ms 1.5, got %v", entry.Fields["duration_ms"])
	}
	if entry.Fields["experts"] != float64(4) {
		t.Errorf("Expected experts field to be preserved, got %v", entry.Fields["experts"])
	}
}

func TestErrorWithErr(t *testing.T) {
	var buf bytes.Buffer
	l := New("test-component").WithOutput(&buf)

	l.ErrorWithErr("task_1", "critic", "stage failed", errors.New("upstream closed"), nil)

	entry := decodeLine(t, &buf)
	if entry.Level != ERROR {
		t.Errorf("Expected ERROR level, got %s", entry.Level)
	}
	if entry.Fields["error"] != "upstream closed" {
		t.Errorf("Expected error field, got %v", entry.Fields["error"])
	}
}

// TestJSONMarshalError tests behavior when JSON marshaling fails
func TestJSONMarshalError(t *testing.T) {
	var buf bytes.Buffer
	l := New("test-component").WithOutput(&buf)

	l.Info("task_1", "", "Test message", map[string]interface{}{
		"channel": make(chan int),
	})

	if !strings.Contains(buf.String(), "failed to marshal log entry") {
		t.Error("Expected error message about JSON marshaling failure")
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Info("task_1", "", "ignored", nil)
}

func BenchmarkLog(b *testing.B) {
	l := Discard("bench")
	fields := map[string]interface{}{"experts": 5}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Info("task_1", "experts", "expert finished", fields)
	}
}
