package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{
			name:   "default config",
			config: nil,
		},
		{
			name: "json format",
			config: &Config{
				Level:  LevelInfo,
				Format: "json",
				Output: &bytes.Buffer{},
			},
		},
		{
			name: "text format",
			config: &Config{
				Level:  LevelDebug,
				Format: "text",
				Output: &bytes.Buffer{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Error("NewLogger() returned nil")
			}
		})
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{
		Level:  LevelDebug,
		Format: "json",
		Output: &buf,
		Sync:   true,
	})

	logger.Info("device opened", "size", 1048576)

	out := buf.String()
	if !strings.Contains(out, `"device opened"`) {
		t.Errorf("output missing message: %s", out)
	}
	if !strings.Contains(out, `"size":1048576`) {
		t.Errorf("output missing field: %s", out)
	}
}

func TestWithDevice(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{
		Level:  LevelDebug,
		Format: "json",
		Output: &buf,
		Sync:   true,
	})

	logger.WithDevice("dev-1").Info("attached")

	out := buf.String()
	if !strings.Contains(out, `"device":"dev-1"`) {
		t.Errorf("output missing device field: %s", out)
	}
}

func TestWithRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{
		Level:  LevelDebug,
		Format: "json",
		Output: &buf,
		Sync:   true,
	})

	logger.WithRequest("write", 4096, 512).Debug("queued")

	out := buf.String()
	for _, want := range []string{`"op":"write"`, `"offset":4096`, `"length":512`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s: %s", want, out)
		}
	}
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{
		Level:  LevelDebug,
		Format: "json",
		Output: &buf,
		Sync:   true,
	})

	logger.WithError(errors.New("boom")).Error("strategy failed")

	out := buf.String()
	if !strings.Contains(out, "boom") {
		t.Errorf("output missing wrapped error: %s", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{
		Level:  LevelError,
		Format: "json",
		Output: &buf,
		Sync:   true,
	})

	logger.Debug("invisible")
	logger.Info("invisible")
	logger.Error("visible")

	out := buf.String()
	if strings.Contains(out, "invisible") {
		t.Errorf("level filtering failed: %s", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("error level suppressed: %s", out)
	}
}

func TestDefaultLogger(t *testing.T) {
	first := Default()
	if first == nil {
		t.Fatal("Default() returned nil")
	}
	if Default() != first {
		t.Error("Default() is not a singleton")
	}

	custom := NewLogger(&Config{Level: LevelDebug, Format: "json", Output: &bytes.Buffer{}, Sync: true})
	SetDefault(custom)
	if Default() != custom {
		t.Error("SetDefault did not replace the default logger")
	}
	SetDefault(first)
}
