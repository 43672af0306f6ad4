package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestLevel(t *testing.T) {
	testCases := []struct {
		env  string
		want log.Level
	}{
		{"", log.InfoLevel},
		{"debug", log.DebugLevel},
		{"WARN", log.WarnLevel},
		{"error", log.ErrorLevel},
		{"verbose", log.InfoLevel},
	}
	for _, tc := range testCases {
		t.Run(tc.env, func(t *testing.T) {
			t.Setenv("DISFACTS_LOG_LEVEL", tc.env)
			if got := Level(); got != tc.want {
				t.Errorf("Level() = %v, want %v", got, tc.want)
			}
			if IsDebug() != (tc.want == log.DebugLevel) {
				t.Errorf("IsDebug() = %v", IsDebug())
			}
		})
	}
}

func TestNewLoggerWithWriter(t *testing.T) {
	t.Setenv("DISFACTS_LOG_LEVEL", "")
	t.Setenv("DISFACTS_LOG_PREFIX", "")

	var buf bytes.Buffer
	lc := NewLoggerWithWriter(&buf)
	lc.Info("decoded module", "name", "a")
	lc.Debug("hidden")

	out := buf.String()
	if !strings.Contains(out, "disfacts") || !strings.Contains(out, "decoded module") {
		t.Errorf("log output = %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line written at info level: %q", out)
	}
	if err := lc.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
