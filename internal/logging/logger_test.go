package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithOutput(&buf), WithLevel(LevelDebug), WithName("session"))
	l.Info("established", Fields{"role": "initiator"})

	out := buf.String()
	if !strings.Contains(out, "INFO") || !strings.Contains(out, "session") || !strings.Contains(out, "role=initiator") {
		t.Errorf("unexpected text log output: %q", out)
	}
}

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithOutput(&buf), WithFormat(FormatJSON))
	l.Warn("rekey pending")

	out := buf.String()
	if !strings.Contains(out, `"level":"WARN"`) || !strings.Contains(out, "rekey pending") {
		t.Errorf("unexpected json log output: %q", out)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithOutput(&buf), WithLevel(LevelError))
	l.Info("should not appear")
	l.Debug("should not appear either")
	if buf.Len() != 0 {
		t.Errorf("expected no output below configured level, got %q", buf.String())
	}
	l.Error("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Error("error-level message should have been logged")
	}
}

func TestLoggerWithAndNamed(t *testing.T) {
	var buf bytes.Buffer
	base := New(WithOutput(&buf))
	scoped := base.Named("ratchet").With(Fields{"epoch": 3})
	scoped.Info("advance")

	out := buf.String()
	if !strings.Contains(out, "[ratchet]") || !strings.Contains(out, "epoch=3") {
		t.Errorf("expected scoped logger output, got %q", out)
	}
}

func TestGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	SetGlobal(New(WithOutput(&buf)))
	Global().Info("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Error("global logger did not capture message")
	}
}
