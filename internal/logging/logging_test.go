package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{in: "debug", want: zerolog.DebugLevel},
		{in: " INFO ", want: zerolog.InfoLevel},
		{in: "warning", want: zerolog.WarnLevel},
		{in: "disabled", want: zerolog.Disabled},
		{in: "", wantErr: true},
		{in: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Output: &buf})
	if err != nil {
		t.Fatal(err)
	}

	logger.Debug().Msg("hidden")
	logger.Info().Str("id", "t1").Msg("visible")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["message"] != "visible" || entry["id"] != "t1" || entry["level"] != "info" {
		t.Errorf("unexpected entry %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected a timestamp")
	}
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Format: "console", Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info().Msg("hello")
	if strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), "hello") {
		t.Errorf("expected console output, got %q", buf.String())
	}
}

func TestNew_Invalid(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Error("expected level error")
	}
	if _, err := New(Config{Format: "xml"}); err == nil {
		t.Error("expected format error")
	}
}

func TestWatermillAdapter(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewWatermillAdapter(zerolog.New(&buf).Level(zerolog.TraceLevel))

	adapter.With(watermill.LogFields{"topic": "todo-events"}).
		Error("publish failed", errors.New("boom"), watermill.LogFields{"attempt": 2})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"level":     "error",
		"message":   "publish failed",
		"error":     "boom",
		"topic":     "todo-events",
		"component": "watermill",
		"attempt":   float64(2),
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %v", k, entry[k], v)
		}
	}

	buf.Reset()
	adapter.Trace("tick", nil)
	if !strings.Contains(buf.String(), `"level":"trace"`) {
		t.Errorf("expected trace entry, got %q", buf.String())
	}
}
