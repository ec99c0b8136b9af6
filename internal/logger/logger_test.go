package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"7", zerolog.DebugLevel},
		{"6", zerolog.InfoLevel},
		{"5", zerolog.InfoLevel},
		{"4", zerolog.WarnLevel},
		{"3", zerolog.ErrorLevel},
		{"0", zerolog.FatalLevel},
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{" error ", zerolog.ErrorLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLevel(%q) err=%v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q)=%v, want %v", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"-1", "loud"} {
		if _, err := ParseLevel(bad); err == nil {
			t.Errorf("ParseLevel(%q) succeeded, want error", bad)
		}
	}
}

func TestNew_ExtraWriterAndLevel(t *testing.T) {
	var sink bytes.Buffer
	l, err := New(Config{Level: "4"}, nil, &sink)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	defer l.Close()

	l.Info().Msg("hidden")
	l.Warn().Str("component", "adacom").Msg("shown")

	out := sink.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line logged at warn level: %s", out)
	}
	if !strings.Contains(out, `"component":"adacom"`) || !strings.Contains(out, "shown") {
		t.Errorf("warn line missing: %s", out)
	}
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "adacon.log")
	l, err := New(Config{Level: "debug", File: path}, nil)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	l.Debug().Msg("to file")
	if err := l.Close(); err != nil {
		t.Fatalf("Close() err=%v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("log file=%q", data)
	}
}

func TestNew_BadLevel(t *testing.T) {
	if _, err := New(Config{Level: "chatty"}, nil); err == nil {
		t.Fatal("New() with bad level succeeded")
	}
}
