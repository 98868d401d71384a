package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input string
		want  Level
		ok    bool
	}{
		{"trace", LevelTrace, true},
		{"DEBUG", LevelDebug, true},
		{"Info", LevelInfo, true},
		{"warn", LevelWarning, true},
		{"WARNING", LevelWarning, true},
		{"error", LevelError, true},
		{"FATAL", LevelFatal, true},
		{"verbose", LevelInfo, false},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseLevel(tc.input)
			if (err == nil) != tc.ok {
				t.Fatalf("ParseLevel(%q) error = %v", tc.input, err)
			}
			if got != tc.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

// TestLevelFiltering verifies records below the level are dropped and custom levels are named
func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	prev := GetLevel()
	defer func() {
		SetLevel(prev)
		SetOutput(os.Stdout)
	}()

	SetLevel(LevelInfo)
	Debug("hidden")
	Info("shown", "rule_id", "vip")
	if strings.Contains(buf.String(), "hidden") {
		t.Error("debug record should be filtered at INFO")
	}

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("output is not a single JSON record: %v: %s", err, buf.String())
	}
	if rec["msg"] != "shown" || rec["rule_id"] != "vip" {
		t.Errorf("record = %v", rec)
	}

	buf.Reset()
	SetLevel(LevelTrace)
	Trace("deep")
	if !strings.Contains(buf.String(), `"level":"TRACE"`) {
		t.Errorf("trace level should be named, got %s", buf.String())
	}
}

// TestCountersIgnoreSampling verifies counters are incremented even when output is sampled away
func TestCountersIgnoreSampling(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetSampleRate(1_000_000)
	defer func() {
		SetSampleRate(100)
		SetOutput(os.Stdout)
	}()

	before := Counters()
	for i := 0; i < 10; i++ {
		WarnActionFailed("vip", os.ErrInvalid)
	}
	ErrorHttp5xx()
	WarnHttp4xx(404)
	WarnHttp4xx(400)
	after := Counters()

	if got := after["action_failure"] - before["action_failure"]; got != 10 {
		t.Errorf("action_failure delta = %d, want 10", got)
	}
	if got := after["warnings"] - before["warnings"]; got != 12 {
		t.Errorf("warnings delta = %d, want 12", got)
	}
	if got := after["http_5xx"] - before["http_5xx"]; got != 1 {
		t.Errorf("http_5xx delta = %d, want 1", got)
	}
	if after["http_404"]-before["http_404"] != 1 || after["http_400"]-before["http_400"] != 1 {
		t.Error("status specific counters should be incremented")
	}
}
