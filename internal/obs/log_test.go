package obs

import (
	"bytes"
	"encoding/json"
	stdlog "log"
	"testing"
)

// capture redirects logger output for the duration of a test.
func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := base
	base = stdlog.New(&buf, "", 0)
	t.Cleanup(func() { base = orig })
	return &buf
}

func TestComponentTagsEveryLine(t *testing.T) {
	buf := capture(t)

	Component("tunnel").Info("channel.open", Fields{"relay": "wss://r/register"})

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line not JSON: %v (%s)", err, buf.Bytes())
	}
	if line["component"] != "tunnel" {
		t.Errorf("component = %v, want tunnel", line["component"])
	}
	if line["level"] != "info" || line["msg"] != "channel.open" {
		t.Errorf("level/msg = %v/%v", line["level"], line["msg"])
	}
	if line["relay"] != "wss://r/register" {
		t.Errorf("caller field lost: %v", line)
	}
	if line["ts"] == nil {
		t.Error("missing timestamp")
	}
}

func TestDebugGatedByEnableDebug(t *testing.T) {
	buf := capture(t)
	log := Component("forward")

	log.Debug("frame.drop", nil)
	if buf.Len() != 0 {
		t.Errorf("debug line emitted while disabled: %s", buf.Bytes())
	}

	EnableDebug(true)
	t.Cleanup(func() { EnableDebug(false) })
	log.Debug("frame.drop", nil)
	if buf.Len() == 0 {
		t.Fatal("debug line not emitted while enabled")
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line not JSON: %v", err)
	}
	if line["level"] != "debug" || line["component"] != "forward" {
		t.Errorf("level/component = %v/%v", line["level"], line["component"])
	}
}
