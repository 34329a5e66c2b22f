package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestTextLoggerFiltersAndFormats(t *testing.T) {
	var buf bytes.Buffer
	l := New(Info, Text, &buf).With(Field{Key: "dir", Value: "RX"})
	l.Debug("hidden")
	l.Info("engine state", Field{Key: "to", Value: "streaming"})

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line leaked: %q", out)
	}
	if !strings.Contains(out, "[INFO] engine state dir=RX to=streaming") {
		t.Fatalf("unexpected text output %q", out)
	}
}

func TestJSONLoggerRendersErrors(t *testing.T) {
	var buf bytes.Buffer
	l := New(Debug, JSON, &buf)
	l.Error("transfer failed", Field{Key: "err", Value: errors.New("timeout")}, Field{Key: "code", Value: -6})

	var payload map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &payload); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if payload["level"] != "ERROR" || payload["msg"] != "transfer failed" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if payload["err"] != "timeout" {
		t.Fatalf("err field = %v, want timeout", payload["err"])
	}
	if payload["code"] != float64(-6) {
		t.Fatalf("code field = %v", payload["code"])
	}
}

func TestParse(t *testing.T) {
	if lvl, err := ParseLevel("WARNING"); err != nil || lvl != Warn {
		t.Fatalf("ParseLevel = %v, %v", lvl, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if f, err := ParseFormat("json"); err != nil || f != JSON {
		t.Fatalf("ParseFormat = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestDefaultAndStdLogger(t *testing.T) {
	prev := Default()
	defer SetDefault(prev)

	var buf bytes.Buffer
	SetDefault(New(Debug, Text, &buf))
	SetDefault(nil)
	std := StdLogger(nil, Warn)
	std.Printf("slow query %dms", 250)

	if !strings.Contains(buf.String(), "[WARN] slow query 250ms") {
		t.Fatalf("std logger output %q", buf.String())
	}
	if Or(nil) != Default() {
		t.Fatalf("Or(nil) should return the default logger")
	}
}
