package logging

import (
	"bytes"
	"testing"

	"strand/internal/observability"
)

func TestOrNopHandlesTypedNilPointers(t *testing.T) {
	var legacy *slogPrintfLogger
	var logger Logger = legacy
	if !IsNil(logger) {
		t.Fatalf("expected typed nil pointer to be detected")
	}
	safe := OrNop(logger)
	if IsNil(safe) {
		t.Fatalf("expected OrNop to return a usable logger")
	}
	safe.Info("hello %s", "world") // should not panic
}

func TestFromObservabilityFormatsMessages(t *testing.T) {
	buf := &bytes.Buffer{}
	base := observability.NewLogger(observability.LogConfig{
		Level:  "info",
		Format: "text",
		Output: buf,
	})

	logger := FromObservabilityWithComponent(base, "test")
	logger.Info("hello %s", "world")

	if got := buf.String(); got == "" {
		t.Fatalf("expected log output")
	}
	if want := "hello world"; !bytes.Contains(buf.Bytes(), []byte(want)) {
		t.Fatalf("expected %q in output, got %q", want, buf.String())
	}
}

func TestFromObservabilityNilReturnsNop(t *testing.T) {
	logger := FromObservabilityWithComponent(nil, "test")
	if IsNil(logger) {
		t.Fatalf("expected a usable logger")
	}
	logger.Error("ignored %d", 1)
}

func TestMultiFansOut(t *testing.T) {
	first := &bytes.Buffer{}
	second := &bytes.Buffer{}
	a := FromObservabilityWithComponent(observability.NewLogger(observability.LogConfig{Level: "debug", Format: "text", Output: first}), "a")
	b := FromObservabilityWithComponent(observability.NewLogger(observability.LogConfig{Level: "debug", Format: "text", Output: second}), "b")

	combined := Multi(a, nil, b)
	combined.Info("fan %s", "out")

	if !bytes.Contains(first.Bytes(), []byte("fan out")) {
		t.Fatalf("first logger missed message: %q", first.String())
	}
	if !bytes.Contains(second.Bytes(), []byte("fan out")) {
		t.Fatalf("second logger missed message: %q", second.String())
	}
}

func TestMultiCollapsesToNop(t *testing.T) {
	if got := Multi(nil, nil); IsNil(got) {
		t.Fatalf("expected non-nil nop logger")
	}
}
