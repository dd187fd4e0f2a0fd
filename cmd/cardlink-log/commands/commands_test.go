package commands

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cardlink-protocol/cardlink-go/pkg/log"
)

func TestFormatApduEvent(t *testing.T) {
	ts := time.Date(2026, 3, 4, 10, 15, 32, 123456000, time.UTC)
	processing := 42 * time.Millisecond
	event := log.Event{
		Timestamp:    ts,
		ConnectionID: "abc12345-6789-0123-4567-890abcdef012",
		Direction:    log.DirectionOut,
		Layer:        log.LayerEnvelope,
		Category:     log.CategoryMessage,
		Apdu: &log.ApduEvent{
			Kind:           log.ApduResponse,
			Length:         4,
			Data:           []byte{0x01, 0x02, 0x90, 0x00},
			ProcessingTime: &processing,
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	if !strings.Contains(output, "2026-03-04T10:15:32.123456Z") {
		t.Errorf("expected formatted timestamp, got: %s", output)
	}
	if !strings.Contains(output, "[conn:abc12345]") {
		t.Errorf("expected shortened connection ID, got: %s", output)
	}
	if !strings.Contains(output, "RESPONSE") {
		t.Errorf("expected RESPONSE label, got: %s", output)
	}
	if !strings.Contains(output, "01 02 90 00") {
		t.Errorf("expected hex APDU, got: %s", output)
	}
	if !strings.Contains(output, "Duration: 42ms") {
		t.Errorf("expected processing duration, got: %s", output)
	}
}

func TestFormatCloseEvent(t *testing.T) {
	event := log.Event{
		Timestamp:    time.Now(),
		ConnectionID: "deadbeef",
		Direction:    log.DirectionOut,
		Layer:        log.LayerTransport,
		Category:     log.CategoryControl,
		ControlMsg: &log.ControlMsgEvent{
			Type:        log.ControlMsgClose,
			CloseReason: "AUTH_FAILED",
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	if !strings.Contains(output, "CTRL CLOSE") {
		t.Errorf("expected CTRL CLOSE header, got: %s", output)
	}
	if !strings.Contains(output, "Reason: AUTH_FAILED") {
		t.Errorf("expected close reason, got: %s", output)
	}
}

func TestFormatStateChangeEvent(t *testing.T) {
	event := log.Event{
		Timestamp:    time.Now(),
		ConnectionID: "deadbeef",
		Direction:    log.DirectionIn,
		Layer:        log.LayerSession,
		Category:     log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: "AUTHENTICATING",
			NewState: "ACTIVE",
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	if !strings.Contains(output, "AUTHENTICATING -> ACTIVE") {
		t.Errorf("expected state transition, got: %s", output)
	}
}

// writeTestCapture writes a small capture file and returns its path.
func writeTestCapture(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.clog")
	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}

	base := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	processing := 5 * time.Millisecond
	events := []log.Event{
		{
			Timestamp:    base,
			ConnectionID: "conn-1",
			Direction:    log.DirectionIn,
			Layer:        log.LayerEnvelope,
			Category:     log.CategoryMessage,
			Apdu:         &log.ApduEvent{Kind: log.ApduCommand, Length: 2, Data: []byte{0x00, 0xA4}},
		},
		{
			Timestamp:    base.Add(5 * time.Millisecond),
			ConnectionID: "conn-1",
			Direction:    log.DirectionOut,
			Layer:        log.LayerEnvelope,
			Category:     log.CategoryMessage,
			Apdu: &log.ApduEvent{
				Kind: log.ApduResponse, Length: 4,
				Data:           []byte{0x00, 0xA4, 0x90, 0x00},
				ProcessingTime: &processing,
			},
		},
		{
			Timestamp:    base.Add(time.Second),
			ConnectionID: "conn-2",
			Direction:    log.DirectionIn,
			Layer:        log.LayerSession,
			Category:     log.CategoryError,
			Error: &log.ErrorEventData{
				Layer:   log.LayerSecure,
				Message: "decryption failed",
			},
		},
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func TestRunView(t *testing.T) {
	path := writeTestCapture(t)

	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{}, &buf); err != nil {
		t.Fatalf("RunView: %v", err)
	}
	output := buf.String()

	if !strings.Contains(output, "COMMAND") || !strings.Contains(output, "RESPONSE") {
		t.Errorf("expected command and response events, got: %s", output)
	}
	if !strings.Contains(output, "decryption failed") {
		t.Errorf("expected error event, got: %s", output)
	}
}

func TestRunViewWithLayerFilter(t *testing.T) {
	path := writeTestCapture(t)

	layer := log.LayerSession
	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{Layer: &layer}, &buf); err != nil {
		t.Fatalf("RunView: %v", err)
	}
	output := buf.String()

	if strings.Contains(output, "COMMAND") {
		t.Errorf("envelope events should be filtered out, got: %s", output)
	}
	if !strings.Contains(output, "Error") {
		t.Errorf("expected session error event, got: %s", output)
	}
}

func TestRunStats(t *testing.T) {
	path := writeTestCapture(t)

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats: %v", err)
	}
	output := buf.String()

	for _, want := range []string{
		"Total Events: 3",
		"APDU Commands:  1",
		"APDU Responses: 1",
		"Connections: 2",
		"Errors: 1",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("stats output missing %q:\n%s", want, output)
		}
	}
}

func TestRunFilter(t *testing.T) {
	path := writeTestCapture(t)
	output := filepath.Join(t.TempDir(), "filtered.clog")

	err := RunFilter(path, FilterOptions{Output: output, ConnID: "conn-1"})
	if err != nil {
		t.Fatalf("RunFilter: %v", err)
	}

	reader, err := log.NewReader(output)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer reader.Close()

	count := 0
	for {
		event, err := reader.Next()
		if err != nil {
			break
		}
		if event.ConnectionID != "conn-1" {
			t.Errorf("unexpected connection ID %q", event.ConnectionID)
		}
		count++
	}
	if count != 2 {
		t.Errorf("filtered event count = %d, want 2", count)
	}
}

func TestRunExport(t *testing.T) {
	path := writeTestCapture(t)

	var buf bytes.Buffer
	if err := RunExport(path, &buf); err != nil {
		t.Fatalf("RunExport: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("exported %d lines, want 3", len(lines))
	}
	if !strings.Contains(lines[0], `"kind":"COMMAND"`) {
		t.Errorf("first line should be the command event: %s", lines[0])
	}
}

func TestParseFlags(t *testing.T) {
	if _, err := ParseLayerFlag("bogus"); err == nil {
		t.Error("expected error for unknown layer")
	}
	l, err := ParseLayerFlag("envelope")
	if err != nil || l != log.LayerEnvelope {
		t.Errorf("ParseLayerFlag(envelope) = %v, %v", l, err)
	}
	d, err := ParseDirectionFlag("out")
	if err != nil || d != log.DirectionOut {
		t.Errorf("ParseDirectionFlag(out) = %v, %v", d, err)
	}
	c, err := ParseCategoryFlag("control")
	if err != nil || c != log.CategoryControl {
		t.Errorf("ParseCategoryFlag(control) = %v, %v", c, err)
	}
}
