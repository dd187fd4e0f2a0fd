package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/cardlink-protocol/cardlink-go/pkg/log"
)

// RunExport writes the capture file as JSON Lines, one event per line.
func RunExport(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	enc := json.NewEncoder(w)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := enc.Encode(exportEvent(event)); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return nil
}

// exportEvent flattens an Event into JSON-friendly form with symbolic
// names instead of numeric enum values.
func exportEvent(event log.Event) map[string]any {
	out := map[string]any{
		"timestamp": event.Timestamp,
		"conn_id":   event.ConnectionID,
		"direction": event.Direction.String(),
		"layer":     event.Layer.String(),
		"category":  event.Category.String(),
	}
	if event.RemoteAddr != "" {
		out["remote_addr"] = event.RemoteAddr
	}

	switch {
	case event.Frame != nil:
		out["frame"] = event.Frame
	case event.Apdu != nil:
		apdu := map[string]any{
			"kind":   event.Apdu.Kind.String(),
			"length": event.Apdu.Length,
			"data":   formatApduHex(event.Apdu.Data),
		}
		if event.Apdu.ProcessingTime != nil {
			apdu["processing_time"] = event.Apdu.ProcessingTime.String()
		}
		out["apdu"] = apdu
	case event.StateChange != nil:
		out["state_change"] = map[string]any{
			"entity":    event.StateChange.Entity.String(),
			"old_state": event.StateChange.OldState,
			"new_state": event.StateChange.NewState,
			"reason":    event.StateChange.Reason,
		}
	case event.ControlMsg != nil:
		out["control"] = map[string]any{
			"type":         event.ControlMsg.Type.String(),
			"close_reason": event.ControlMsg.CloseReason,
		}
	case event.Error != nil:
		out["error"] = map[string]any{
			"layer":   event.Error.Layer.String(),
			"message": event.Error.Message,
			"context": event.Error.Context,
		}
	}
	return out
}
