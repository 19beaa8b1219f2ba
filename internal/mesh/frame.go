package mesh

import (
	"encoding/json"
	"fmt"

	"github.com/tandemlabs/tandem/internal/op"
)

// Frame types on the wire.
const (
	frameTypeOp    = "op"
	frameTypeState = "state"
)

// frame is the wire envelope. An "op" frame carries exactly one
// operation; a "state" frame carries the sender's log head and opens a
// reconciliation exchange.
type frame struct {
	Type string `json:"type"`

	// Op frames.
	Op *op.Operation `json:"op,omitempty"`

	// State frames.
	InstanceID      string `json:"instance_id,omitempty"`
	LastOperationID int64  `json:"last_operation_id,omitempty"`
	TimestampNanos  int64  `json:"timestamp_nanos,omitempty"`
}

// encodeOpFrame serializes one operation for broadcast.
func encodeOpFrame(o op.Operation) ([]byte, error) {
	data, err := json.Marshal(frame{Type: frameTypeOp, Op: &o})
	if err != nil {
		return nil, fmt.Errorf("encode op frame: %w", err)
	}
	return data, nil
}

// encodeStateFrame serializes a log-head announcement.
func encodeStateFrame(instanceID string, lastOperationID, timestampNanos int64) ([]byte, error) {
	data, err := json.Marshal(frame{
		Type:            frameTypeState,
		InstanceID:      instanceID,
		LastOperationID: lastOperationID,
		TimestampNanos:  timestampNanos,
	})
	if err != nil {
		return nil, fmt.Errorf("encode state frame: %w", err)
	}
	return data, nil
}

// decodeFrame parses and validates one inbound frame. Frames from
// peers are untrusted input: a decode error here means the frame is
// dropped and counted, never that the connection or the mesh fails.
func decodeFrame(data []byte) (*frame, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch f.Type {
	case frameTypeOp:
		if f.Op == nil {
			return nil, fmt.Errorf("op frame carries no operation")
		}
		if f.Op.ContentLength != len(f.Op.Content) {
			return nil, fmt.Errorf("op frame content_length %d does not match %d content bytes",
				f.Op.ContentLength, len(f.Op.Content))
		}
		if err := f.Op.Validate(); err != nil {
			return nil, fmt.Errorf("op frame invalid: %w", err)
		}
	case frameTypeState:
		if f.InstanceID == "" {
			return nil, fmt.Errorf("state frame carries no instance_id")
		}
	default:
		return nil, fmt.Errorf("unknown frame type %q", f.Type)
	}

	return &f, nil
}
