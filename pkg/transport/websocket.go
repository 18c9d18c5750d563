/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package transport provides one concrete, explicitly optional binding
// of pkg/runtime.ReferenceRuntime to a network socket. spec.md §1
// treats "the transport/delta client (socket, backoff, token refresh)"
// as an external collaborator out of this module's scope; this package
// exists only so the runtime hooks have a real wire to exercise in
// integration tests, not to implement a production delta client. No
// backoff, token refresh, or reconnect policy beyond simple pacing is
// implemented here.
package transport

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/wes-carlson/fluidcore/pkg/pendingstate"
	fluidruntime "github.com/wes-carlson/fluidcore/pkg/runtime"
)

// wireOp is the framed message sent over the websocket for a
// resubmitted (or freshly submitted) op.
type wireOp struct {
	MessageType   string                 `json:"messageType"`
	Content       json.RawMessage        `json:"content"`
	LocalMetadata json.RawMessage        `json:"localMetadata,omitempty"`
	OpMetadata    map[string]interface{} `json:"opMetadata,omitempty"`
}

// wireAck is the framed message the sequencer echoes back.
type wireAck struct {
	Type                 string `json:"type"`
	ClientID             string `json:"clientId"`
	ClientSequenceNumber uint64 `json:"clientSequenceNumber"`
	SequenceNumber       uint64 `json:"sequenceNumber"`
	IsLocal              bool   `json:"isLocal"`
	BatchMetadata        string `json:"batchMetadata,omitempty"` // "true" | "false" | ""
}

// WebsocketDeltaStream pumps resubmitted ops out over a websocket
// connection and acks back in, at a bounded rate so a large replayed
// batch on reconnect does not saturate the socket. It does not retry,
// refresh tokens, or reconnect on its own — that policy genuinely is
// out of this module's scope per spec.md §1 and is left to the host.
type WebsocketDeltaStream struct {
	conn    *websocket.Conn
	limiter *rate.Limiter
	sm      *pendingstate.PendingStateMachine
}

// NewWebsocketDeltaStream wraps an already-dialed websocket connection.
// ratePerSecond bounds how many resubmitted ops are written per
// second; burst allows short bursts above that steady rate.
func NewWebsocketDeltaStream(conn *websocket.Conn, sm *pendingstate.PendingStateMachine, ratePerSecond float64, burst int) *WebsocketDeltaStream {
	return &WebsocketDeltaStream{
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		sm:      sm,
	}
}

// SendResubmit writes a single resubmitted op to the socket, blocking
// until the rate limiter admits it or ctx is done.
func (w *WebsocketDeltaStream) SendResubmit(ctx context.Context, op fluidruntime.OutboundOp) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return errors.WithMessage(err, "rate limiter wait failed")
	}

	msg := wireOp{
		MessageType:   op.MessageType,
		Content:       op.Content,
		LocalMetadata: op.LocalMetadata,
		OpMetadata:    op.OpMetadata,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.WithMessage(err, "could not marshal resubmitted op")
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return errors.WithMessage(err, "could not write resubmitted op")
	}
	return nil
}

// ReadAckLoop blocks reading acks from the socket and forwards each to
// the state machine's ProcessAck. It returns when ctx is done, a read
// fails, an ack does not unmarshal, or ProcessAck returns an error;
// ctx is checked only between reads, so a read already blocked on the
// socket is not interrupted by ctx. It is meant to run on its own goroutine; the state machine
// itself is still only ever called from this one goroutine, preserving
// spec.md §5's single-threaded-cooperative requirement.
func (w *WebsocketDeltaStream) ReadAckLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, payload, err := w.conn.ReadMessage()
		if err != nil {
			return errors.WithMessage(err, "websocket read failed")
		}

		var ack wireAck
		if err := json.Unmarshal(payload, &ack); err != nil {
			return errors.WithMessage(err, "could not unmarshal ack")
		}

		sm := pendingstate.SequencedMessage{
			Type:                 ack.Type,
			ClientID:             ack.ClientID,
			ClientSequenceNumber: ack.ClientSequenceNumber,
			SequenceNumber:       ack.SequenceNumber,
			BatchMetadata:        decodeBatchMetadata(ack.BatchMetadata),
		}

		if _, _, err := w.sm.ProcessAck(sm, ack.IsLocal); err != nil {
			return errors.WithMessage(err, "ack processing failed")
		}
	}
}

func decodeBatchMetadata(s string) pendingstate.BatchMetadata {
	switch s {
	case "true":
		return pendingstate.BatchMetadataTrue
	case "false":
		return pendingstate.BatchMetadataFalse
	default:
		return pendingstate.BatchMetadataAbsent
	}
}
