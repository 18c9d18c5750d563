/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package wire encodes and decodes pendingstate.SerializedPendingState
// to the opaque byte blob spec.md §6.3 leaves to the host. It uses
// github.com/goccy/go-json as a drop-in, higher-throughput stand-in
// for encoding/json (the same library tomtom215-cartographus uses for
// its hot-path JSON), with optional gzip compression via
// github.com/klauspost/compress/gzip for large handoff blobs.
package wire

import (
	"bytes"
	"io"

	gojson "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"github.com/wes-carlson/fluidcore/pkg/pendingstate"
)

// wireEntryType mirrors pendingstate.SerializedEntryType as a string
// tag so the on-disk format is self-describing and stable even if the
// internal iota ordering ever changes.
type wireEntryType string

const (
	wireMessage     wireEntryType = "message"
	wireFlushMode   wireEntryType = "flushMode"
	wireFlushMarker wireEntryType = "flush"
)

type wireFlushMode string

const (
	wireFlushAutomatic wireFlushMode = "automatic"
	wireFlushManual    wireFlushMode = "manual"
)

// wireEntry is the JSON shape of a single PendingLocalState entry
// (spec.md §6.3's Entry tagged union).
type wireEntry struct {
	Type wireEntryType `json:"type"`

	MessageType             string                 `json:"messageType,omitempty"`
	ClientSequenceNumber    uint64                 `json:"clientSequenceNumber,omitempty"`
	ReferenceSequenceNumber uint64                 `json:"referenceSequenceNumber,omitempty"`
	Content                 []byte                 `json:"content,omitempty"`
	LocalOpMetadata         []byte                 `json:"localOpMetadata,omitempty"`
	OpMetadata              map[string]interface{} `json:"opMetadata,omitempty"`

	FlushMode wireFlushMode `json:"flushMode,omitempty"`
}

// wireState is the JSON shape of PendingLocalState (spec.md §6.3).
type wireState struct {
	ClientID      string      `json:"clientId"`
	PendingStates []wireEntry `json:"pendingStates"`
}

// Encode serializes s to JSON and, if compress is true, gzips the
// result. A nil s encodes to a nil blob.
func Encode(s *pendingstate.SerializedPendingState, compress bool) ([]byte, error) {
	if s == nil {
		return nil, nil
	}

	ws := wireState{ClientID: s.ClientID, PendingStates: make([]wireEntry, len(s.Entries))}
	for i, e := range s.Entries {
		we, err := toWireEntry(e)
		if err != nil {
			return nil, err
		}
		ws.PendingStates[i] = we
	}

	raw, err := gojson.Marshal(ws)
	if err != nil {
		return nil, errors.WithMessage(err, "could not marshal pending state")
	}

	if !compress {
		return raw, nil
	}

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(raw); err != nil {
		return nil, errors.WithMessage(err, "could not gzip pending state")
	}
	if err := gw.Close(); err != nil {
		return nil, errors.WithMessage(err, "could not finalize gzip stream")
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode, auto-detecting gzip via its magic header so
// callers do not need to remember whether a given blob was compressed.
func Decode(blob []byte) (*pendingstate.SerializedPendingState, error) {
	if len(blob) == 0 {
		return nil, nil
	}

	raw := blob
	if isGzip(blob) {
		gr, err := gzip.NewReader(bytes.NewReader(blob))
		if err != nil {
			return nil, errors.WithMessage(err, "could not open gzip pending state")
		}
		defer gr.Close()
		decompressed, err := io.ReadAll(gr)
		if err != nil {
			return nil, errors.WithMessage(err, "could not decompress pending state")
		}
		raw = decompressed
	}

	var ws wireState
	if err := gojson.Unmarshal(raw, &ws); err != nil {
		return nil, errors.WithMessage(err, "could not unmarshal pending state")
	}

	entries := make([]pendingstate.SerializedEntry, len(ws.PendingStates))
	for i, we := range ws.PendingStates {
		se, err := fromWireEntry(we)
		if err != nil {
			return nil, err
		}
		entries[i] = se
	}

	return &pendingstate.SerializedPendingState{ClientID: ws.ClientID, Entries: entries}, nil
}

func isGzip(b []byte) bool {
	return len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b
}

func toWireEntry(e pendingstate.SerializedEntry) (wireEntry, error) {
	switch e.Type {
	case pendingstate.SerializedMessage:
		return wireEntry{
			Type:                    wireMessage,
			MessageType:             e.MessageType,
			ClientSequenceNumber:    e.ClientSequenceNumber,
			ReferenceSequenceNumber: e.ReferenceSequenceNumber,
			Content:                 e.Content,
			LocalOpMetadata:         e.LocalOpMetadata,
			OpMetadata:              e.OpMetadata,
		}, nil
	case pendingstate.SerializedFlushMode:
		mode := wireFlushAutomatic
		if e.FlushMode == pendingstate.FlushModeManual {
			mode = wireFlushManual
		}
		return wireEntry{Type: wireFlushMode, FlushMode: mode}, nil
	case pendingstate.SerializedFlushMarker:
		return wireEntry{Type: wireFlushMarker}, nil
	default:
		return wireEntry{}, pendingstate.ErrUnknownEntry
	}
}

func fromWireEntry(we wireEntry) (pendingstate.SerializedEntry, error) {
	switch we.Type {
	case wireMessage:
		return pendingstate.SerializedEntry{
			Type:                    pendingstate.SerializedMessage,
			MessageType:             we.MessageType,
			ClientSequenceNumber:    we.ClientSequenceNumber,
			ReferenceSequenceNumber: we.ReferenceSequenceNumber,
			Content:                 we.Content,
			LocalOpMetadata:         we.LocalOpMetadata,
			OpMetadata:              we.OpMetadata,
		}, nil
	case wireFlushMode:
		mode := pendingstate.FlushModeAutomatic
		if we.FlushMode == wireFlushManual {
			mode = pendingstate.FlushModeManual
		}
		return pendingstate.SerializedEntry{Type: pendingstate.SerializedFlushMode, FlushMode: mode}, nil
	case wireFlushMarker:
		return pendingstate.SerializedEntry{Type: pendingstate.SerializedFlushMarker}, nil
	default:
		return pendingstate.SerializedEntry{}, errors.WithMessagef(pendingstate.ErrUnknownEntry, "tag %q", we.Type)
	}
}
