/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package pendingstate

// SerializedPendingState is the exported shape of spec.md §6.3. It is
// the Go-native mirror of the wire type pkg/wire encodes/decodes; the
// core only ever produces and consumes this struct, never raw bytes.
type SerializedPendingState struct {
	ClientID string
	Entries  []SerializedEntry
}

// SerializedEntryType tags the three kinds of entry spec.md §6.3
// defines for the wire format.
type SerializedEntryType int

const (
	SerializedMessage SerializedEntryType = iota
	SerializedFlushMode
	SerializedFlushMarker
)

// SerializedEntry is the wire-level tagged union. Only the fields
// relevant to Type are meaningful; pkg/wire is responsible for
// rejecting a Type it does not recognize (ErrUnknownEntry).
type SerializedEntry struct {
	Type SerializedEntryType

	// valid when Type == SerializedMessage
	MessageType             string
	ClientSequenceNumber    uint64
	ReferenceSequenceNumber uint64
	Content                 []byte
	LocalOpMetadata         []byte
	OpMetadata              map[string]interface{}

	// valid when Type == SerializedFlushMode
	FlushMode FlushMode
}

func entryToSerialized(e entry) SerializedEntry {
	switch e.tag {
	case entryMessage:
		return SerializedEntry{
			Type:                    SerializedMessage,
			MessageType:             e.message.MessageType,
			ClientSequenceNumber:    e.message.ClientSequenceNumber,
			ReferenceSequenceNumber: e.message.ReferenceSequenceNumber,
			Content:                 e.message.Content,
			LocalOpMetadata:         e.message.LocalMetadata,
			OpMetadata:              e.message.OpMetadata,
		}
	case entryFlushModeChange:
		return SerializedEntry{Type: SerializedFlushMode, FlushMode: e.flushMode}
	default: // entryFlushMarker
		return SerializedEntry{Type: SerializedFlushMarker}
	}
}

func serializedToEntry(se SerializedEntry) (entry, error) {
	switch se.Type {
	case SerializedMessage:
		return messageEntry(&Message{
			MessageType:             se.MessageType,
			ClientSequenceNumber:    se.ClientSequenceNumber,
			ReferenceSequenceNumber: se.ReferenceSequenceNumber,
			Content:                 se.Content,
			LocalMetadata:           se.LocalOpMetadata,
			OpMetadata:              se.OpMetadata,
		}), nil
	case SerializedFlushMode:
		return flushModeEntry(se.FlushMode), nil
	case SerializedFlushMarker:
		return flushMarkerEntry(), nil
	default:
		return entry{}, ErrUnknownEntry
	}
}

// DecodeInitialState converts a SerializedPendingState (as produced by
// a prior session's Serialize, and round-tripped through pkg/wire) into
// the internal entries InitialState needs. It is exported so pkg/wire
// and the CLI can validate a blob without constructing a full core.
func DecodeInitialState(s SerializedPendingState) (InitialState, error) {
	entries := make([]entry, 0, len(s.Entries))
	for _, se := range s.Entries {
		e, err := serializedToEntry(se)
		if err != nil {
			return InitialState{}, err
		}
		entries = append(entries, e)
	}
	return InitialState{ClientID: s.ClientID, entries: entries}, nil
}
