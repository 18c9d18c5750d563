/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package pendingstate

// Runtime is the narrow capability interface the container runtime
// provides to the core (spec.md §6.1, §9 "cyclic references" note).
// The core never owns the runtime; it only calls through this
// interface, which is expected to be driven from a single event loop
// (spec.md §5).
type Runtime interface {
	// Connected reports whether the runtime currently has an active
	// connection to the delta stream.
	Connected() bool
	// ClientID returns the runtime's current client id, or "" if not
	// yet assigned (e.g. before the first connect).
	ClientID() string
	// FlushMode returns the runtime's current flush mode.
	FlushMode() FlushMode
	// SetFlushMode instructs the runtime to change its flush mode.
	SetFlushMode(mode FlushMode)
	// Flush instructs the runtime to emit a manual flush marker.
	Flush()
	// Resubmit hands an op back to the runtime's transport path as if
	// newly submitted. The runtime is expected to re-enter the core
	// through OnSubmit as part of honoring this call.
	Resubmit(messageType string, content []byte, localMetadata []byte, opMetadata map[string]interface{})
	// CloseFn tears the container down with a fatal error. After this
	// is called, the host must not invoke further methods on the core.
	CloseFn(err error)
}

// SequencedMessage is the ack the sequencer echoes back to the
// originating client, carrying the assigned global sequence number
// (spec.md §6.2).
type SequencedMessage struct {
	Type                 string
	ClientID             string
	ClientSequenceNumber uint64
	SequenceNumber       uint64
	BatchMetadata        BatchMetadata
}

// BatchMetadata models metadata.batch ∈ {true, false, absent}
// (spec.md §6.2) as an explicit tri-state rather than a bare *bool,
// so "absent" reads as its own case at call sites.
type BatchMetadata int

const (
	BatchMetadataAbsent BatchMetadata = iota
	BatchMetadataTrue
	BatchMetadataFalse
)

// ChunkedOpType is the message type value that marks a chunked-op
// fragment; processAck skips these entirely (spec.md §4.1.4).
const ChunkedOpType = "ChunkedOp"

// Rebaser is the adapter callback injected by the container runtime
// (spec.md §4.3). It forwards a previously-submitted op's content and
// local metadata to the correct DDS's rebase path, re-applying the op
// to local state without transmitting it. It is synchronous; any
// error bubbles as a failure of the enclosing operation.
type Rebaser func(content []byte, localMetadata []byte) error
