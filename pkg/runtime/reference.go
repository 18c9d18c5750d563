/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package runtime provides ReferenceRuntime, an in-memory
// implementation of pendingstate.Runtime grounded on the teacher's
// ClientWork (client_processor.go): a mutex-guarded record of outbound
// work. It runs no event loop and starts no goroutines; callers invoke
// it and the core directly. It is the harness the test suite
// and cmd/pendingcat use to drive the core without a real delta-stream
// connection; pkg/transport layers an optional websocket binding on
// top of it.
package runtime

import (
	"sync"

	"github.com/wes-carlson/fluidcore/pkg/pendingstate"
)

// Submitter is the one method ReferenceRuntime needs back from the
// state machine: re-entering OnSubmit when Resubmit is called. It is
// a narrow interface rather than importing *pendingstate.PendingStateMachine
// directly so ReferenceRuntime can be constructed before the state
// machine (which itself needs a Runtime) and wired together after.
type Submitter interface {
	OnSubmit(messageType string, csn, rsn uint64, content, localMetadata []byte, opMetadata map[string]interface{})
}

// OutboundOp is a snapshot of a Resubmit call, recorded for tests and
// for the CLI's "replay" subcommand to print.
type OutboundOp struct {
	MessageType   string
	Content       []byte
	LocalMetadata []byte
	OpMetadata    map[string]interface{}
}

// ReferenceRuntime is an in-memory Runtime. Construct with New; the
// zero value is equivalent (disconnected, Automatic flush mode).
type ReferenceRuntime struct {
	mu sync.Mutex

	connected bool
	clientID  string
	flushMode pendingstate.FlushMode
	rsn       uint64
	nextCSN   uint64

	submitter Submitter
	closeErr  error

	outbox       []OutboundOp
	flushModeLog []pendingstate.FlushMode
	flushCalls   int
}

// New constructs a disconnected ReferenceRuntime in Automatic flush
// mode.
func New() *ReferenceRuntime {
	return &ReferenceRuntime{flushMode: pendingstate.FlushModeAutomatic}
}

// Bind attaches the state machine that owns OnSubmit, completing the
// runtime<->core wiring (spec.md §9's "cyclic references" note).
func (r *ReferenceRuntime) Bind(submitter Submitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitter = submitter
}

// Connect marks the runtime connected under a new client id, as if
// the delta stream just (re)established a session.
func (r *ReferenceRuntime) Connect(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = true
	r.clientID = clientID
}

// Disconnect marks the runtime disconnected, as on a dropped socket.
func (r *ReferenceRuntime) Disconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = false
}

// AdvanceReferenceSequenceNumber bumps the "latest observed sequence
// number" a caller would use as the rsn argument to OnSubmit, as if a
// new op from another client had just arrived over the delta stream.
func (r *ReferenceRuntime) AdvanceReferenceSequenceNumber(to uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if to > r.rsn {
		r.rsn = to
	}
}

// ReferenceSequenceNumber returns the latest value passed to
// AdvanceReferenceSequenceNumber.
func (r *ReferenceRuntime) ReferenceSequenceNumber() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rsn
}

// NextClientSequenceNumber hands out the next monotonic CSN, mirroring
// the opaque "Clock/IDs" leaf component of spec.md §2.
func (r *ReferenceRuntime) NextClientSequenceNumber() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextCSN++
	return r.nextCSN
}

func (r *ReferenceRuntime) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *ReferenceRuntime) ClientID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clientID
}

func (r *ReferenceRuntime) FlushMode() pendingstate.FlushMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushMode
}

func (r *ReferenceRuntime) SetFlushMode(mode pendingstate.FlushMode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushMode = mode
	r.flushModeLog = append(r.flushModeLog, mode)
}

func (r *ReferenceRuntime) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushCalls++
}

func (r *ReferenceRuntime) Resubmit(messageType string, content, localMetadata []byte, opMetadata map[string]interface{}) {
	r.mu.Lock()
	r.outbox = append(r.outbox, OutboundOp{
		MessageType:   messageType,
		Content:       content,
		LocalMetadata: localMetadata,
		OpMetadata:    opMetadata,
	})
	submitter := r.submitter
	csn := r.nextCSN + 1
	r.nextCSN = csn
	rsn := r.rsn
	r.mu.Unlock()

	if submitter != nil {
		submitter.OnSubmit(messageType, csn, rsn, content, localMetadata, opMetadata)
	}
}

func (r *ReferenceRuntime) CloseFn(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeErr = err
}

// ClosedWith returns the error passed to the most recent CloseFn call,
// or nil if the container was never closed.
func (r *ReferenceRuntime) ClosedWith() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeErr
}

// Outbox returns a snapshot of every Resubmit call observed so far.
func (r *ReferenceRuntime) Outbox() []OutboundOp {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]OutboundOp, len(r.outbox))
	copy(out, r.outbox)
	return out
}

// FlushModeLog returns every mode passed to SetFlushMode, in order.
func (r *ReferenceRuntime) FlushModeLog() []pendingstate.FlushMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]pendingstate.FlushMode, len(r.flushModeLog))
	copy(out, r.flushModeLog)
	return out
}

// FlushCalls returns how many times Flush was called.
func (r *ReferenceRuntime) FlushCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushCalls
}

var _ pendingstate.Runtime = (*ReferenceRuntime)(nil)
