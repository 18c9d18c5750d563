/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package pendingstate implements the per-client Pending Op State
// Machine: the subsystem that tracks locally submitted but
// not-yet-acknowledged operations, preserves batch framing across
// reconnects, verifies ack ordering, and replays unacked work on
// reconnect or rehydration from a serialized snapshot.
//
// It is grounded on the teacher's (IBM/mirbft) client-request tracking
// and persisted-log rehydration code, generalized from "BFT client
// request, ordered by sequence number" to "collaborative-document op,
// ordered by client sequence number".
package pendingstate

import "github.com/pkg/errors"

// InitialState is the entry point's rehydrated state: the entries a
// previous session handed off, plus the client id that produced them
// (spec.md §4.1.9).
type InitialState struct {
	ClientID string
	entries  []entry
}

// PendingStateMachine is the core of this module (spec.md §4.1). All
// methods are expected to run on the runtime's single event-loop
// thread; none of them are safe to call concurrently (spec.md §5).
type PendingStateMachine struct {
	runtime  Runtime
	rebase   Rebaser
	observer Observer

	pending *pendingQueue
	initial *initialQueue

	initialClientID    string
	hasInitialClientID bool
	initialLeadingCSN  leadingCSN

	batch batchTracker

	sessionClientID    string
	hasSessionClientID bool
}

// New constructs a PendingStateMachine. runtime and rebase are
// required; observer may be nil, in which case telemetry calls are
// discarded. initialState may be nil for a brand-new session with no
// prior handoff.
func New(runtime Runtime, rebase Rebaser, observer Observer, initialState *InitialState) *PendingStateMachine {
	if observer == nil {
		observer = noopObserver{}
	}

	sm := &PendingStateMachine{
		runtime:  runtime,
		rebase:   rebase,
		observer: observer,
		pending:  newPendingQueue(),
	}

	if initialState != nil {
		sm.initial = newInitialQueue(initialState.entries)
		sm.initialClientID = initialState.ClientID
		sm.hasInitialClientID = initialState.ClientID != ""
		sm.initialLeadingCSN = computeLeadingCSN(initialState.entries)
	} else {
		sm.initial = newInitialQueue(nil)
	}

	return sm
}

// PendingMessageCount returns the number of Message entries currently
// queued in pending (spec.md §3: "pendingMessageCount").
func (sm *PendingStateMachine) PendingMessageCount() int {
	return sm.pending.messageCount
}

// OnSubmit appends a Message to pending (spec.md §4.1.1). There are no
// failure modes: every submitted op must be tracked.
func (sm *PendingStateMachine) OnSubmit(messageType string, csn, rsn uint64, content, localMetadata []byte, opMetadata map[string]interface{}) {
	sm.pending.pushMessage(&Message{
		MessageType:             messageType,
		ClientSequenceNumber:    csn,
		ReferenceSequenceNumber: rsn,
		Content:                 content,
		LocalMetadata:           localMetadata,
		OpMetadata:              opMetadata,
	})
	sm.observer.OnSubmit(csn, messageType)
}

// OnFlushModeChanged records batch boundaries implied by flush-mode
// transitions (spec.md §4.1.2). The three-way collapse here is the
// non-obvious rule spec.md §9 calls out: pending must reflect only
// markers that can still affect future replay.
func (sm *PendingStateMachine) OnFlushModeChanged(mode FlushMode) {
	tail := sm.pending.tail()

	if mode == FlushModeAutomatic && tail != nil && tail.tag == entryFlushMarker {
		// A manual flush immediately followed by switching to auto
		// collapses: the switch itself flushes.
		sm.pending.popTail()
		sm.pending.pushFlushMode(FlushModeAutomatic)
		return
	}

	if mode == FlushModeAutomatic && tail != nil && tail.tag == entryFlushModeChange && tail.flushMode == FlushModeManual {
		// No messages were submitted between Manual and Automatic;
		// neither marker carries meaning, so both are dropped.
		sm.pending.popTail()
		return
	}

	sm.pending.pushFlushMode(mode)
}

// OnFlush pushes a FlushMarker, unless the active flush mode is
// already Automatic or there is nothing queued to flush (spec.md
// §4.1.3).
func (sm *PendingStateMachine) OnFlush() {
	if sm.runtime.FlushMode() == FlushModeAutomatic {
		return
	}
	tail := sm.pending.tail()
	if tail == nil || tail.tag != entryMessage {
		return
	}
	sm.pending.pushFlushMarker()
}

// ProcessAck handles the sequencer's echo of a submitted op (spec.md
// §4.1.4). Chunked-op fragments are skipped entirely: reassembly is
// the transport's job, not ours.
func (sm *PendingStateMachine) ProcessAck(ack SequencedMessage, isLocal bool) (localAck bool, localMetadata []byte, err error) {
	if ack.Type == ChunkedOpType {
		return false, nil, nil
	}

	if !isLocal {
		return sm.processRemoteAck(ack)
	}
	return sm.processLocalAck(ack)
}

// processLocalAck implements spec.md §4.1.5.
func (sm *PendingStateMachine) processLocalAck(ack SequencedMessage) (bool, []byte, error) {
	// 1. Maybe enter batch.
	if head := sm.pending.head(); head != nil && (head.tag == entryFlushMarker || head.tag == entryFlushModeChange) {
		if head.tag == entryFlushModeChange {
			assertTrue(head.flushMode == FlushModeManual, "unexpected flush-mode entry at head entering a batch")
		}
		ackCopy := ack
		sm.batch.enter(&ackCopy)
		sm.pending.popHead()
	}

	// 2. Match Message.
	head := sm.pending.head()
	if head == nil || head.tag != entryMessage {
		corruption := &DataCorruption{
			ClientID:       ack.ClientID,
			SequenceNumber: ack.SequenceNumber,
			Reason:         "expected a Message at the head of pending",
		}
		sm.closeWithCorruption(corruption)
		return false, nil, corruption
	}
	popped := sm.pending.popHead()
	msg := popped.message

	// 3. CSN check.
	if msg.ClientSequenceNumber != ack.ClientSequenceNumber {
		corruption := &DataCorruption{
			ClientID:                     ack.ClientID,
			SequenceNumber:               ack.SequenceNumber,
			ClientSequenceNumber:         ack.ClientSequenceNumber,
			ExpectedClientSequenceNumber: msg.ClientSequenceNumber,
			Reason:                       "client sequence number mismatch",
		}
		sm.closeWithCorruption(corruption)
		return false, nil, corruption
	}

	// 4. pendingMessageCount decremented as part of popHead() above.

	// 5. Maybe exit batch. A batch only ends when the new head is one of
	// the two boundary markers below; anything else (another plain
	// Message) means we're still mid-batch, and neither the
	// metadata check nor the clear runs yet.
	if sm.batch.inBatch {
		next := sm.pending.head()
		atBoundary := false
		switch {
		case next != nil && next.tag == entryFlushModeChange:
			assertTrue(next.flushMode == FlushModeAutomatic, "unexpected flush-mode entry exiting a batch")
			sm.pending.popHead()
			atBoundary = true
		case next != nil && next.tag == entryFlushMarker:
			// Left in place: marks the start of the next batch.
			atBoundary = true
		}

		if atBoundary {
			if err := sm.checkBatchMetadata(ack); err != nil {
				sm.closeWithCorruption(err)
				return false, nil, err
			}
			sm.batch.exit()
		}
	}

	sm.observer.OnAckAccepted(ack.ClientSequenceNumber, ack.SequenceNumber)
	return true, msg.LocalMetadata, nil
}

// checkBatchMetadata validates the batch-metadata invariant from
// spec.md §4.1.5 step 5: a single-message batch must carry absent
// metadata on its (only) ack; a multi-message batch must carry
// batch=true on its begin ack and batch=false on its end ack.
func (sm *PendingStateMachine) checkBatchMetadata(ack SequencedMessage) *DataCorruption {
	begin := sm.batch.batchBeginMessage

	single := begin.ClientID == ack.ClientID &&
		begin.ClientSequenceNumber == ack.ClientSequenceNumber &&
		begin.SequenceNumber == ack.SequenceNumber

	if single {
		if begin.BatchMetadata != BatchMetadataAbsent {
			return &DataCorruption{
				ClientID:       ack.ClientID,
				SequenceNumber: ack.SequenceNumber,
				Reason:         "single-message batch must have absent batch metadata on its begin ack",
			}
		}
		return nil
	}

	if begin.BatchMetadata != BatchMetadataTrue {
		return &DataCorruption{
			ClientID:       ack.ClientID,
			SequenceNumber: ack.SequenceNumber,
			Reason:         "multi-message batch must have batch=true on its begin ack",
		}
	}
	if ack.BatchMetadata != BatchMetadataFalse {
		return &DataCorruption{
			ClientID:       ack.ClientID,
			SequenceNumber: ack.SequenceNumber,
			Reason:         "multi-message batch must have batch=false on its end ack",
		}
	}
	return nil
}

// processRemoteAck implements spec.md §4.1.6, the rehydration path.
func (sm *PendingStateMachine) processRemoteAck(ack SequencedMessage) (bool, []byte, error) {
	for {
		h := sm.initial.peek()
		if h == nil {
			break
		}
		if h.tag == entryMessage && h.message.ReferenceSequenceNumber > ack.SequenceNumber {
			break
		}

		if h.tag == entryMessage &&
			sm.initialLeadingCSN.ok &&
			h.message.ClientSequenceNumber == sm.initialLeadingCSN.csn &&
			ack.SequenceNumber > h.message.ReferenceSequenceNumber {
			return false, nil, ErrRebaseTooOld
		}

		if h.tag == entryMessage {
			if err := sm.rebase(h.message.Content, h.message.LocalMetadata); err != nil {
				return false, nil, errors.WithMessage(err, "rebase failed while draining initial state")
			}
		}

		popped := sm.initial.pop()
		switch popped.tag {
		case entryMessage:
			sm.pending.pushMessage(popped.message)
		case entryFlushModeChange:
			sm.pending.pushFlushMode(popped.flushMode)
		case entryFlushMarker:
			sm.pending.pushFlushMarker()
		}
	}

	if sm.hasInitialClientID && ack.ClientID == sm.initialClientID && ack.ClientSequenceNumber >= sm.initialLeadingCSN.csn {
		for {
			head := sm.pending.head()
			if head == nil {
				return false, nil, nil
			}
			popped := sm.pending.popHead()
			if popped.tag == entryMessage {
				return true, popped.message.LocalMetadata, nil
			}
			// Intervening non-Message entries carried session-local
			// framing irrelevant to the new session; discard silently.
		}
	}

	return false, nil, nil
}

func (sm *PendingStateMachine) closeWithCorruption(c *DataCorruption) {
	sm.observer.OnCorruption(c)
	sm.runtime.CloseFn(c)
}

// ReplayOnReconnect drains any remaining initial state and resubmits
// everything currently in pending, in order, preserving batch framing
// (spec.md §4.1.7). The host must pause the inbound ack queue around
// this call (spec.md §5).
func (sm *PendingStateMachine) ReplayOnReconnect() error {
	if !sm.runtime.Connected() {
		return ErrNotConnected
	}

	newClientID := sm.runtime.ClientID()
	if sm.hasSessionClientID && sm.sessionClientID == newClientID {
		sm.observer.OnDoubleReplaySuspected(newClientID)
		return ErrDoubleReplay
	}
	sm.sessionClientID = newClientID
	sm.hasSessionClientID = true

	sm.observer.OnReplayStart(newClientID, sm.pending.messageCount)

	// Drain any remaining initial state: rebase then push onto
	// pending, same as the remote-ack drain loop but unconditional.
	for {
		h := sm.initial.peek()
		if h == nil {
			break
		}
		if h.tag == entryMessage {
			if err := sm.rebase(h.message.Content, h.message.LocalMetadata); err != nil {
				return errors.WithMessage(err, "rebase failed while draining initial state on reconnect")
			}
		}
		popped := sm.initial.pop()
		switch popped.tag {
		case entryMessage:
			sm.pending.pushMessage(popped.message)
		case entryFlushModeChange:
			sm.pending.pushFlushMode(popped.flushMode)
		case entryFlushMarker:
			sm.pending.pushFlushMarker()
		}
	}

	n := sm.pending.len()
	// pendingMessageCount is kept in step below: popHead decrements it
	// for each original Message, and OnSubmit re-increments it as each
	// resubmission re-enters pending.

	savedFlushMode := sm.runtime.FlushMode()

	resubmitted := 0
	for i := 0; i < n; i++ {
		popped := sm.pending.popHead()
		switch popped.tag {
		case entryMessage:
			m := popped.message
			sm.runtime.Resubmit(m.MessageType, m.Content, m.LocalMetadata, m.OpMetadata)
			resubmitted++
		case entryFlushModeChange:
			sm.runtime.SetFlushMode(popped.flushMode)
		case entryFlushMarker:
			sm.runtime.Flush()
		}
	}

	sm.runtime.SetFlushMode(savedFlushMode)
	sm.observer.OnReplayEnd(newClientID, resubmitted)
	return nil
}

// Serialize returns the current pending state for handoff, or nil if
// there is nothing unacked to hand off (spec.md §4.1.8).
func (sm *PendingStateMachine) Serialize() *SerializedPendingState {
	if sm.pending.messageCount == 0 {
		return nil
	}

	sm.observer.OnSerialize(sm.pending.messageCount)

	entries := sm.pending.toSlice()
	out := make([]SerializedEntry, len(entries))
	for i, e := range entries {
		out[i] = entryToSerialized(e)
	}

	return &SerializedPendingState{ClientID: sm.sessionClientID, Entries: out}
}
