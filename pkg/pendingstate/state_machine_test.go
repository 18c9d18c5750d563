/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package pendingstate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wes-carlson/fluidcore/pkg/pendingstate"
	"github.com/wes-carlson/fluidcore/pkg/runtime"
)

func noopRebase(content, localMetadata []byte) error { return nil }

// localAck builds the SequencedMessage a sequencer echoes back for a
// locally submitted op, with clientID pinned to the runtime's own id.
func localAck(clientID string, csn, seq uint64, meta pendingstate.BatchMetadata) pendingstate.SequencedMessage {
	return pendingstate.SequencedMessage{
		Type:                 "op",
		ClientID:             clientID,
		ClientSequenceNumber: csn,
		SequenceNumber:       seq,
		BatchMetadata:        meta,
	}
}

// S1 — a single unacked op survives a serialize/rehydrate/replay
// round trip and resubmits exactly once on the new session.
func TestReplayResubmitsUnackedOp(t *testing.T) {
	rt := runtime.New()
	sm := pendingstate.New(rt, noopRebase, nil, nil)
	rt.Bind(sm)
	rt.Connect("client-a")

	sm.OnSubmit("op", 1, 0, []byte("hello"), nil, nil)
	require.Equal(t, 1, sm.PendingMessageCount())

	state := sm.Serialize()
	require.NotNil(t, state)
	require.Len(t, state.Entries, 1)
	// sessionClientId is set only inside ReplayOnReconnect (spec.md
	// §4.1.7 step 1); a first session that never replayed serializes
	// with no clientId of its own, literally per spec.md §4.1.8.
	assert.Equal(t, "", state.ClientID)

	initial, err := pendingstate.DecodeInitialState(*state)
	require.NoError(t, err)

	rt2 := runtime.New()
	sm2 := pendingstate.New(rt2, noopRebase, nil, &initial)
	rt2.Bind(sm2)
	rt2.Connect("client-b")

	require.NoError(t, sm2.ReplayOnReconnect())

	outbox := rt2.Outbox()
	require.Len(t, outbox, 1)
	assert.Equal(t, []byte("hello"), outbox[0].Content)
}

// S2 — a matching local ack clears the pending queue entirely and
// Serialize then reports nothing left to hand off.
func TestLocalAckClearsPending(t *testing.T) {
	rt := runtime.New()
	sm := pendingstate.New(rt, noopRebase, nil, nil)
	rt.Bind(sm)
	rt.Connect("client-a")

	sm.OnSubmit("op", 1, 0, []byte("hello"), nil, nil)

	localAckOK, localMeta, err := sm.ProcessAck(localAck("client-a", 1, 100, pendingstate.BatchMetadataAbsent), true)
	require.NoError(t, err)
	assert.True(t, localAckOK)
	assert.Nil(t, localMeta)

	assert.Equal(t, 0, sm.PendingMessageCount())
	assert.Nil(t, sm.Serialize())
}

// S3 — a manual batch framed by setFlushMode(Manual)/flush(), left
// manual (no trailing switch back to Automatic), preserves its
// boundary markers and replays as setFlushMode(Manual), N resubmits,
// flush() in order.
func TestManualBatchPreservesFramingAcrossReplay(t *testing.T) {
	rt := runtime.New()
	sm := pendingstate.New(rt, noopRebase, nil, nil)
	rt.Bind(sm)

	rt.SetFlushMode(pendingstate.FlushModeManual)
	sm.OnFlushModeChanged(pendingstate.FlushModeManual)

	const n = 30
	for i := uint64(1); i <= n; i++ {
		sm.OnSubmit("op", i, 0, []byte{byte(i)}, nil, nil)
	}
	sm.OnFlush()
	require.Equal(t, n, sm.PendingMessageCount())

	state := sm.Serialize()
	require.NotNil(t, state)
	initial, err := pendingstate.DecodeInitialState(*state)
	require.NoError(t, err)

	rt2 := runtime.New()
	sm2 := pendingstate.New(rt2, noopRebase, nil, &initial)
	rt2.Bind(sm2)
	rt2.Connect("client-b")

	require.NoError(t, sm2.ReplayOnReconnect())

	require.Len(t, rt2.Outbox(), n)
	for i, op := range rt2.Outbox() {
		assert.Equal(t, []byte{byte(i + 1)}, op.Content)
	}

	modes := rt2.FlushModeLog()
	require.NotEmpty(t, modes)
	assert.Equal(t, pendingstate.FlushModeManual, modes[0])
	assert.Equal(t, 1, rt2.FlushCalls())
}

// Property 5 / the spec's flush-mode collapse rule: Manual immediately
// followed by Automatic with no intervening submit leaves nothing in
// pending at all — both markers are meaningless to future replay.
func TestAdjacentManualAutomaticCollapseToNothing(t *testing.T) {
	rt := runtime.New()
	sm := pendingstate.New(rt, noopRebase, nil, nil)
	rt.Bind(sm)

	sm.OnFlushModeChanged(pendingstate.FlushModeManual)
	sm.OnFlushModeChanged(pendingstate.FlushModeAutomatic)

	assert.Equal(t, 0, sm.PendingMessageCount())
	assert.Nil(t, sm.Serialize())
}

// The spec's other collapse rule: a manual flush immediately followed
// by switching to Automatic, with nothing submitted in between,
// collapses the trailing FlushMarker into the mode-change entry
// itself rather than keeping both, so the serialized entries hold no
// FlushMarker.
func TestManualFlushImmediatelyFollowedByAutomaticCollapses(t *testing.T) {
	rt := runtime.New()
	sm := pendingstate.New(rt, noopRebase, nil, nil)
	rt.Bind(sm)

	rt.SetFlushMode(pendingstate.FlushModeManual)
	sm.OnFlushModeChanged(pendingstate.FlushModeManual)
	sm.OnSubmit("op", 1, 0, []byte("a"), nil, nil)
	sm.OnFlush()
	sm.OnFlushModeChanged(pendingstate.FlushModeAutomatic)

	require.Equal(t, 1, sm.PendingMessageCount())

	state := sm.Serialize()
	require.NotNil(t, state)

	// Entries should be: FlushModeChange(Manual), Message, FlushModeChange(Automatic).
	// No separate FlushMarker entry should remain.
	markerCount := 0
	for _, e := range state.Entries {
		if e.Type == pendingstate.SerializedFlushMarker {
			markerCount++
		}
	}
	assert.Equal(t, 0, markerCount)
}

// S5 — a 3-message manual batch: the tracker enters on the first ack
// and exits only on the last, and well-formed batch metadata produces
// no corruption.
func TestBatchTrackerEntersAndExitsAcrossMultipleAcks(t *testing.T) {
	rt := runtime.New()
	sm := pendingstate.New(rt, noopRebase, nil, nil)
	rt.Bind(sm)

	rt.SetFlushMode(pendingstate.FlushModeManual)
	sm.OnFlushModeChanged(pendingstate.FlushModeManual)
	sm.OnSubmit("op", 1, 0, []byte("a"), nil, nil)
	sm.OnSubmit("op", 2, 0, []byte("b"), nil, nil)
	sm.OnSubmit("op", 3, 0, []byte("c"), nil, nil)
	sm.OnFlush()

	ok1, _, err := sm.ProcessAck(localAck("client-a", 1, 10, pendingstate.BatchMetadataTrue), true)
	require.NoError(t, err)
	assert.True(t, ok1)
	assert.Equal(t, 2, sm.PendingMessageCount())

	ok2, _, err := sm.ProcessAck(localAck("client-a", 2, 11, pendingstate.BatchMetadataAbsent), true)
	require.NoError(t, err)
	assert.True(t, ok2)
	assert.Equal(t, 1, sm.PendingMessageCount())

	ok3, _, err := sm.ProcessAck(localAck("client-a", 3, 12, pendingstate.BatchMetadataFalse), true)
	require.NoError(t, err)
	assert.True(t, ok3)
	assert.Equal(t, 0, sm.PendingMessageCount())
	assert.Nil(t, rt.ClosedWith())
}

// S4 — a local ack whose client sequence number does not match the
// head of pending is data corruption, and closes the container.
func TestCsnMismatchIsDataCorruption(t *testing.T) {
	rt := runtime.New()
	sm := pendingstate.New(rt, noopRebase, nil, nil)
	rt.Bind(sm)

	sm.OnSubmit("op", 1, 0, []byte("a"), nil, nil)

	_, _, err := sm.ProcessAck(localAck("client-a", 2, 10, pendingstate.BatchMetadataAbsent), true)
	require.Error(t, err)

	var corruption *pendingstate.DataCorruption
	require.ErrorAs(t, err, &corruption)
	assert.Equal(t, uint64(2), corruption.ClientSequenceNumber)
	assert.Equal(t, uint64(1), corruption.ExpectedClientSequenceNumber)
	require.NotNil(t, rt.ClosedWith())
}

// Malformed batch metadata (missing batch=true on the begin ack of a
// multi-message batch) is also data corruption.
func TestMalformedBatchMetadataIsDataCorruption(t *testing.T) {
	rt := runtime.New()
	sm := pendingstate.New(rt, noopRebase, nil, nil)
	rt.Bind(sm)

	rt.SetFlushMode(pendingstate.FlushModeManual)
	sm.OnFlushModeChanged(pendingstate.FlushModeManual)
	sm.OnSubmit("op", 1, 0, []byte("a"), nil, nil)
	sm.OnSubmit("op", 2, 0, []byte("b"), nil, nil)
	sm.OnFlush()

	// Begin ack should carry BatchMetadataTrue; send Absent instead.
	_, _, err := sm.ProcessAck(localAck("client-a", 1, 10, pendingstate.BatchMetadataAbsent), true)
	require.NoError(t, err)

	_, _, err = sm.ProcessAck(localAck("client-a", 2, 11, pendingstate.BatchMetadataFalse), true)
	require.Error(t, err)
	var corruption *pendingstate.DataCorruption
	require.ErrorAs(t, err, &corruption)
}

// S6 — a remote ack sequenced past the reference sequence number of
// the rehydrated leading-csn op, while that op is still in the initial
// queue, means the op is too old to rebase.
func TestRebaseTooOldOnRemoteAckPastLeadingCSN(t *testing.T) {
	entries := []pendingstate.SerializedEntry{
		{
			Type:                    pendingstate.SerializedMessage,
			MessageType:             "op",
			ClientSequenceNumber:    1,
			ReferenceSequenceNumber: 100,
			Content:                 []byte("a"),
		},
	}
	initial, err := pendingstate.DecodeInitialState(pendingstate.SerializedPendingState{
		ClientID: "client-a",
		Entries:  entries,
	})
	require.NoError(t, err)

	rt := runtime.New()
	sm := pendingstate.New(rt, noopRebase, nil, &initial)
	rt.Bind(sm)

	// A remote op sequenced at 200 arrives while the initial queue's
	// leading csn's op was stamped at rsn 100: that op has already been
	// superseded by the time the new session catches up, so it cannot
	// be rebased.
	_, _, err = sm.ProcessAck(pendingstate.SequencedMessage{
		Type:                 "remoteOp",
		ClientID:             "client-a",
		ClientSequenceNumber: 1,
		SequenceNumber:       200,
	}, false)
	assert.ErrorIs(t, err, pendingstate.ErrRebaseTooOld)
}

// ReplayOnReconnect refuses a second call for the same unchanged
// client id rather than silently resubmitting everything twice.
func TestDoubleReplayIsRejected(t *testing.T) {
	rt := runtime.New()
	sm := pendingstate.New(rt, noopRebase, nil, nil)
	rt.Bind(sm)
	rt.Connect("client-a")

	sm.OnSubmit("op", 1, 0, []byte("a"), nil, nil)
	require.NoError(t, sm.ReplayOnReconnect())
	assert.ErrorIs(t, sm.ReplayOnReconnect(), pendingstate.ErrDoubleReplay)
}

// The double-replay guard compares sessionClientId against the
// connecting clientId unconditionally, even when both are empty
// (Runtime.ClientID may legitimately return "" before a client id is
// assigned) — an empty id must not bypass the guard.
func TestDoubleReplayIsRejectedWithEmptyClientID(t *testing.T) {
	rt := runtime.New()
	sm := pendingstate.New(rt, noopRebase, nil, nil)
	rt.Bind(sm)
	rt.Connect("")

	sm.OnSubmit("op", 1, 0, []byte("a"), nil, nil)
	require.NoError(t, sm.ReplayOnReconnect())
	assert.ErrorIs(t, sm.ReplayOnReconnect(), pendingstate.ErrDoubleReplay)
}

// Serialize's clientId is exactly sessionClientId (spec.md §4.1.8):
// once ReplayOnReconnect has run, that's the clientId it replayed
// under, not whatever the runtime currently reports.
func TestSerializeReflectsSessionClientIDAfterReplay(t *testing.T) {
	rt := runtime.New()
	sm := pendingstate.New(rt, noopRebase, nil, nil)
	rt.Bind(sm)
	rt.Connect("client-a")

	sm.OnSubmit("op", 1, 0, []byte("hello"), nil, nil)
	require.NoError(t, sm.ReplayOnReconnect())

	state := sm.Serialize()
	require.NotNil(t, state)
	assert.Equal(t, "client-a", state.ClientID)
}

// ReplayOnReconnect refuses to run while the runtime reports it is
// disconnected.
func TestReplayRequiresConnectedRuntime(t *testing.T) {
	rt := runtime.New()
	sm := pendingstate.New(rt, noopRebase, nil, nil)
	rt.Bind(sm)

	assert.ErrorIs(t, sm.ReplayOnReconnect(), pendingstate.ErrNotConnected)
}

// A remote ack for another client's op is a pure pass-through: it
// drains matching entries from the initial queue but never reports a
// local ack.
func TestRemoteAckIsNeverReportedLocal(t *testing.T) {
	rt := runtime.New()
	sm := pendingstate.New(rt, noopRebase, nil, nil)
	rt.Bind(sm)

	isLocal, _, err := sm.ProcessAck(pendingstate.SequencedMessage{
		Type:                 "remoteOp",
		ClientID:             "client-other",
		ClientSequenceNumber: 1,
		SequenceNumber:       5,
	}, false)
	require.NoError(t, err)
	assert.False(t, isLocal)
}

// Chunked-op fragments are skipped entirely regardless of locality.
func TestChunkedOpIsSkipped(t *testing.T) {
	rt := runtime.New()
	sm := pendingstate.New(rt, noopRebase, nil, nil)
	rt.Bind(sm)

	isLocal, meta, err := sm.ProcessAck(pendingstate.SequencedMessage{
		Type: pendingstate.ChunkedOpType,
	}, true)
	require.NoError(t, err)
	assert.False(t, isLocal)
	assert.Nil(t, meta)
	assert.Equal(t, 0, sm.PendingMessageCount())
}
