/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package pendingstate

import "github.com/pkg/errors"

// DataCorruption is raised when an ack does not match the head of the
// pending queue: wrong client sequence number, a head that is not a
// Message, or malformed batch metadata (spec.md §7).
type DataCorruption struct {
	ClientID                     string
	SequenceNumber               uint64
	ClientSequenceNumber         uint64
	ExpectedClientSequenceNumber uint64
	Reason                       string
}

func (e *DataCorruption) Error() string {
	return errors.Errorf(
		"data corruption: client %s seq %d: got csn %d, expected %d (%s)",
		e.ClientID, e.SequenceNumber, e.ClientSequenceNumber, e.ExpectedClientSequenceNumber, e.Reason,
	).Error()
}

// ErrRebaseTooOld is returned when the snapshot a new session rebased
// onto is more recent than the reference sequence number of a pending
// op still sitting in the initial queue (spec.md §4.1.6, §7).
var ErrRebaseTooOld = errors.New("snapshot too recent to rebase pending initial ops")

// ErrDoubleReplay is returned when replayOnReconnect is called twice
// for the same client id, which would duplicate ops on the wire
// (spec.md §7).
var ErrDoubleReplay = errors.New("replayOnReconnect called twice for the same client id")

// ErrUnknownEntry is returned when deserializing a PendingLocalState
// blob that contains an entry tag this version does not understand
// (spec.md §6.3).
var ErrUnknownEntry = errors.New("unknown pending-state entry type")

// ErrNotConnected is returned by ReplayOnReconnect when the runtime
// reports it is not currently connected.
var ErrNotConnected = errors.New("replayOnReconnect called while runtime is not connected")
