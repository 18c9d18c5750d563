/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package pendingstate

// Observer is a narrow, optional telemetry sink the core calls into at
// its boundary operations. It mirrors the Runtime/Rebaser pattern of
// spec.md §9: a small capability interface injected at construction,
// never owned by the core. pkg/telemetry provides the zap+Prometheus
// implementation; tests may use a no-op or recording stub.
type Observer interface {
	OnSubmit(csn uint64, messageType string)
	OnAckAccepted(csn uint64, sequenceNumber uint64)
	OnCorruption(err *DataCorruption)
	OnReplayStart(clientID string, pendingCount int)
	OnReplayEnd(clientID string, resubmitted int)
	OnSerialize(pendingCount int)
	// OnDoubleReplaySuspected fires when ReplayOnReconnect refuses a
	// replay because sessionClientId already equals the connecting
	// clientId. Per spec.md §9's first open question and the redesign
	// flag, this is surfaced as an event rather than only a fatal
	// error, so a host can tell a spurious reconnect apart from a
	// genuine attempt to double-send.
	OnDoubleReplaySuspected(clientID string)
}

// noopObserver discards everything; used when the caller does not
// supply one.
type noopObserver struct{}

func (noopObserver) OnSubmit(uint64, string)       {}
func (noopObserver) OnAckAccepted(uint64, uint64)  {}
func (noopObserver) OnCorruption(*DataCorruption)  {}
func (noopObserver) OnReplayStart(string, int)     {}
func (noopObserver) OnReplayEnd(string, int)       {}
func (noopObserver) OnSerialize(int)               {}
func (noopObserver) OnDoubleReplaySuspected(string) {}
