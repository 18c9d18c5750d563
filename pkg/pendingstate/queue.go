/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package pendingstate

import "container/list"

// FlushMode mirrors the runtime's notion of automatic vs. manual
// batching of submitted ops.
type FlushMode int

const (
	// FlushModeAutomatic means every submitted op is flushed to the
	// wire as soon as it is queued.
	FlushModeAutomatic FlushMode = iota
	// FlushModeManual means ops accumulate until an explicit Flush.
	FlushModeManual
)

func (m FlushMode) String() string {
	if m == FlushModeManual {
		return "manual"
	}
	return "automatic"
}

// entryTag discriminates the tagged union of pending-queue entries.
type entryTag int

const (
	entryMessage entryTag = iota
	entryFlushModeChange
	entryFlushMarker
)

// entry is the tagged union described in spec.md §3: a Message, a
// FlushModeChange, or a FlushMarker. Only the fields relevant to the
// tag are populated; consumers switch on tag rather than relying on
// zero values of the other fields.
type entry struct {
	tag entryTag

	// populated when tag == entryMessage
	message *Message

	// populated when tag == entryFlushModeChange
	flushMode FlushMode
}

// Message is a submitted op awaiting ack.
type Message struct {
	MessageType             string
	ClientSequenceNumber    uint64
	ReferenceSequenceNumber uint64
	Content                 []byte
	LocalMetadata           []byte
	OpMetadata              map[string]interface{}
}

func messageEntry(m *Message) entry { return entry{tag: entryMessage, message: m} }
func flushModeEntry(mode FlushMode) entry {
	return entry{tag: entryFlushModeChange, flushMode: mode}
}
func flushMarkerEntry() entry { return entry{tag: entryFlushMarker} }

// pendingQueue is a FIFO of entries with an O(1) count of the queued
// Message entries, mirroring the teacher's pairing of
// a container/list FIFO (client_processor.go's Client.requests) with a
// side index for fast access to specific elements. Here the only
// lookup we need is "how many Message entries are queued", so the
// side channel is a running counter rather than a map.
type pendingQueue struct {
	entries      *list.List
	messageCount int
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{entries: list.New()}
}

func (q *pendingQueue) len() int { return q.entries.Len() }

func (q *pendingQueue) pushMessage(m *Message) {
	q.entries.PushBack(messageEntry(m))
	q.messageCount++
}

func (q *pendingQueue) pushFlushMode(mode FlushMode) {
	q.entries.PushBack(flushModeEntry(mode))
}

func (q *pendingQueue) pushFlushMarker() {
	q.entries.PushBack(flushMarkerEntry())
}

// tail returns the last entry, or nil if the queue is empty.
func (q *pendingQueue) tail() *entry {
	if back := q.entries.Back(); back != nil {
		e := back.Value.(entry)
		return &e
	}
	return nil
}

// popTail removes and returns the last entry.
func (q *pendingQueue) popTail() entry {
	back := q.entries.Back()
	e := back.Value.(entry)
	q.entries.Remove(back)
	if e.tag == entryMessage {
		q.messageCount--
	}
	return e
}

// head returns the first entry, or nil if the queue is empty.
func (q *pendingQueue) head() *entry {
	if front := q.entries.Front(); front != nil {
		e := front.Value.(entry)
		return &e
	}
	return nil
}

// popHead removes and returns the first entry.
func (q *pendingQueue) popHead() entry {
	front := q.entries.Front()
	e := front.Value.(entry)
	q.entries.Remove(front)
	if e.tag == entryMessage {
		q.messageCount--
	}
	return e
}

// toSlice drains nothing; it snapshots entries in order for
// serialization (spec.md §4.1.8).
func (q *pendingQueue) toSlice() []entry {
	out := make([]entry, 0, q.entries.Len())
	for el := q.entries.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(entry))
	}
	return out
}

// initialQueue holds entries rehydrated from a prior session. It is
// drained strictly head-first (spec.md invariant 5): once an entry
// leaves the head it is never reinserted here.
type initialQueue struct {
	entries *list.List
}

func newInitialQueue(entries []entry) *initialQueue {
	q := &initialQueue{entries: list.New()}
	for _, e := range entries {
		q.entries.PushBack(e)
	}
	return q
}

func (q *initialQueue) empty() bool { return q.entries.Len() == 0 }

func (q *initialQueue) peek() *entry {
	if front := q.entries.Front(); front != nil {
		e := front.Value.(entry)
		return &e
	}
	return nil
}

func (q *initialQueue) pop() entry {
	front := q.entries.Front()
	e := front.Value.(entry)
	q.entries.Remove(front)
	return e
}

// leadingCSN models spec.md §9's second open question explicitly: the
// source's "-1 means none" sentinel becomes a real optional, so
// callers can't accidentally compare a CSN against -1.
type leadingCSN struct {
	csn uint64
	ok  bool
}

// computeLeadingCSN finds the CSN of the first Message entry in a
// rehydrated initial-state slice, or the zero optional if there is
// none.
func computeLeadingCSN(entries []entry) leadingCSN {
	for _, e := range entries {
		if e.tag == entryMessage {
			return leadingCSN{csn: e.message.ClientSequenceNumber, ok: true}
		}
	}
	return leadingCSN{}
}
