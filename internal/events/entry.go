// Package events fans out ledger notifications to in-process and external consumers.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/vadiminshakov/siapay/internal/domain"
)

// TypeEntryRecorded names the event emitted for every new ledger entry.
const TypeEntryRecorded = "ledger.entry_recorded"

// EntryRecorded announces a ledger entry. Amount is duplicated as a string in
// siacoins for consumers that cannot parse 10^24-scale integers.
type EntryRecorded struct {
	Type      string       `json:"type"`
	RunID     string       `json:"run_id,omitempty"`
	Entry     domain.Entry `json:"entry"`
	AmountSC  string       `json:"amount_sc"`
	Timestamp time.Time    `json:"ts"`
}

// NewEntryRecorded builds the event for e.
func NewEntryRecorded(runID string, e domain.Entry) EntryRecorded {
	return EntryRecorded{
		Type:      TypeEntryRecorded,
		RunID:     runID,
		Entry:     e,
		AmountSC:  domain.HastingsToSiacoins(e.Amount).String(),
		Timestamp: time.Now().UTC(),
	}
}

// Sink receives ledger events.
type Sink interface {
	Publish(ctx context.Context, ev EntryRecorded) error
}

// EntryBroadcaster fans out events to all subscribers via buffered channels.
type EntryBroadcaster struct {
	mu     sync.RWMutex
	subs   map[chan EntryRecorded]struct{}
	buffer int
}

// NewEntryBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewEntryBroadcaster(buffer int) *EntryBroadcaster {
	if buffer < 1 {
		buffer = 64
	}
	return &EntryBroadcaster{
		subs:   make(map[chan EntryRecorded]struct{}),
		buffer: buffer,
	}
}

// Publish sends the event to all subscribers, dropping it for slow readers.
func (b *EntryBroadcaster) Publish(_ context.Context, ev EntryRecorded) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// drop slow consumer
		}
	}
	return nil
}

// Subscribe returns a channel that receives events until Unsubscribe is called.
func (b *EntryBroadcaster) Subscribe() chan EntryRecorded {
	ch := make(chan EntryRecorded, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *EntryBroadcaster) Unsubscribe(ch chan EntryRecorded) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Subscribers returns the number of active subscribers.
func (b *EntryBroadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
