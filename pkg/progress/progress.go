// Package progress tracks attachment upload progress per message id. It is
// an independent collaborator the sync coordinator calls explicitly, so the
// message store stays free of upload bookkeeping.
package progress

import "sync"

// Update is one progress observation for an upload.
type Update struct {
	MessageID string
	Sent      int64
	Total     int64
	Done      bool
}

// Tracker fans progress updates out to subscribers by message id. Delivery
// is best-effort: a subscriber that is not draining loses intermediate
// updates rather than stalling the upload.
type Tracker struct {
	mu   sync.Mutex
	subs map[string][]chan Update
}

// NewTracker builds an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{subs: make(map[string][]chan Update)}
}

// Subscribe starts observing uploads for the given message id. The channel
// is closed on Complete; cancel detaches early.
func (t *Tracker) Subscribe(id string) (<-chan Update, func()) {
	ch := make(chan Update, 8)
	t.mu.Lock()
	t.subs[id] = append(t.subs[id], ch)
	t.mu.Unlock()
	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		chans := t.subs[id]
		for i, c := range chans {
			if c == ch {
				t.subs[id] = append(chans[:i], chans[i+1:]...)
				close(c)
				break
			}
		}
		if len(t.subs[id]) == 0 {
			delete(t.subs, id)
		}
	}
	return ch, cancel
}

// Publish reports progress for id.
func (t *Tracker) Publish(id string, sent, total int64) {
	t.send(Update{MessageID: id, Sent: sent, Total: total})
}

// Complete marks the upload finished (successfully or not) and closes all
// subscriptions for id.
func (t *Tracker) Complete(id string, sent, total int64) {
	t.send(Update{MessageID: id, Sent: sent, Total: total, Done: true})
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.subs[id] {
		close(c)
	}
	delete(t.subs, id)
}

func (t *Tracker) send(u Update) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.subs[u.MessageID] {
		select {
		case c <- u:
		default:
		}
	}
}
