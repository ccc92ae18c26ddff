package chat

import "sync"

// broker fans operations out to any number of subscribers. Publishing never
// blocks the mutating caller: each subscriber owns an unbounded mailbox
// drained by its own goroutine, so a slow renderer cannot stall the store.
// There is no replay; a subscriber sees only operations published after it
// subscribed.
type broker struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

type subscriber struct {
	mu    sync.Mutex
	queue []Operation
	wake  chan struct{}
	done  chan struct{}
	out   chan Operation
	dead  bool
}

func newBroker() *broker {
	return &broker{subs: make(map[int]*subscriber)}
}

// subscribe registers a new subscriber and returns its channel plus a cancel
// function. Cancel is idempotent and safe after close.
func (b *broker) subscribe() (<-chan Operation, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &subscriber{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan Operation),
	}
	if b.closed {
		// already torn down: hand back a closed channel
		close(s.out)
		return s.out, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	go s.run()
	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			sub.stop()
		}
		b.mu.Unlock()
	}
	return s.out, cancel
}

// publish appends op to every live mailbox.
func (b *broker) publish(op Operation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		s.push(op)
	}
}

// close tears down all subscribers; pending undelivered operations are
// discarded, since a renderer that is going away has no use for them.
func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		s.stop()
	}
}

func (s *subscriber) push(op Operation) {
	s.mu.Lock()
	if s.dead {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, op)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.mu.Lock()
	if s.dead {
		s.mu.Unlock()
		return
	}
	s.dead = true
	s.queue = nil
	s.mu.Unlock()
	close(s.done)
}

func (s *subscriber) run() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if s.dead {
			s.mu.Unlock()
			return
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
			case <-s.done:
				return
			}
			continue
		}
		op := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		select {
		case s.out <- op:
		case <-s.done:
			return
		}
	}
}
