// Package broadcaster fans coordinator publish notifications out to
// HTTP sessions and auxiliary sinks without copying the frame itself —
// subscribers pull the actual bytes from the coordinator's CurrentFrame,
// the broadcaster only ever carries a sequence number.
package broadcaster

import (
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"ustreamer/internal/stats"
)

// Subscriber is a latest-wins mailbox: at most one pending notification.
// A notification that arrives while the mailbox is full overwrites the
// old value, so a slow client loses frames but never stalls the
// coordinator's publish path.
type Subscriber struct {
	ID   string
	Stat *stats.Client

	mu      sync.Mutex
	cond    *sync.Cond
	pending uint64
	hasMsg  bool
	closed  bool
}

func newSubscriber(id, remoteAddr string) *Subscriber {
	s := &Subscriber{ID: id, Stat: &stats.Client{ID: id, RemoteAddr: remoteAddr, ConnectedAt: time.Now()}}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *Subscriber) deliver(seq uint64) {
	s.mu.Lock()
	s.pending = seq
	s.hasMsg = true
	s.cond.Signal()
	s.mu.Unlock()
}

// Wait blocks until a notification is pending or the subscriber is
// closed, returning (seq, true) or (0, false) respectively. Grounded on
// the WorkerSlot mailbox pattern in the framesupplier reference module
// (sync.Cond over a single overwritten slot).
func (s *Subscriber) Wait() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.hasMsg && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return 0, false
	}
	seq := s.pending
	s.hasMsg = false
	return seq, true
}

func (s *Subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()
}

// Broadcaster is the registry of subscribers. Register/Unregister are
// O(1) under a short lock; Notify is O(n) and runs on the coordinator's
// goroutine, never holding the lock during I/O.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[string]*Subscriber
}

func New() *Broadcaster {
	return &Broadcaster{subs: map[string]*Subscriber{}}
}

// Register creates a new subscriber with a uuid identity, the same
// per-connection id pattern used in the cam2mjpeg reference file's
// map[string]chan []byte client registry. remoteAddr is recorded on the
// subscriber's Stat for /state's clients_stat.
func (b *Broadcaster) Register(remoteAddr string) *Subscriber {
	id := uuid.Must(uuid.NewV4()).String()
	s := newSubscriber(id, remoteAddr)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()
	return s
}

// Unregister removes and closes a subscriber. Idempotent.
func (b *Broadcaster) Unregister(s *Subscriber) {
	b.mu.Lock()
	_, ok := b.subs[s.ID]
	delete(b.subs, s.ID)
	b.mu.Unlock()

	if ok {
		s.close()
	}
}

// Notify implements coordinator.Notifier: fan a published sequence out
// to every registered subscriber's mailbox.
func (b *Broadcaster) Notify(seq uint64) {
	b.mu.Lock()
	targets := make([]*Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		s.deliver(seq)
	}
}

// Count reports the number of live subscribers, for /state.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Clients returns a snapshot of every live subscriber's stats, for
// /state's clients_stat array.
func (b *Broadcaster) Clients() []*stats.Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*stats.Client, 0, len(b.subs))
	for _, s := range b.subs {
		out = append(out, s.Stat)
	}
	return out
}
