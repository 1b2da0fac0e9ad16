package coordinator

import (
	"sync"
	"sync/atomic"

	"ustreamer/internal/frame"
)

// CurrentFrame is the single most recently published EncodedFrame,
// reference-counted so it can be shared immutably across every
// subscriber without copying. It is created at publish and destroyed
// once no subscriber references it and the coordinator has replaced it.
type CurrentFrame struct {
	Encoded frame.EncodedFrame
	refs    atomic.Int32
}

func newCurrentFrame(f frame.EncodedFrame) *CurrentFrame {
	cf := &CurrentFrame{Encoded: f}
	cf.refs.Store(1) // coordinator's own reference
	return cf
}

// Acquire increments the refcount for a new subscriber reader. It must
// be balanced with Release.
func (c *CurrentFrame) Acquire() *CurrentFrame {
	if c == nil {
		return nil
	}
	c.refs.Add(1)
	return c
}

// Release drops a reference. The frame's backing buffer is eligible for
// reuse once the count reaches zero; this implementation relies on the
// garbage collector for the actual free, matching Go idiom, but keeps
// the refcount so tests can assert on lifetime.
func (c *CurrentFrame) Release() {
	if c == nil {
		return
	}
	c.refs.Add(-1)
}

// RefCount is exposed for tests verifying the "destroyed when refcount
// reaches zero AND coordinator has replaced it" invariant.
func (c *CurrentFrame) RefCount() int32 { return c.refs.Load() }

// currentPointer is the atomically-swapped many-readers-no-writers slot
// used in place of a global mutable "current frame".
type currentPointer struct {
	mu  sync.Mutex
	cur *CurrentFrame
}

func (p *currentPointer) swap(next *CurrentFrame) *CurrentFrame {
	p.mu.Lock()
	old := p.cur
	p.cur = next
	p.mu.Unlock()
	return old
}

func (p *currentPointer) load() *CurrentFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur.Acquire()
}
