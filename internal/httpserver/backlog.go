package httpserver

import (
	"bufio"
	"net"
	"sync/atomic"
)

// backlogWriter enforces a per-connection send buffer limit: a chunk
// is only queued if the outstanding byte count
// stays under the configured limit. A slow client whose socket can't
// drain the queue as fast as frames arrive eventually gets an enqueue
// rejected, and the session tears the connection down rather than let
// memory grow or the coordinator stall.
type backlogWriter struct {
	conn  net.Conn
	bufrw *bufio.ReadWriter
	limit int

	outstanding atomic.Int64
	queue       chan []byte
	closeCh     chan struct{}
	errCh       chan struct{}
}

func newBacklogWriter(conn net.Conn, bufrw *bufio.ReadWriter, limit int) *backlogWriter {
	if limit <= 0 {
		limit = 1 << 20
	}
	return &backlogWriter{
		conn:    conn,
		bufrw:   bufrw,
		limit:   limit,
		queue:   make(chan []byte, 64),
		closeCh: make(chan struct{}),
		errCh:   make(chan struct{}, 1),
	}
}

// enqueue returns false if queuing chunk would push the outstanding byte
// count over the limit, or the writer has already hit a write error and
// is shutting down.
func (b *backlogWriter) enqueue(chunk []byte) bool {
	select {
	case <-b.errCh:
		return false
	default:
	}

	if b.outstanding.Load()+int64(len(chunk)) > int64(b.limit) {
		return false
	}
	b.outstanding.Add(int64(len(chunk)))

	select {
	case b.queue <- chunk:
		return true
	case <-b.closeCh:
		return false
	}
}

func (b *backlogWriter) run() {
	for {
		select {
		case chunk := <-b.queue:
			_, err := b.bufrw.Write(chunk)
			if err == nil {
				err = b.bufrw.Flush()
			}
			b.outstanding.Add(-int64(len(chunk)))
			if err != nil {
				select {
				case b.errCh <- struct{}{}:
				default:
				}
				return
			}
		case <-b.closeCh:
			return
		}
	}
}

func (b *backlogWriter) close() {
	select {
	case <-b.closeCh:
	default:
		close(b.closeCh)
	}
}
