package httpserver

import (
	"bufio"
	"fmt"
	"net/http"
	"time"

	"ustreamer/internal/broadcaster"
	"ustreamer/internal/stats"
)

// sessionState names the six states of the multipart stream machine.
// The Go implementation folds SendingHeaders
// through Interframe into one goroutine's control flow, but each state
// is still an explicit, named point for logging and tests to observe.
type sessionState int

const (
	stateSendingHeaders sessionState = iota
	stateAwaitingFrame
	stateSendingPartHeaders
	stateSendingPartBody
	stateInterframe
	stateClosing
)

func (s sessionState) String() string {
	switch s {
	case stateSendingHeaders:
		return "sending_headers"
	case stateAwaitingFrame:
		return "awaiting_frame"
	case stateSendingPartHeaders:
		return "sending_part_headers"
	case stateSendingPartBody:
		return "sending_part_body"
	case stateInterframe:
		return "interframe"
	default:
		return "closing"
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	sess := &streamSession{
		server: s,
		state:  stateSendingHeaders,
	}
	sess.run(w, r, hijacker)
}

// streamSession drives one client through the multipart state machine.
// Backpressure is enforced by a bounded per-connection send buffer:
// writes are queued to a writer goroutine
// and a client whose outstanding bytes exceed StreamClientBuffer is
// dropped, rather than letting a slow socket block the coordinator or
// pin memory.
type streamSession struct {
	server *Server
	state  sessionState

	sub        *broadcaster.Subscriber
	clientStat *stats.Client
}

func (s *streamSession) run(w http.ResponseWriter, r *http.Request, hijacker http.Hijacker) {
	deps := s.server.deps

	conn, bufrw, err := hijacker.Hijack()
	if err != nil {
		return
	}
	defer conn.Close()

	s.state = stateSendingHeaders
	if err := s.writeHeaders(bufrw, r); err != nil {
		return
	}

	s.sub = deps.Broadcaster.Register(conn.RemoteAddr().String())
	defer deps.Broadcaster.Unregister(s.sub)

	s.clientStat = s.sub.Stat

	wr := newBacklogWriter(conn, bufrw, deps.StreamClientBuffer)
	go wr.run()
	defer wr.close()

	interval := time.Duration(deps.StreamIntervalMS) * time.Millisecond
	var lastSent time.Time

	// Watch for the client closing its side; a Read on the hijacked conn
	// blocks until either data arrives (clients never send any on this
	// endpoint) or the connection is closed/reset.
	closedCh := make(chan struct{})
	go func() {
		defer close(closedCh)
		buf := make([]byte, 1)
		_, _ = conn.Read(buf)
	}()

	for {
		s.state = stateAwaitingFrame
		seq, ok := s.waitForFrame(closedCh)
		if !ok {
			s.state = stateClosing
			return
		}

		if interval > 0 {
			if wait := interval - time.Since(lastSent); wait > 0 {
				time.Sleep(wait)
			}
		}

		cur := deps.Coordinator.Current()
		if cur == nil {
			continue
		}
		ef := cur.Encoded

		s.state = stateSendingPartHeaders
		header := fmt.Sprintf(
			"--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\nX-Timestamp: %.6f\r\nX-UStreamer-Online: %s\r\n\r\n",
			boundary, ef.Used, ef.GrabTS, onlineHeader(ef.Online),
		)

		s.state = stateSendingPartBody
		chunk := make([]byte, 0, len(header)+ef.Used+2)
		chunk = append(chunk, header...)
		chunk = append(chunk, ef.Bytes()...)
		chunk = append(chunk, '\r', '\n')
		cur.Release()

		if !wr.enqueue(chunk) {
			s.clientStat.DroppedForSlow.Add(1)
			s.state = stateClosing
			return
		}

		s.clientStat.Delivered.Add(1)
		s.clientStat.LastDeliveredSeq.Store(seq)
		lastSent = time.Now()
		s.state = stateInterframe
	}
}

func (s *streamSession) waitForFrame(closedCh <-chan struct{}) (uint64, bool) {
	type result struct {
		seq uint64
		ok  bool
	}
	ch := make(chan result, 1)
	go func() {
		seq, ok := s.sub.Wait()
		ch <- result{seq, ok}
	}()

	select {
	case r := <-ch:
		return r.seq, r.ok
	case <-closedCh:
		return 0, false
	}
}

func (s *streamSession) writeHeaders(bufrw *bufio.ReadWriter, r *http.Request) error {
	deps := s.server.deps

	w2, h2 := 0, 0
	if deps.CapturedGeom != nil {
		w2, h2 = deps.CapturedGeom()
	}
	online := "0"
	if deps.SourceOnline != nil && deps.SourceOnline() {
		online = "1"
	}

	if _, err := fmt.Fprintf(bufrw, "HTTP/1.1 200 OK\r\n"); err != nil {
		return err
	}
	headers := map[string]string{
		"Content-Type":         fmt.Sprintf("multipart/x-mixed-replace;boundary=%s", boundary),
		"Connection":           "close",
		"Cache-Control":        "no-cache",
		"X-UStreamer-Width":    fmt.Sprintf("%d", w2),
		"X-UStreamer-Height":   fmt.Sprintf("%d", h2),
		"X-UStreamer-Online":   online,
	}
	if deps.AllowOrigin != "" {
		headers["Access-Control-Allow-Origin"] = deps.AllowOrigin
	}
	for k, v := range headers {
		if _, err := fmt.Fprintf(bufrw, "%s: %s\r\n", k, v); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(bufrw, "\r\n"); err != nil {
		return err
	}
	return bufrw.Flush()
}
