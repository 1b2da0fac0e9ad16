// Package httpserver implements the daemon's four HTTP routes and the
// per-connection multipart streaming state machine.
package httpserver

import (
	"context"
	"embed"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"ustreamer/internal/broadcaster"
	"ustreamer/internal/coordinator"
	"ustreamer/internal/encoder"
	"ustreamer/internal/stats"
)

//go:embed static/index.html
var embeddedFS embed.FS

const boundary = "ustreamerboundary"

// Deps bundles everything the server needs to answer requests. It is
// intentionally a plain struct rather than a God-object with behavior:
// every field is owned and populated elsewhere.
type Deps struct {
	Coordinator *coordinator.Coordinator
	Broadcaster *broadcaster.Broadcaster
	SourceStats *stats.Source
	EncoderStats *stats.Encoder
	StreamStats *stats.Stream

	InstanceID  string
	EncoderKind encoder.Kind
	Quality     int
	DesiredFPS  float64

	StaticDir          string
	AllowOrigin        string
	StreamIntervalMS   int
	StreamClientBuffer int
	ExposeCmdline      bool
	ExposePath         bool
	FakeResolution     string
	DevicePath         string
	Cmdline            string

	SourceOnline  func() bool
	CapturedGeom  func() (w, h int)
}

// Server owns the http.Server and route table.
type Server struct {
	deps Deps
	log  *logrus.Entry
	http *http.Server
}

// New builds a Server and its route table. It binds nothing itself: the
// listener (see Listen) is handed to Serve.
func New(deps Deps, log *logrus.Entry) *Server {
	s := &Server{deps: deps, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/snapshot", s.handleSnapshot)
	mux.HandleFunc("/stream", s.handleStream)

	s.http = &http.Server{Handler: mux}
	return s
}

// Serve accepts connections on the given listener until the listener is
// closed or the context is cancelled, whichever comes first.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) setCORS(w http.ResponseWriter) {
	if s.deps.AllowOrigin != "" {
		w.Header().Set("Access-Control-Allow-Origin", s.deps.AllowOrigin)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if s.deps.StaticDir != "" {
		http.FileServer(http.Dir(s.deps.StaticDir)).ServeHTTP(w, r)
		return
	}
	sub, err := fs.Sub(embeddedFS, "static")
	if err != nil {
		http.Error(w, "index unavailable", http.StatusInternalServerError)
		return
	}
	http.FileServer(http.FS(sub)).ServeHTTP(w, r)
}
