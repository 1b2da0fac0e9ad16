package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"ustreamer/internal/stats"
)

// stateResponse is the JSON body returned by /state.
type stateResponse struct {
	InstanceID string `json:"instance_id"`
	Cmdline    string `json:"cmdline,omitempty"`
	Encoder    struct {
		Type    string `json:"type"`
		Quality int    `json:"quality"`
	} `json:"encoder"`
	Source struct {
		Resolution   string  `json:"resolution"`
		Format       string  `json:"format"`
		Online       bool    `json:"online"`
		DesiredFPS   float64 `json:"desired_fps"`
		CapturedFPS  float64 `json:"captured_fps"`
		Path         string  `json:"path,omitempty"`
	} `json:"source"`
	Stream struct {
		QueuedFPS   float64      `json:"queued_fps"`
		Clients     int          `json:"clients"`
		ClientsStat []clientStat `json:"clients_stat"`
	} `json:"stream"`
}

type clientStat struct {
	ID        string `json:"id"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped_for_slow"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.setCORS(w)
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var resp stateResponse
	resp.InstanceID = s.deps.InstanceID
	resp.Encoder.Type = s.deps.EncoderKind.String()
	resp.Encoder.Quality = s.deps.Quality

	w2, h2 := 0, 0
	if s.deps.CapturedGeom != nil {
		w2, h2 = s.deps.CapturedGeom()
	}
	resp.Source.Resolution = formatResolution(w2, h2)
	if s.deps.FakeResolution != "" {
		resp.Source.Resolution = s.deps.FakeResolution
	}
	if s.deps.SourceOnline != nil {
		resp.Source.Online = s.deps.SourceOnline()
	}
	resp.Source.DesiredFPS = s.deps.DesiredFPS
	if s.deps.SourceStats != nil {
		resp.Source.CapturedFPS = s.deps.SourceStats.FPS()
	}
	if s.deps.ExposePath {
		resp.Source.Path = s.deps.DevicePath
	}
	if s.deps.ExposeCmdline {
		resp.Cmdline = s.deps.Cmdline
	}

	if s.deps.StreamStats != nil {
		resp.Stream.QueuedFPS = s.deps.StreamStats.FPS()
	}
	resp.Stream.Clients = s.deps.Broadcaster.Count()
	resp.Stream.ClientsStat = clientStats(s.deps.Broadcaster.Clients())

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func clientStats(clients []*stats.Client) []clientStat {
	out := make([]clientStat, 0, len(clients))
	for _, c := range clients {
		out = append(out, clientStat{
			ID:        c.ID,
			Delivered: c.Delivered.Load(),
			Dropped:   c.DroppedForSlow.Load(),
		})
	}
	return out
}

func formatResolution(w, h int) string {
	if w == 0 || h == 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", w, h)
}
