package httpserver

import (
	"fmt"
	"net/http"
)

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s.setCORS(w)
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cur := s.deps.Coordinator.Current()
	if cur == nil {
		w.Header().Set("X-UStreamer-Online", "0")
		http.Error(w, "no frame has ever been published", http.StatusServiceUnavailable)
		return
	}
	defer cur.Release()

	ef := cur.Encoded
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", ef.Used))
	w.Header().Set("X-UStreamer-Online", onlineHeader(ef.Online))
	w.Header().Set("X-Timestamp", fmt.Sprintf("%.6f", ef.GrabTS))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(ef.Bytes())
}

func onlineHeader(online bool) string {
	if online {
		return "1"
	}
	return "0"
}
