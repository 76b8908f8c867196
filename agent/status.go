package agent

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
)

type HeartbeatResponse struct {
	LastActivity string
}

type SessionsResponse struct {
	Active int64
	Total  int64
}

func (s *Server) statusRouter() http.Handler {
	router := httprouter.New()
	router.GET("/heartbeat", s.heartbeat)
	router.GET("/sessions", s.sessions)
	return router
}

// heartbeat reports when the bridge last accepted a connection.
func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.activityMut.Lock()
	lastActivity := s.lastActivity
	s.activityMut.Unlock()

	resp := HeartbeatResponse{}
	if !lastActivity.IsZero() {
		resp.LastActivity = lastActivity.UTC().Format(time.RFC3339)
	}
	s.writeJSON(w, resp)
}

func (s *Server) sessions(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.writeJSON(w, SessionsResponse{
		Active: s.activeSessions.Load(),
		Total:  s.totalSessions.Load(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.logger.Debugf("error marshaling status response: %s", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.Write(b)
}
