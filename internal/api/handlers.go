// ABOUTME: Route table and JSON handlers for agent listing, control and runtime state
// ABOUTME: Control endpoints map onto Manager operations; unknown agents answer 404

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/partner-poller/internal/agent"
	"github.com/2389/partner-poller/internal/runtimestate"
)

// AgentView is the JSON shape of one agent.
type AgentView struct {
	agent.Info
	Schedule string                   `json:"schedule"`
	NextRun  time.Time                `json:"nextRun,omitzero"`
	State    *runtimestate.AgentState `json:"state,omitempty"`
}

// StartResponse is returned by POST /api/agents/{id}/start.
type StartResponse struct {
	ID       string         `json:"id"`
	Accepted bool           `json:"accepted"`
	Outcome  *agent.Outcome `json:"outcome,omitempty"`
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/agents", s.handleListAgents)
	mux.HandleFunc("GET /api/agents/{id}", s.handleGetAgent)
	mux.HandleFunc("POST /api/agents/{id}/{action}", s.handleAgentAction)
	mux.HandleFunc("POST /api/agents/pause-all", s.handleBroadcast(s.manager.PauseAll))
	mux.HandleFunc("POST /api/agents/resume-all", s.handleBroadcast(s.manager.ResumeAll))
	mux.HandleFunc("POST /api/agents/stop-all", s.handleBroadcast(s.manager.StopAll))
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/ws", s.handleWebSocket)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) view(info agent.Info, withState bool) AgentView {
	v := AgentView{Info: info, Schedule: s.schedule.Describe(info.ID)}
	if next, ok := s.schedule.NextRun(info.ID); ok {
		v.NextRun = next
	}
	if withState {
		st := s.store.Agent(info.ID)
		v.State = &st
	}
	return v
}

func (s *Server) views() []AgentView {
	infos := s.manager.Agents()
	out := make([]AgentView, 0, len(infos))
	for _, info := range infos {
		out = append(out, s.view(info, false))
	}
	return out
}

func (s *Server) info(id string) (agent.Info, bool) {
	a, ok := s.manager.Agent(id)
	if !ok {
		return agent.Info{}, false
	}
	return agent.Info{
		ID:          a.ID(),
		DisplayName: a.DisplayName(),
		Status:      a.Status(),
		Running:     s.manager.IsRunning(id),
	}, true
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.views())
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	info, ok := s.info(r.PathValue("id"))
	if !ok {
		s.sendJSONError(w, http.StatusNotFound, "agent not found")
		return
	}
	s.writeJSON(w, http.StatusOK, s.view(info, true))
}

func (s *Server) handleAgentAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var err error
	switch action := r.PathValue("action"); action {
	case "start":
		s.handleStart(w, r, id)
		return
	case "pause":
		err = s.manager.Pause(id)
	case "resume":
		err = s.manager.Resume(id)
	case "stop":
		err = s.manager.Stop(id)
	default:
		s.sendJSONError(w, http.StatusNotFound, "unknown action "+strconv.Quote(action))
		return
	}

	if errors.Is(err, agent.ErrAgentNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "agent not found")
		return
	}
	if err != nil {
		s.logger.Error("agent action failed", "agent_id", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	info, _ := s.info(id)
	s.writeJSON(w, http.StatusOK, s.view(info, false))
}

// handleStart runs a manual tick. By default the tick runs in the background
// and the request returns 202; with ?wait=true the response carries the
// outcome and the tick is bound to the request.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := s.manager.Agent(id); !ok {
		s.sendJSONError(w, http.StatusNotFound, "agent not found")
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		outcome := s.manager.StartNow(r.Context(), id)
		status := http.StatusOK
		if outcome == agent.OutcomeBusy {
			status = http.StatusConflict
		}
		s.writeJSON(w, status, StartResponse{ID: id, Accepted: outcome != agent.OutcomeBusy, Outcome: &outcome})
		return
	}

	if s.manager.IsRunning(id) {
		s.sendJSONError(w, http.StatusConflict, "tick already running")
		return
	}
	ctx := context.WithoutCancel(r.Context())
	s.runs.Go(func() {
		s.manager.StartNow(ctx, id)
	})
	s.writeJSON(w, http.StatusAccepted, StartResponse{ID: id, Accepted: true})
}

func (s *Server) handleBroadcast(fn func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn()
		s.writeJSON(w, http.StatusOK, s.views())
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("writing response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
