package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kahiteam/circbuf/internal/adapter"
	"github.com/kahiteam/circbuf/internal/registry"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.daemon != nil && s.daemon.IsShuttingDown() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "shutting_down",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports readiness. With ?buffers=a,b it also waits for the
// named buffers to exist.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.daemon == nil || !s.daemon.IsReady() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
		})
		return
	}

	if filter := r.URL.Query().Get("buffers"); filter != "" {
		var pending []string
		for _, name := range strings.Split(filter, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if _, err := s.buffers.Info(name); err != nil {
				if !errors.Is(err, registry.ErrNotFound) {
					s.fail(w, "readyz", err)
					return
				}
				pending = append(pending, name)
			}
		}
		if len(pending) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":  "not_ready",
				"pending": pending,
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleListBuffers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.buffers.List())
}

type createRequest struct {
	Name     string `json:"name"`
	Channels int    `json:"channels"`
	Capacity int    `json:"capacity"`
	Strict   bool   `json:"strict"`
}

func (s *Server) handleCreateBuffer(w http.ResponseWriter, r *http.Request) {
	if s.daemon != nil && s.daemon.IsShuttingDown() {
		writeError(w, http.StatusConflict, "daemon is shutting down", "SHUTTING_DOWN")
		return
	}
	var req createRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest,
			"request body must contain {\"name\":...,\"channels\":N,\"capacity\":N}", "BAD_REQUEST")
		return
	}
	info, err := s.buffers.Create(req.Name, req.Channels, req.Capacity, req.Strict)
	if err != nil {
		s.fail(w, "create", err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleGetBuffer(w http.ResponseWriter, r *http.Request) {
	info, err := s.buffers.Info(r.PathValue("name"))
	if err != nil {
		s.fail(w, "info", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDestroyBuffer(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.buffers.Clear(name); err != nil {
		s.fail(w, "destroy", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "destroyed", "name": name})
}

func (s *Server) handleAddSamples(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var body struct {
		Data []float32 `json:"data"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "request body must contain {\"data\":[...]}", "BAD_REQUEST")
		return
	}
	if err := s.buffers.Add(name, body.Data); err != nil {
		s.fail(w, "add", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "written", "name": name, "values": len(body.Data)})
}

func (s *Server) handleReadRange(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	count, err := intParam(r, "count", -1)
	if err != nil {
		s.fail(w, "get", err)
		return
	}
	channel, err := intParam(r, "channel", 0)
	if err != nil {
		s.fail(w, "get", err)
		return
	}
	start, err := intParam(r, "start", 0)
	if err != nil {
		s.fail(w, "get", err)
		return
	}

	data, err := s.buffers.Get(name, count, channel, start)
	if err != nil {
		s.fail(w, "get", err)
		return
	}
	if s.metrics != nil {
		s.metrics.IncRead(name, "range")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    name,
		"channel": channel,
		"start":   start,
		"samples": count,
		"data":    data,
	})
}

func (s *Server) handleReadRecent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	count, err := intParam(r, "count", -1)
	if err != nil {
		s.fail(w, "getMostRecent", err)
		return
	}
	m, err := s.buffers.GetMostRecent(name, count)
	if err != nil {
		s.fail(w, "getMostRecent", err)
		return
	}
	if s.metrics != nil {
		s.metrics.IncRead(name, "recent")
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleResetBuffer(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.buffers.Reset(name); err != nil {
		s.fail(w, "reset", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "name": name})
}

// knownCommands bounds the op label of command error metrics.
var knownCommands = map[string]bool{
	adapter.CmdCreate: true, adapter.CmdClear: true, adapter.CmdDestroy: true,
	adapter.CmdAdd: true, adapter.CmdGet: true, adapter.CmdGetMostRecent: true,
}

type commandRequest struct {
	Command string `json:"command"`
	Args    []any  `json:"args"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest,
			"request body must contain {\"command\":\"...\",\"args\":[...]}", "BAD_REQUEST")
		return
	}
	op := req.Command
	if !knownCommands[op] {
		op = "unknown"
	}
	if req.Command == adapter.CmdCreate && s.daemon != nil && s.daemon.IsShuttingDown() {
		writeError(w, http.StatusConflict, "daemon is shutting down", "SHUTTING_DOWN")
		return
	}

	result, err := s.buffers.Exec(req.Command, req.Args)
	if err != nil {
		s.fail(w, op, err)
		return
	}
	if s.metrics != nil && len(req.Args) > 0 {
		if name, ok := req.Args[0].(string); ok {
			switch req.Command {
			case adapter.CmdGet:
				s.metrics.IncRead(name, "range")
			case adapter.CmdGetMostRecent:
				s.metrics.IncRead(name, "recent")
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "result": result})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.config.GetConfig())
}

func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	added, changed, removed, err := s.config.Reload()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "SERVER_ERROR")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "reloaded",
		"added":   added,
		"changed": changed,
		"removed": removed,
	})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "shutting_down"})
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.daemon.Shutdown()
	}()
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.Version())
}
