package server

import (
	"encoding/json"
	"net/http"
	"time"

	"codeberg.org/mutker/vramwatch/internal/errors"
	"codeberg.org/mutker/vramwatch/internal/store"
)

type createNodeRequest struct {
	Name    string `json:"name"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Enabled *bool  `json:"enabled"`
}

type updateNodeRequest struct {
	Name    *string `json:"name"`
	Host    *string `json:"host"`
	Port    *int    `json:"port"`
	Enabled *bool   `json:"enabled"`
}

type nodeResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Host      string     `json:"host"`
	Port      int        `json:"port"`
	Enabled   bool       `json:"enabled"`
	CreatedAt time.Time  `json:"created_at"`
	LastSeen  *time.Time `json:"last_seen"`
}

func toNodeResponse(n store.Node) nodeResponse {
	return nodeResponse{
		ID:        n.ID,
		Name:      n.Name,
		Host:      n.Host,
		Port:      n.Port,
		Enabled:   n.Enabled,
		CreatedAt: n.CreatedAt,
		LastSeen:  n.LastSeen,
	}
}

func (s *Server) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	errFactory := errors.New()

	var req createNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, errFactory.Wrap(ErrInvalidRequest, err))
		return
	}
	if req.Name == "" || req.Host == "" {
		writeError(w, s.log, errFactory.WithMessage(ErrInvalidRequest, "Node name and host are required"))
		return
	}
	if req.Port <= 0 || req.Port > 65535 {
		writeError(w, s.log, errFactory.WithMessage(ErrInvalidRequest, "Node port out of range"))
		return
	}

	node, err := s.store.CreateNode(r.Context(), req.Name, req.Host, req.Port)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	if req.Enabled != nil && !*req.Enabled {
		node, err = s.store.UpdateNode(r.Context(), node.ID, store.NodeUpdate{Enabled: req.Enabled})
		if err != nil {
			writeError(w, s.log, err)
			return
		}
	}

	if node.Enabled {
		if err := s.collector.Start(*node); err != nil {
			s.log.Error().Err(err).Str("node", node.Name).Msg("Failed to start collector")
		}
	}

	writeJSON(w, http.StatusCreated, toNodeResponse(*node))
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.store.ListNodes(r.Context())
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	resp := make([]nodeResponse, 0, len(nodes))
	for _, n := range nodes {
		resp = append(resp, toNodeResponse(n))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.store.GetNode(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	writeJSON(w, http.StatusOK, toNodeResponse(*node))
}

// handleUpdateNode applies a partial update and keeps collection in step:
// toggling enabled starts or stops the worker, and an endpoint change while
// enabled restarts it. A pure rename leaves the worker alone.
func (s *Server) handleUpdateNode(w http.ResponseWriter, r *http.Request) {
	errFactory := errors.New()
	id := r.PathValue("id")

	var req updateNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, errFactory.Wrap(ErrInvalidRequest, err))
		return
	}
	if req.Port != nil && (*req.Port <= 0 || *req.Port > 65535) {
		writeError(w, s.log, errFactory.WithMessage(ErrInvalidRequest, "Node port out of range"))
		return
	}

	before, err := s.store.GetNode(r.Context(), id)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	node, err := s.store.UpdateNode(r.Context(), id, store.NodeUpdate{
		Name:    req.Name,
		Host:    req.Host,
		Port:    req.Port,
		Enabled: req.Enabled,
	})
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	switch {
	case before.Enabled && !node.Enabled:
		s.collector.Stop(node.ID)
	case !before.Enabled && node.Enabled:
		if err := s.collector.Start(*node); err != nil {
			s.log.Error().Err(err).Str("node", node.Name).Msg("Failed to start collector")
		}
	case node.Enabled && (before.Host != node.Host || before.Port != node.Port):
		if err := s.collector.Restart(*node); err != nil {
			s.log.Error().Err(err).Str("node", node.Name).Msg("Failed to restart collector")
		}
	}

	writeJSON(w, http.StatusOK, toNodeResponse(*node))
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.collector.Stop(id)

	if err := s.store.DeleteNode(r.Context(), id); err != nil {
		writeError(w, s.log, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
