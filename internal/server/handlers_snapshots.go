package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/coachplan/plan-engine/internal/db"
)

// ListSnapshotsResponse represents the response for listing a client's snapshots
type ListSnapshotsResponse struct {
	Snapshots []db.Snapshot `json:"snapshots"`
	Count     int           `json:"count"`
}

// handleListClientSnapshots lists snapshots for a client, newest first
func (s *Server) handleListClientSnapshots(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("client_id")
	if clientID == "" {
		s.errorResponse(w, http.StatusBadRequest, "client_id is required")
		return
	}
	limit := parseQueryInt(r, "limit", 50, 100)

	snapshots, err := s.db.ListSnapshots(r.Context(), clientID, limit)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, ListSnapshotsResponse{
		Snapshots: snapshots,
		Count:     len(snapshots),
	})
}

// handleGetSnapshot retrieves a snapshot by its ID
func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshotID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid snapshot ID")
		return
	}

	snapshot, err := s.db.GetSnapshot(r.Context(), snapshotID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if snapshot == nil {
		s.errorResponse(w, http.StatusNotFound, "Snapshot not found")
		return
	}

	s.jsonResponse(w, http.StatusOK, snapshot)
}
