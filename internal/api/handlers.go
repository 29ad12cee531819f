// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/StagOS/android-system-apex/internal/log"
)

type submitSessionRequest struct {
	SessionID       int      `json:"sessionId"`
	ChildSessionIDs []int    `json:"childSessionIds,omitempty"`
	PackagePaths    []string `json:"packagePaths"`
	IsRollback      bool     `json:"isRollback,omitempty"`
}

type packagePathsRequest struct {
	PackagePaths []string `json:"packagePaths"`
}

type packagePathRequest struct {
	PackagePath string `json:"packagePath"`
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func sessionIDParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("session id must be an integer")
	}
	return id, nil
}

func (s *Server) handleSubmitSession(w http.ResponseWriter, r *http.Request) {
	var req submitSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx := log.ContextWithSessionID(r.Context(), req.SessionID)
	infos, err := s.svc.SubmitStagedSession(ctx, req.SessionID, req.ChildSessionIDs, req.PackagePaths, req.IsRollback)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"packages": infos})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	infos, err := s.svc.GetSessions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": infos})
}

// handleSessionInfo always answers 200: an unknown session is reported as
// the synthetic unknown record, not an HTTP error.
func (s *Server) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	info := s.svc.GetStagedSessionInfo(r.Context(), id)
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleMarkReady(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.svc.MarkStagedSessionReady(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleActivateSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	infos, err := s.svc.ActivateStagedSession(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"packages": infos})
}

func (s *Server) handleMarkSuccessful(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.svc.MarkStagedSessionSuccessful(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleListPackages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"packages": s.svc.GetActivePackages(r.Context())})
}

func (s *Server) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	info, ok := s.svc.GetActivePackage(r.Context(), name)
	if !ok {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleStagePackages(w http.ResponseWriter, r *http.Request) {
	var req packagePathsRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.svc.StagePackages(r.Context(), req.PackagePaths); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleActivatePackage(w http.ResponseWriter, r *http.Request) {
	var req packagePathRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	info, err := s.svc.ActivatePackage(r.Context(), req.PackagePath)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"package": info})
}

func (s *Server) handleDeactivatePackage(w http.ResponseWriter, r *http.Request) {
	var req packagePathRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.svc.DeactivatePackage(r.Context(), req.PackagePath); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handlePreinstall(w http.ResponseWriter, r *http.Request) {
	var req packagePathsRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.svc.PreinstallPackages(r.Context(), req.PackagePaths); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handlePostinstall(w http.ResponseWriter, r *http.Request) {
	var req packagePathsRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.svc.PostinstallPackages(r.Context(), req.PackagePaths); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}
