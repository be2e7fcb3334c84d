package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/deusexmachina/authcore"
	"github.com/deusexmachina/authcore/middleware"
	"github.com/deusexmachina/authcore/permission"
	"github.com/deusexmachina/authcore/session"
)

type permissionView struct {
	ID           string          `json:"permission_id"`
	ResourceID   string          `json:"resource_id"`
	ResourceType string          `json:"resource_type"`
	GrantedTo    string          `json:"granted_to"`
	GrantedBy    string          `json:"granted_by"`
	Level        string          `json:"level"`
	GrantedAt    time.Time       `json:"granted_at"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
	Custom       map[string]bool `json:"custom,omitempty"`
}

func viewPermission(p permission.Permission) permissionView {
	v := permissionView{
		ID:           p.ID,
		ResourceID:   p.ResourceID,
		ResourceType: string(p.ResourceType),
		GrantedTo:    p.GrantedTo,
		GrantedBy:    p.GrantedBy,
		Level:        string(p.Level),
		GrantedAt:    p.GrantedAt.UTC(),
		Custom:       p.Custom,
	}
	if !p.ExpiresAt.IsZero() {
		exp := p.ExpiresAt.UTC()
		v.ExpiresAt = &exp
	}
	return v
}

func viewPermissions(ps []permission.Permission) []permissionView {
	out := make([]permissionView, 0, len(ps))
	for _, p := range ps {
		out = append(out, viewPermission(p))
	}
	return out
}

type sessionView struct {
	ID             string    `json:"session_id"`
	DeviceInfo     string    `json:"device_info"`
	IPAddress      string    `json:"ip_address"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func viewSessions(ss []session.Session) []sessionView {
	out := make([]sessionView, 0, len(ss))
	for _, s := range ss {
		out = append(out, sessionView{
			ID:             s.ID,
			DeviceInfo:     s.DeviceInfo,
			IPAddress:      s.IPAddress,
			CreatedAt:      s.CreatedAt.UTC(),
			LastAccessedAt: s.LastAccessedAt.UTC(),
			ExpiresAt:      s.ExpiresAt.UTC(),
		})
	}
	return out
}

type grantRequest struct {
	ResourceID   string          `json:"resource_id"`
	ResourceType string          `json:"resource_type"`
	GrantedTo    string          `json:"granted_to"`
	Level        string          `json:"level"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
	Custom       map[string]bool `json:"custom,omitempty"`
}

type claimRequest struct {
	ResourceType string `json:"resource_type"`
}

type transferRequest struct {
	To string `json:"to"`
}

type permissionIDResponse struct {
	PermissionID string `json:"permission_id"`
}

type accessResponse struct {
	ResourceID string `json:"resource_id"`
	Level      string `json:"level,omitempty"`
	Action     string `json:"action,omitempty"`
	Allowed    bool   `json:"allowed"`
}

type countResponse struct {
	Removed int `json:"removed"`
}

// caller returns the authenticated user ID. Routes using it sit behind
// RequireAuth, so a missing claim is a wiring error.
func caller(r *http.Request) string {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return ""
	}
	return claims.UserID
}

func (s *Server) listResourcePermissions(w http.ResponseWriter, r *http.Request) {
	grants, err := s.svc.ResourcePermissions(r.Context(), chi.URLParam(r, "resourceID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewPermissions(grants))
}

func (s *Server) grantPermission(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if !decode(w, r, &req) || !required(w, map[string]string{
		"resource_id":   req.ResourceID,
		"resource_type": req.ResourceType,
		"granted_to":    req.GrantedTo,
		"level":         req.Level,
	}) {
		return
	}

	level, err := permission.ParseLevel(req.Level)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	resourceType, err := permission.ParseResourceType(req.ResourceType)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	grant := authcore.GrantRequest{
		ResourceID:   req.ResourceID,
		ResourceType: resourceType,
		GrantedTo:    req.GrantedTo,
		GrantedBy:    caller(r),
		Level:        level,
		Custom:       req.Custom,
	}
	if req.ExpiresAt != nil {
		grant.ExpiresAt = *req.ExpiresAt
	}

	id, err := s.svc.GrantPermission(r.Context(), grant)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, permissionIDResponse{PermissionID: id})
}

func (s *Server) revokePermission(w http.ResponseWriter, r *http.Request) {
	revoked, err := s.svc.RevokePermission(r.Context(), chi.URLParam(r, "permissionID"), caller(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	if !revoked {
		writeError(w, http.StatusNotFound, "not_found", "permission not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) claimResource(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if !decode(w, r, &req) || !required(w, map[string]string{"resource_type": req.ResourceType}) {
		return
	}
	resourceType, err := permission.ParseResourceType(req.ResourceType)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	id, err := s.svc.ClaimResource(r.Context(), chi.URLParam(r, "resourceID"), resourceType, caller(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, permissionIDResponse{PermissionID: id})
}

func (s *Server) transferOwnership(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decode(w, r, &req) || !required(w, map[string]string{"to": req.To}) {
		return
	}

	if err := s.svc.TransferOwnership(r.Context(), chi.URLParam(r, "resourceID"), caller(r), req.To); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// checkAccess answers for one action when ?action= is given and reports the
// caller's effective level otherwise.
func (s *Server) checkAccess(w http.ResponseWriter, r *http.Request) {
	resourceID := chi.URLParam(r, "resourceID")

	if action := strings.TrimSpace(r.URL.Query().Get("action")); action != "" {
		allowed, err := s.svc.CheckPermission(r.Context(), caller(r), resourceID, action)
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, accessResponse{ResourceID: resourceID, Action: action, Allowed: allowed})
		return
	}

	level, ok, err := s.svc.EffectiveLevel(r.Context(), caller(r), resourceID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accessResponse{ResourceID: resourceID, Level: string(level), Allowed: ok})
}

func (s *Server) revokeMember(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.RevokeAllPermissions(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "resourceID"), caller(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Removed: n})
}

func (s *Server) deleteResource(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.DeleteResource(r.Context(), chi.URLParam(r, "resourceID"), caller(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Removed: n})
}

func (s *Server) myPermissions(w http.ResponseWriter, r *http.Request) {
	grants, err := s.svc.UserPermissions(r.Context(), caller(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewPermissions(grants))
}

func (s *Server) mySessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.svc.ActiveSessions(r.Context(), caller(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewSessions(sessions))
}
