package httpapi

import (
	"net/http"
	"time"

	"github.com/deusexmachina/authcore"
	"github.com/deusexmachina/authcore/middleware"
)

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
	LogoutAll    bool   `json:"logout_all"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type confirmResetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type validateResponse struct {
	UserID        string    `json:"user_id"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"email_verified"`
	AuthProvider  string    `json:"auth_provider"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type healthResponse struct {
	Status         string `json:"status"`
	Service        string `json:"service"`
	Version        string `json:"version"`
	Timestamp      int64  `json:"timestamp"`
	RedisLatencyMS int64  `json:"redis_latency_ms"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req authcore.RegisterRequest
	if !decode(w, r, &req) || !required(w, map[string]string{"email": req.Email, "password": req.Password}) {
		return
	}

	resp, err := s.svc.Register(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req authcore.LoginRequest
	if !decode(w, r, &req) || !required(w, map[string]string{"email": req.Email, "password": req.Password}) {
		return
	}

	resp, err := s.svc.Login(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) google(w http.ResponseWriter, r *http.Request) {
	var req authcore.GoogleLoginRequest
	if !decode(w, r, &req) {
		return
	}
	if req.IDToken == "" && req.Code == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "id_token or code is required")
		return
	}

	resp, err := s.svc.GoogleLogin(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decode(w, r, &req) || !required(w, map[string]string{"refresh_token": req.RefreshToken}) {
		return
	}

	resp, err := s.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if !decode(w, r, &req) || !required(w, map[string]string{"refresh_token": req.RefreshToken}) {
		return
	}

	if err := s.svc.Logout(r.Context(), req.RefreshToken, req.LogoutAll); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out"})
}

func (s *Server) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decode(w, r, &req) || !required(w, map[string]string{"token": req.Token}) {
		return
	}

	if err := s.svc.VerifyEmail(r.Context(), req.Token); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Email verified successfully"})
}

func (s *Server) resendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decode(w, r, &req) || !required(w, map[string]string{"email": req.Email}) {
		return
	}

	if err := s.svc.ResendVerificationEmail(r.Context(), req.Email); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Message: "If the account needs verification, an email has been sent"})
}

func (s *Server) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decode(w, r, &req) || !required(w, map[string]string{"email": req.Email}) {
		return
	}

	if err := s.svc.InitiatePasswordReset(r.Context(), req.Email); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "If the email exists, a reset link has been sent"})
}

func (s *Server) confirmReset(w http.ResponseWriter, r *http.Request) {
	var req confirmResetRequest
	if !decode(w, r, &req) || !required(w, map[string]string{"token": req.Token, "new_password": req.NewPassword}) {
		return
	}

	if err := s.svc.CompletePasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password reset successfully"})
}

func (s *Server) validate(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "invalid authorization header")
		return
	}

	claims, err := s.svc.ValidateAccessToken(r.Context(), token)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{
		UserID:        claims.UserID,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		AuthProvider:  claims.AuthProvider,
		ExpiresAt:     claims.ExpiresAt.UTC(),
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "healthy",
		Service:   "authcore",
		Version:   s.opts.Version,
		Timestamp: time.Now().UnixMilli(),
	}

	latency, err := s.svc.Ping(r.Context())
	if err != nil {
		s.logger.Warn().Err(err).Msg("health check failed")
		resp.Status = "unhealthy"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.RedisLatencyMS = latency.Milliseconds()
	writeJSON(w, http.StatusOK, resp)
}
