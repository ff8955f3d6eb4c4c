package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/Meirlen/Tabys-sub000/internal/api/middleware"
	"github.com/Meirlen/Tabys-sub000/internal/domain"
	"github.com/Meirlen/Tabys-sub000/internal/service"
)

// AuthHandler handles the one-time-token lifecycle and the bot-facing
// session endpoints. The admin-facing endpoints (mint, revoke, sessions)
// sit behind the auth-context middleware; the bot-facing ones (verify,
// restore, logout) authenticate with the token itself.
type AuthHandler struct {
	svc    *service.OtpService
	logger *zap.Logger
}

func NewAuthHandler(svc *service.OtpService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, logger: logger}
}

type verifyResponse struct {
	SessionToken string             `json:"session_token"`
	Session      *domain.BotSession `json:"session"`
}

type restoreRequest struct {
	ExternalUserID int64 `json:"external_user_id"`
}

// Mint handles POST /api/v1/auth/otp
//
// @Summary     Mint a one-time login token for the calling admin
// @Tags        auth
// @Accept      json
// @Produce     json
// @Param       body  body      domain.MintOtpRequest  true  "TTL in minutes"
// @Success     201   {object}  domain.OtpToken
// @Failure     422   {object}  map[string]string
// @Router      /api/v1/auth/otp [post]
func (h *AuthHandler) Mint(w http.ResponseWriter, r *http.Request) {
	var req domain.MintOtpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	t, err := h.svc.Mint(r.Context(), apimw.GetActor(r.Context()), req, r.RemoteAddr, r.UserAgent())
	if err != nil {
		h.logger.Warn("mint token failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, t)
}

// Revoke handles DELETE /api/v1/auth/otp/{token}
//
// @Summary  Revoke an unused token minted by the calling admin
// @Tags     auth
// @Param    token  path  string  true  "Token string"
// @Success  204
// @Failure  404  {object}  map[string]string
// @Failure  409  {object}  map[string]string
// @Router   /api/v1/auth/otp/{token} [delete]
func (h *AuthHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	err := h.svc.Revoke(r.Context(), apimw.GetActor(r.Context()), chi.URLParam(r, "token"))
	if err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Verify handles POST /api/v1/bot/verify
//
// @Summary  Consume a one-time token and bind a bot session
// @Tags     bot
// @Accept   json
// @Produce  json
// @Param    body  body      domain.VerifyOtpRequest  true  "Token and Telegram identity"
// @Success  200   {object}  verifyResponse
// @Failure  404   {object}  map[string]string
// @Failure  409   {object}  map[string]string
// @Router   /api/v1/bot/verify [post]
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyOtpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	token, session, err := h.svc.Verify(r.Context(), req)
	if err != nil {
		h.logger.Warn("verify token failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.Int64("external_user_id", req.ExternalUserID),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, verifyResponse{SessionToken: token, Session: session})
}

// Restore handles POST /api/v1/bot/restore
//
// @Summary  Re-issue a session token for an already-bound bot user
// @Tags     bot
// @Accept   json
// @Produce  json
// @Param    body  body      restoreRequest  true  "Telegram user ID"
// @Success  200   {object}  verifyResponse
// @Failure  404   {object}  map[string]string
// @Router   /api/v1/bot/restore [post]
func (h *AuthHandler) Restore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	token, session, err := h.svc.Restore(r.Context(), req.ExternalUserID)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, verifyResponse{SessionToken: token, Session: session})
}

// Logout handles POST /api/v1/bot/logout
//
// @Summary  Deactivate the bot session for a Telegram user
// @Tags     bot
// @Accept   json
// @Param    body  body  restoreRequest  true  "Telegram user ID"
// @Success  204
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/bot/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.svc.Logout(r.Context(), req.ExternalUserID); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sessions handles GET /api/v1/auth/sessions
//
// @Summary  List all active bot sessions
// @Tags     auth
// @Produce  json
// @Success  200  {array}   domain.BotSession
// @Failure  403  {object}  map[string]string
// @Router   /api/v1/auth/sessions [get]
func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.svc.ListSessions(r.Context(), apimw.GetActor(r.Context()))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sessions)
}
