package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"prediction-auth/internal/service"
	"prediction-auth/internal/util"
)

// Stable error codes exposed to API clients.
const (
	CodeValidationError   = "VALIDATION_ERROR"
	CodeRateLimited       = "RATE_LIMIT_EXCEEDED"
	CodeOTPNotFound       = "OTP_NOT_FOUND"
	CodeOTPExpired        = "OTP_EXPIRED"
	CodeOTPInvalid        = "OTP_INVALID"
	CodeOTPAttemptsExceed = "OTP_ATTEMPTS_EXCEEDED"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeNotFound          = "NOT_FOUND"
	CodeSMSSendFailed     = "SMS_SEND_FAILED"
	CodeInternalError     = "INTERNAL_ERROR"
)

// Response is the standard API envelope.
type Response struct {
	Success bool           `json:"success"`
	Data    interface{}    `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(code string, err error, details map[string]any) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Code:    code,
		Details: details,
	}
}

type sendOTPRequest struct {
	Phone string `json:"phone"`
}

type verifyOTPRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// AuthHandler handles the OTP login flow and session management endpoints.
type AuthHandler struct {
	authService *service.AuthService
	logger      *zap.Logger
}

func NewAuthHandler(authService *service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

// RegisterRoutes mounts the auth routes. Session management sits behind the
// bearer-token gate; the OTP endpoints are public.
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/send-otp", h.SendOTP)
		r.Post("/verify-otp", h.VerifyOTP)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.authService, h.logger))
			r.Get("/sessions", h.ListSessions)
			r.Delete("/sessions/{sessionID}", h.RevokeSession)
			r.Post("/logout", h.Logout)
			r.Post("/logout-all", h.LogoutAll)
		})
	})
}

// SendOTP issues a verification code for a phone number.
func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req sendOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, CodeValidationError, errors.New("invalid request body"), nil)
		return
	}
	req.Phone = util.TrimInput(req.Phone)

	result, err := h.authService.SendOTP(ctx, req.Phone)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	data := map[string]any{
		"expires_in": int(result.ExpiresIn.Seconds()),
	}
	if result.Code != "" {
		data["code"] = result.Code
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(data, "Verification code sent"))
	h.logger.Info("OTP sent via HTTP",
		util.String("phone", req.Phone))
}

// VerifyOTP checks a submitted code and returns a session token on success.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, CodeValidationError, errors.New("invalid request body"), nil)
		return
	}
	req.Phone = util.TrimInput(req.Phone)
	req.Code = util.TrimInput(req.Code)

	device := service.ParseUserAgent(r.UserAgent(), clientIP(r))

	result, err := h.authService.VerifyOTP(ctx, req.Phone, req.Code, device)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	data := map[string]any{
		"token":      result.Token,
		"expires_at": result.Session.ExpiresAt,
		"identity": map[string]any{
			"id":    result.Identity.ID,
			"phone": result.Identity.Phone,
		},
		"session": result.Session.Summary(),
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(data, "Verification successful"))
	h.logger.Info("OTP verified via HTTP",
		util.String("identity_id", result.Identity.ID.String()),
		util.String("session_id", result.Session.ID.String()))
}

// ListSessions returns the caller's active sessions.
func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())

	sessions, err := h.authService.ListSessions(r.Context(), identity)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
	}, ""))
}

// RevokeSession revokes one of the caller's sessions by id.
func (h *AuthHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, CodeValidationError, errors.New("invalid session id"), nil)
		return
	}

	if err := h.authService.RevokeSession(r.Context(), identity, sessionID); err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Session revoked"))
}

// Logout revokes the session the request authenticated with.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())
	session := SessionFromContext(r.Context())

	if err := h.authService.Logout(r.Context(), identity, session); err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Logged out"))
}

// LogoutAll revokes every session of the caller.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())

	count, err := h.authService.LogoutAll(r.Context(), identity)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]any{
		"revoked_sessions": count,
	}, "Logged out everywhere"))
}

// respondWithServiceError maps service errors onto HTTP status codes and
// stable API error codes.
func (h *AuthHandler) respondWithServiceError(w http.ResponseWriter, err error) {
	var rateErr *service.RateLimitedError
	var mismatchErr *service.CodeMismatchError
	var smsErr *service.SMSSendError

	switch {
	case errors.As(err, &rateErr):
		h.respondWithError(w, http.StatusTooManyRequests, CodeRateLimited, err, map[string]any{
			"retry_after": int(rateErr.RetryAfter.Seconds()),
		})
	case errors.As(err, &mismatchErr):
		h.respondWithError(w, http.StatusBadRequest, CodeOTPInvalid, err, map[string]any{
			"remaining_attempts": mismatchErr.RemainingAttempts,
		})
	case errors.As(err, &smsErr):
		h.respondWithError(w, http.StatusBadGateway, CodeSMSSendFailed, err, nil)
	case errors.Is(err, service.ErrInvalidPhone), errors.Is(err, service.ErrInvalidCode):
		h.respondWithError(w, http.StatusBadRequest, CodeValidationError, err, nil)
	case errors.Is(err, service.ErrChallengeNotFound):
		h.respondWithError(w, http.StatusNotFound, CodeOTPNotFound, err, nil)
	case errors.Is(err, service.ErrChallengeExpired):
		h.respondWithError(w, http.StatusBadRequest, CodeOTPExpired, err, nil)
	case errors.Is(err, service.ErrAttemptsExhausted):
		h.respondWithError(w, http.StatusTooManyRequests, CodeOTPAttemptsExceed, err, nil)
	case errors.Is(err, service.ErrUnauthorized):
		h.respondWithError(w, http.StatusUnauthorized, CodeUnauthorized, err, nil)
	case errors.Is(err, service.ErrIdentityInactive), errors.Is(err, service.ErrPermissionDenied):
		h.respondWithError(w, http.StatusForbidden, CodeForbidden, err, nil)
	case errors.Is(err, service.ErrSessionNotFound):
		h.respondWithError(w, http.StatusNotFound, CodeNotFound, err, nil)
	default:
		h.logger.Error("Unhandled service error", util.ErrorField(err))
		h.respondWithError(w, http.StatusInternalServerError, CodeInternalError, errors.New("internal server error"), nil)
	}
}

func (h *AuthHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func (h *AuthHandler) respondWithError(w http.ResponseWriter, statusCode int, code string, err error, details map[string]any) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("code", code),
	)
	h.respondWithJSON(w, statusCode, errorResponse(code, err, details))
}

// clientIP prefers the RealIP-rewritten RemoteAddr and strips any port.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
