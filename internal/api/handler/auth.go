package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MaksM89/equarium/internal/api/middleware"
	"github.com/MaksM89/equarium/internal/domain"
	"github.com/MaksM89/equarium/internal/models"
	"github.com/MaksM89/equarium/internal/service"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// AuthHandler serves registration, token issuance and the current-user
// endpoints.
type AuthHandler struct {
	svc      *service.UserService
	tokenTTL time.Duration
}

func NewAuthHandler(svc *service.UserService, tokenTTL time.Duration) *AuthHandler {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &AuthHandler{svc: svc, tokenTTL: tokenTTL}
}

type userResponse struct {
	ID       string `json:"id"`
	Fullname string `json:"fullname"`
	Balance  string `json:"balance"`
}

func toUserResponse(u *models.User) userResponse {
	return userResponse{
		ID:       u.ID.String(),
		Fullname: u.Fullname,
		Balance:  domain.FormatMoney(u.Balance),
	}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	user, err := h.svc.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, models.ErrUsernameTaken) {
			RespondError(w, r, http.StatusBadRequest, "user/name-taken", "User name already exists")
			return
		}
		if status, pType, msg, ok := mapDBError(err); ok {
			RespondError(w, r, status, pType, msg)
			return
		}
		zap.L().Error("register failed", zap.Error(err), zap.String("username", req.Username))
		RespondError(w, r, http.StatusInternalServerError, "user/create-failed", "Failed to register user")
		return
	}

	RespondJSON(w, http.StatusCreated, map[string]string{"id": user.ID.String()})
}

func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	user, err := h.svc.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, models.ErrInvalidCredentials) {
			w.Header().Set("WWW-Authenticate", "Bearer")
			RespondError(w, r, http.StatusUnauthorized, "auth/invalid-credentials", "Incorrect username or password")
			return
		}
		zap.L().Error("authenticate failed", zap.Error(err), zap.String("username", req.Username))
		RespondError(w, r, http.StatusInternalServerError, "auth/token-failed", "Failed to issue token")
		return
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      user.ID.String(),
		"username": user.Fullname,
		"iat":      now.Unix(),
		"exp":      now.Add(h.tokenTTL).Unix(),
	})
	tokenString, err := token.SignedString(middleware.JWTSecret())
	if err != nil {
		zap.L().Error("sign token failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "auth/token-failed", "Failed to sign token")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{
		"access_token": tokenString,
		"token_type":   "bearer",
	})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	RespondJSON(w, http.StatusOK, toUserResponse(user))
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	if err := h.svc.ChangePassword(r.Context(), user.ID, req.OldPassword, req.NewPassword); err != nil {
		if errors.Is(err, models.ErrInvalidCredentials) {
			w.Header().Set("WWW-Authenticate", "Bearer")
			RespondError(w, r, http.StatusUnauthorized, "auth/invalid-credentials", "Incorrect username or password")
			return
		}
		zap.L().Error("change password failed", zap.Error(err), zap.String("user_id", user.ID.String()))
		RespondError(w, r, http.StatusInternalServerError, "user/password-change-failed", "Failed to change password")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// currentUser resolves the authenticated user and enforces the token
// revocation cutoff. Writes the error response itself when resolution fails.
func (h *AuthHandler) currentUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	actorID, issuedAt, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return nil, false
	}

	user, err := h.svc.CurrentUser(r.Context(), actorID, issuedAt)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUserNotFound), errors.Is(err, models.ErrTokenRevoked):
			w.Header().Set("WWW-Authenticate", "Bearer")
			RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Could not validate credentials")
		default:
			zap.L().Error("current user lookup failed", zap.Error(err), zap.String("user_id", actorID.String()))
			RespondError(w, r, http.StatusInternalServerError, "auth/lookup-failed", "Failed to resolve user")
		}
		return nil, false
	}
	return user, true
}
