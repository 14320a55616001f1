package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MaksM89/equarium/internal/domain"
	"github.com/MaksM89/equarium/internal/models"
	"github.com/MaksM89/equarium/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TransactionHandler serves transfer creation and the history endpoints.
type TransactionHandler struct {
	users     *service.UserService
	transfers *service.TransferService
	history   *service.HistoryService
}

func NewTransactionHandler(users *service.UserService, transfers *service.TransferService, history *service.HistoryService) *TransactionHandler {
	return &TransactionHandler{
		users:     users,
		transfers: transfers,
		history:   history,
	}
}

type historyEntryResponse struct {
	Date      time.Time `json:"date"`
	Direction string    `json:"direction"`
	Amount    string    `json:"amount"`
	Status    string    `json:"status"`
}

func (h *TransactionHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req struct {
		ToUserID string          `json:"to_user_id"`
		Amount   decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	toID, err := uuid.Parse(req.ToUserID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-user-id", "Invalid to_user_id")
		return
	}

	receipt, err := h.transfers.Create(r.Context(), user.ID, toID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInsufficientFunds), errors.Is(err, models.ErrUserNotFound):
			RespondError(w, r, http.StatusForbidden, "transfer/rejected", "Bad request parameters")
		case errors.Is(err, models.ErrSelfTransfer):
			RespondError(w, r, http.StatusBadRequest, "transfer/self-transfer", err.Error())
		case errors.Is(err, domain.ErrInvalidAmount):
			RespondError(w, r, http.StatusBadRequest, "transfer/invalid-amount", err.Error())
		default:
			zap.L().Error("create transfer failed", zap.Error(err), zap.String("from", user.ID.String()))
			RespondError(w, r, http.StatusInternalServerError, "transfer/create-failed", "Failed to create transfer")
		}
		return
	}

	RespondJSON(w, http.StatusCreated, receipt)
}

func (h *TransactionHandler) PagesCount(w http.ResponseWriter, r *http.Request) {
	user, ok := h.actor(w, r)
	if !ok {
		return
	}

	count, err := h.history.PageCount(r.Context(), user.ID)
	if err != nil {
		zap.L().Error("page count failed", zap.Error(err), zap.String("user_id", user.ID.String()))
		RespondError(w, r, http.StatusInternalServerError, "history/pagecount-failed", "Failed to count pages")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]int64{"pages_count": count})
}

func (h *TransactionHandler) History(w http.ResponseWriter, r *http.Request) {
	user, ok := h.actor(w, r)
	if !ok {
		return
	}

	query := service.HistoryQuery{Page: 1}
	params := r.URL.Query()

	if pageStr := params.Get("page"); pageStr != "" {
		page, err := strconv.Atoi(pageStr)
		if err != nil || page < 1 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-page", "Invalid page number")
			return
		}
		query.Page = page
	}
	for name, dst := range map[string]**time.Time{"dt_start": &query.DtStart, "dt_end": &query.DtEnd} {
		raw := params.Get(name)
		if raw == "" {
			continue
		}
		ts, err := parseDateParam(raw)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-date", "Invalid "+name)
			return
		}
		*dst = &ts
	}
	if status := params.Get("status"); status != "" {
		if !domain.IsValidStatus(status) {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-status", "Unknown transaction status")
			return
		}
		query.Status = &status
	}

	entries, err := h.history.History(r.Context(), user.ID, query)
	if err != nil {
		zap.L().Error("history failed", zap.Error(err), zap.String("user_id", user.ID.String()))
		RespondError(w, r, http.StatusInternalServerError, "history/read-failed", "Failed to read history")
		return
	}

	resp := make([]historyEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, historyEntryResponse{
			Date:      e.Date,
			Direction: e.Direction,
			Amount:    domain.FormatMoney(e.Amount),
			Status:    e.Status,
		})
	}
	RespondJSON(w, http.StatusOK, resp)
}

// actor resolves the authenticated user, enforcing the revocation cutoff.
func (h *TransactionHandler) actor(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	actorID, issuedAt, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return nil, false
	}
	user, err := h.users.CurrentUser(r.Context(), actorID, issuedAt)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUserNotFound), errors.Is(err, models.ErrTokenRevoked):
			w.Header().Set("WWW-Authenticate", "Bearer")
			RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Could not validate credentials")
		default:
			zap.L().Error("actor lookup failed", zap.Error(err), zap.String("user_id", actorID.String()))
			RespondError(w, r, http.StatusInternalServerError, "auth/lookup-failed", "Failed to resolve user")
		}
		return nil, false
	}
	return user, true
}

// parseDateParam accepts a calendar date or a full timestamp.
func parseDateParam(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02", raw)
}
