package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/so2vaso3-web/passve-sub001/internal/api/middleware"
	"github.com/so2vaso3-web/passve-sub001/internal/api/problem"
	"github.com/so2vaso3-web/passve-sub001/internal/domain"
	"github.com/so2vaso3-web/passve-sub001/internal/models"
	"github.com/so2vaso3-web/passve-sub001/internal/service"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

// RespondServiceError maps domain and service errors onto problem responses.
// Anything unrecognised is logged and reported as a bare 500.
func RespondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var funds *domain.InsufficientFundsError
	if errors.As(err, &funds) {
		problem.WriteExtended(w, r, http.StatusPaymentRequired, problem.Type("wallet/insufficient-funds"),
			http.StatusText(http.StatusPaymentRequired), "wallet balance does not cover this operation",
			map[string]any{"required": funds.Required, "available": funds.Available, "shortfall": funds.Shortfall()})
		return
	}

	switch {
	case errors.Is(err, domain.ErrInsufficientFunds):
		RespondError(w, r, http.StatusPaymentRequired, "wallet/insufficient-funds", "wallet balance does not cover this operation")
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidAmount):
		RespondError(w, r, http.StatusBadRequest, "request/validation", err.Error())
	case errors.Is(err, service.ErrInvalidSignature):
		RespondError(w, r, http.StatusUnauthorized, "webhook/invalid-signature", "Invalid signature")
	case errors.Is(err, domain.ErrForbidden):
		RespondError(w, r, http.StatusForbidden, "auth/forbidden", "not allowed to perform this operation")
	case errors.Is(err, domain.ErrTicketNotFound):
		RespondError(w, r, http.StatusNotFound, "ticket/not-found", "ticket not found")
	case errors.Is(err, service.ErrCodeNotDelivered):
		RespondError(w, r, http.StatusNotFound, "ticket/code-not-delivered", err.Error())
	case errors.Is(err, service.ErrTransactionNotFound), errors.Is(err, domain.ErrNotFound):
		RespondError(w, r, http.StatusNotFound, "transaction/not-found", "transaction not found")
	case errors.Is(err, domain.ErrSelfPurchase):
		RespondError(w, r, http.StatusUnprocessableEntity, "ticket/self-purchase", err.Error())
	case errors.Is(err, domain.ErrTicketExpired):
		RespondError(w, r, http.StatusGone, "ticket/expired", err.Error())
	case errors.Is(err, domain.ErrTicketNotAvailable):
		RespondError(w, r, http.StatusConflict, "ticket/not-available", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		RespondError(w, r, http.StatusConflict, "ticket/invalid-transition", err.Error())
	case errors.Is(err, service.ErrDepositPayloadMismatch):
		RespondError(w, r, http.StatusConflict, "webhook/payload-mismatch", "payload does not match the recorded deposit")
	case errors.Is(err, domain.ErrConcurrentModification):
		RespondError(w, r, http.StatusConflict, "concurrency/conflict", "the resource changed concurrently, retry the request")
	case errors.Is(err, service.ErrGatewayUnavailable):
		RespondError(w, r, http.StatusBadGateway, "gateway/unavailable", "payment gateway unavailable")
	default:
		if status, problemType, message, ok := mapDBError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		zap.L().Error("request failed", zap.String("path", r.URL.Path), zap.String("trace_id", middleware.TraceIDFromContext(r.Context())), zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "internal-server-error", "internal server error")
	}
}

func requestActor(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/missing-user", err.Error())
		return models.Actor{}, false
	}
	return actor, true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return false
	}
	return true
}

// pageParams reads limit/offset query parameters.
func pageParams(r *http.Request) (int32, int32) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return int32(limit), int32(offset)
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}
