package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/md-rashed-zaman/apptremind/libs/httpx"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type errorBody struct {
	Error          string   `json:"error"`
	Message        string   `json:"message"`
	ConflictingIDs []string `json:"conflicting_ids,omitempty"`
	RequestID      string   `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors to HTTP. Order matters: the more specific
// sentinels are wrapped inside a *model.TransitionError.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrCancellationNotAllowed):
		return http.StatusConflict, "cancellation_not_allowed"
	case errors.Is(err, model.ErrSlotConflict):
		return http.StatusConflict, "slot_conflict"
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, model.ErrDuplicateFeedback):
		return http.StatusConflict, "duplicate_feedback"
	case errors.Is(err, model.ErrNotEligible):
		return http.StatusUnprocessableEntity, "not_eligible"
	case errors.Is(err, model.ErrPaymentVerification):
		return http.StatusUnprocessableEntity, "payment_verification_failed"
	case errors.Is(err, model.ErrRefundProcessing):
		return http.StatusConflict, "refund_processing"
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, code := statusFor(err)
	body := errorBody{Error: code, Message: err.Error(), RequestID: httpx.RequestIDFromContext(r.Context())}
	var conflict *model.SlotConflictError
	if errors.As(err, &conflict) {
		body.ConflictingIDs = conflict.IDs
	}
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err, "request_id", body.RequestID)
		body.Message = "internal error"
	}
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, r *http.Request, logger *slog.Logger, format string, args ...any) {
	writeError(w, r, logger, fmt.Errorf("%w: "+format, append([]any{model.ErrInvalidInput}, args...)...))
}

// decode reads a JSON body into dst and runs its validate tags.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", model.ErrInvalidInput)
		}
		return fmt.Errorf("%w: invalid json body: %v", model.ErrInvalidInput, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", model.ErrInvalidInput, describeValidation(err))
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", model.ErrInvalidInput, key)
	}
	return n, nil
}
