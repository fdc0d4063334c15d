package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/po-approvals/internal/approval"
	"github.com/xela07ax/po-approvals/internal/domain"
	"github.com/xela07ax/po-approvals/internal/infra/auth"
)

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type listBody[T any] struct {
	Count   int `json:"count"`
	Results []T `json:"results"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeList[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, listBody[T]{Count: len(items), Results: items})
}

// StatusFor мапит вид ошибки в HTTP-код
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError: текст доменной ошибки уходит клиенту, инфраструктурной — только в лог
func writeError(w http.ResponseWriter, logger *zap.Logger, r *http.Request, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("trace_id", auth.TraceIDFrom(r.Context())),
			zap.Error(err),
		)
		msg = "Internal server error"
	}
	writeJSON(w, status, errorBody{Success: false, Error: msg})
}

// requestContext собирает контекст операции из аутентифицированного запроса
func requestContext(r *http.Request) (approval.RequestContext, bool) {
	u, ok := auth.ActorFrom(r.Context())
	if !ok {
		return approval.RequestContext{}, false
	}
	return approval.RequestContext{Actor: *u, TraceID: auth.TraceIDFrom(r.Context())}, true
}

// decodeBody: пустое тело допустимо, поля останутся нулевыми
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return domain.Errorf(domain.ErrValidation, "Invalid request body")
	}
	return nil
}
