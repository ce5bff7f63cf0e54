package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/pkg/errors"

	"consensus-simulator/consensus"
	"consensus-simulator/consensus/pow"
)

// errBadRequest - ошибка разбора запроса.
var errBadRequest = errors.New("invalid request body")

// Envelope - обертка любого JSON-ответа.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Ошибка кодирования ответа", "error", err)
	}
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: data})
}

func writeMessage(w http.ResponseWriter, data any, message string) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: data, Message: message})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Ошибка обработки запроса", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		slog.Warn("Запрос отклонен", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, Envelope{Success: false, Error: err.Error()})
}

// statusFor сопоставляет ошибки движков HTTP-статусам.
func statusFor(err error) int {
	switch {
	case errors.Is(err, consensus.ErrNoMiners),
		errors.Is(err, consensus.ErrNoValidators),
		errors.Is(err, consensus.ErrNothingToResolve),
		errors.Is(err, pow.ErrRoundSuperseded):
		return http.StatusConflict
	case errors.Is(err, consensus.ErrInvalidParticipant),
		errors.Is(err, consensus.ErrDuplicateParticipant),
		errors.Is(err, consensus.ErrInvalidCount),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, consensus.ErrMiningTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// decodeBody читает необязательное JSON-тело в v. Пустое тело не меняет v.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return errors.Wrap(errBadRequest, err.Error())
}
