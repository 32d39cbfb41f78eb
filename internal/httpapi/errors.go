package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"todoapp.io/internal/audit"
	"todoapp.io/internal/auth"
	"todoapp.io/internal/obs"
	"todoapp.io/internal/todo"
)

type dataEnvelope struct {
	Status string `json:"status"`
	Data   any    `json:"data"`
}

type messageEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, dataEnvelope{Status: "success", Data: data})
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, messageEnvelope{Status: "success", Message: msg})
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	if code == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	}
	writeJSON(w, code, messageEnvelope{Status: "error", Message: msg})
}

// writeAuthError renders an auth error kind as its status. Causes are logged, never sent.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var code int
	switch {
	case errors.Is(err, auth.ErrInvalidRequest):
		code = http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrUnauthorized):
		code = http.StatusUnauthorized
	case errors.Is(err, auth.ErrMisconfigured):
		code = http.StatusInternalServerError
	case errors.Is(err, auth.ErrUpstream):
		code = http.StatusBadGateway
	default:
		logFailure(r, err)
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}
	if code >= http.StatusInternalServerError {
		logFailure(r, err)
	}
	writeError(w, r, code, auth.Message(err, http.StatusText(code)))
}

func writeTodoError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, todo.ErrInvalid):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, todo.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "Todo not found")
	default:
		logFailure(r, err)
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
	}
}

func logFailure(r *http.Request, err error) {
	obs.Logger().Error().
		Err(err).
		Str("request_id", audit.RequestIDFromContext(r.Context())).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("request failed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return errors.New("request body is not valid JSON")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}
