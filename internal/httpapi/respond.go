package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"resitrack.org/internal/auth"
	"resitrack.org/internal/client"
	"resitrack.org/internal/listing"
	"resitrack.org/internal/location"
	"resitrack.org/internal/movement"
	"resitrack.org/internal/obs"
	"resitrack.org/internal/resident"
)

const (
	statusSuccess = "success"
	statusError   = "error"

	defaultMaxBody = 1 << 20
)

type successBody struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

type errorBody struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	Source    string `json:"source,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, successBody{Status: statusSuccess, Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorSource(w, r, code, msg, "")
}

func writeErrorSource(w http.ResponseWriter, r *http.Request, code int, msg, source string) {
	body := errorBody{Status: statusError, Message: msg, Source: source}
	if r != nil {
		body.RequestID = RequestIDFromContext(r.Context())
	}
	writeJSON(w, code, body)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// fail translates an error from the session, the form rules or the backend
// into an error envelope.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *movement.ValidationError
	var apiErr *client.APIError
	switch {
	case errors.As(err, &verr):
		code := http.StatusUnprocessableEntity
		if verr.Source == movement.SourcePermission {
			code = http.StatusForbidden
		}
		writeErrorSource(w, r, code, verr.Reason, string(verr.Source))
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrInvalidToken):
		w.Header().Set("WWW-Authenticate", `Bearer realm="resitrack"`)
		writeError(w, r, http.StatusUnauthorized, "authentification requise")
	case errors.Is(err, auth.ErrForbidden):
		w.Header().Set("WWW-Authenticate", `Bearer realm="resitrack", error="insufficient_scope"`)
		writeErrorSource(w, r, http.StatusForbidden, "permission refusée", string(movement.SourcePermission))
	case errors.Is(err, resident.ErrIncomplete),
		errors.Is(err, location.ErrInvalidLocation),
		errors.Is(err, location.ErrNovelRoom):
		writeErrorSource(w, r, http.StatusUnprocessableEntity, err.Error(), string(movement.SourceForm))
	case errors.Is(err, listing.ErrInvalidPage), errors.Is(err, listing.ErrInvalidSort):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.As(err, &apiErr):
		writeError(w, r, upstreamStatus(apiErr.HTTPStatus), apiErr.Message)
	case errors.Is(err, client.ErrTransport):
		writeError(w, r, http.StatusBadGateway, "service des dossiers indisponible")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusGatewayTimeout, "délai dépassé")
	default:
		obs.Logger().Error("request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "erreur interne")
	}
}

// upstreamStatus maps a backend status onto what the API returns. Backend
// failures surface as 502 so clients can tell them from local ones.
func upstreamStatus(code int) int {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden,
		code == http.StatusNotFound, code == http.StatusConflict:
		return code
	case code >= 400 && code < 500:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func badRequest(w http.ResponseWriter, r *http.Request, format string, args ...any) {
	writeError(w, r, http.StatusBadRequest, fmt.Sprintf(format, args...))
}
