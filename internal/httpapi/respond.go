package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"finstream.org/internal/audit"
	"finstream.org/internal/bank"
	"finstream.org/internal/fault"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorPayload(w, r, code, map[string]any{"error": msg})
}

func writeErrorPayload(w http.ResponseWriter, r *http.Request, code int, payload map[string]any) {
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// handleError maps domain errors onto HTTP statuses by kind.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, fault.ErrConflict):
		w.Header().Set("Retry-After", "1")
		writeErrorPayload(w, r, http.StatusConflict, map[string]any{
			"error":     err.Error(),
			"retryable": true,
		})
	case errors.Is(err, fault.ErrNotFound), errors.Is(err, bank.ErrUnknownTransaction):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, fault.ErrInvalidTransition), errors.Is(err, bank.ErrAlreadyMatched):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, fault.ErrInvariant):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, fault.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).Msg("unhandled error")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

var errMissingBody = errors.New("request body is required")

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errMissingBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errMissingBody
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// decodeBody decodes the request and answers 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(r, dst); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// decodeOptionalBody is decodeBody for routes whose fields are all
// optional: an empty body leaves dst at its zero value.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := decodeJSON(r, dst)
	if err == nil || errors.Is(err, errMissingBody) {
		return true
	}
	writeError(w, r, http.StatusBadRequest, err.Error())
	return false
}

func parsePositiveInt(raw, name string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if val < min || val > max {
		return 0, fmt.Errorf("%s must be between %d and %d", name, min, max)
	}
	return val, nil
}

// Day is a calendar date accepted as YYYY-MM-DD or RFC 3339.
type Day struct{ time.Time }

func parseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: want YYYY-MM-DD or RFC 3339", s)
	}
	return t.UTC(), nil
}

func (d *Day) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	t, err := parseDay(s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// queryDay parses an optional date query parameter.
func queryDay(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := parseDay(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", name, err)
	}
	return t, nil
}

func (a *API) audit(r *http.Request, event string, fields map[string]any) {
	if err := audit.LogEvent(r.Context(), event, fields); err != nil {
		a.log.Warn().Err(err).Str("event", event).Msg("audit log failed")
	}
}
