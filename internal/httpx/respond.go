// Package httpx holds the JSON and middleware helpers shared by every HTTP
// surface of memberhub.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harrylevesque/memberhub/internal/utils"
)

// MaxJSONBody caps request bodies decoded by DecodeJSON.
const MaxJSONBody = 1 << 20

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteJSON writes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

// WriteError maps err to a status code and writes the error envelope.
// Internal errors are logged with the request id and reported generically.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	kind := utils.KindOf(err)
	status := utils.StatusCode(kind)
	reqID := GetRequestID(r.Context())
	var limited interface{ RetryAfter() time.Duration }
	if errors.As(err, &limited) {
		secs := int(math.Ceil(limited.RetryAfter().Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	}
	if kind == utils.KindInternal {
		log.Error().Err(err).Str("request_id", reqID).Str("path", r.URL.Path).Msg("request failed")
	}
	WriteJSON(w, status, map[string]errorBody{"error": {
		Code:      utils.CodeOf(err),
		Message:   utils.PublicMessage(err),
		RequestID: reqID,
	}})
}

// DecodeJSON reads a single JSON object into dst. Unknown fields, trailing
// data and bodies over MaxJSONBody are rejected as validation errors.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return utils.Validation("unsupported_media_type", "content type must be application/json")
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return utils.Wrap(utils.KindValidation, err, "body_too_large", "request body too large")
		case errors.Is(err, io.EOF):
			return utils.Validation("empty_body", "request body is empty")
		}
		return utils.Wrap(utils.KindValidation, err, "invalid_json", "request body is not valid JSON: "+err.Error())
	}
	if dec.More() {
		return utils.Validation("invalid_json", "request body must contain a single JSON object")
	}
	return nil
}
