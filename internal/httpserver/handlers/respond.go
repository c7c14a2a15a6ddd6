package handlers

import (
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"rigdata/internal/validation"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondMessage(w http.ResponseWriter, msg string) {
	respondJSON(w, http.StatusOK, map[string]string{"message": msg})
}

var (
	errBadJSON = errors.New("Invalid JSON body")
	errNoInput = errors.New("No input data provided")
)

// decodeBody decodes a JSON request body into v and runs its validate tags.
// Errors are safe to show to the client.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errNoInput
		}
		return errBadJSON
	}
	return validation.Struct(v)
}

// internalError logs err with the request context and hides it from the
// client.
func internalError(w http.ResponseWriter, r *http.Request, lg *zap.SugaredLogger, what string, err error) {
	lg.Errorw(what,
		"error", err,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()),
	)
	respondError(w, http.StatusInternalServerError, "Internal server error")
}

// queryInt reads a positive integer parameter, falling back to def when it
// is missing or malformed.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// nullable turns empty query values into JSON nulls.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type pagination struct {
	Page    int   `json:"page"`
	PerPage int   `json:"per_page"`
	Total   int64 `json:"total"`
	Pages   int   `json:"pages"`
	HasNext bool  `json:"has_next"`
	HasPrev bool  `json:"has_prev"`
}

func newPagination(page, perPage int, total int64) pagination {
	pages := 0
	if perPage > 0 {
		pages = int(math.Ceil(float64(total) / float64(perPage)))
	}
	return pagination{
		Page:    page,
		PerPage: perPage,
		Total:   total,
		Pages:   pages,
		HasNext: page < pages,
		HasPrev: page > 1,
	}
}
