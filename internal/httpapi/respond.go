package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	goerrors "github.com/goliatone/go-errors"
	"github.com/rs/zerolog"

	"github.com/goliatone/go-todo-pipeline/todo"
)

// Pagination headers set on listings.
const (
	headerTotalCount  = "X-Total-Count"
	headerTotalPages  = "X-Total-Pages"
	headerCurrentPage = "X-Current-Page"
	headerPageSize    = "X-Page-Size"
)

// Envelope wraps every JSON response except the health check.
type Envelope struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
	Metadata  *Metadata  `json:"metadata,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Metadata carries the pagination of a listing.
type Metadata struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// DeleteResult is the body returned by DELETE /todos/{id}.
type DeleteResult struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// StatusFor maps an error to its HTTP status code.
func StatusFor(err error) int {
	status, _ := codesFor(goerrors.MapToError(err, nil))
	return status
}

// codesFor reads the status and text code a todo error carries. Foreign
// errors arrive here already mapped to INTERNAL_ERROR.
func codesFor(e *goerrors.Error) (int, string) {
	status, text := e.Code, e.TextCode
	if status < http.StatusBadRequest {
		status = http.StatusInternalServerError
	}
	if text == "" {
		text = goerrors.HTTPStatusToTextCode(status)
	}
	return status, text
}

func (s *Server) respond(w http.ResponseWriter, status int, data any, meta *Metadata) {
	s.write(w, status, Envelope{Success: true, Data: data, Metadata: meta, Timestamp: s.now().UTC()})
}

// respondError writes err using the error taxonomy. Internal errors are
// logged and their message is not exposed; errors raised after the store
// write committed report that in their details.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	mapped := goerrors.MapToError(err, nil)
	status, code := codesFor(mapped)
	message := mapped.Message
	details := todo.DetailsOf(err)

	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("kind", string(todo.KindOf(err))).Msg("request failed")
		message = http.StatusText(status)
		if todo.IsApplied(err) {
			message = "change applied but follow-up step failed, re-read the record"
			details = withApplied(details)
		} else {
			details = nil
		}
	}
	s.respondFailure(w, status, code, message, details)
}

func (s *Server) respondFailure(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	s.write(w, status, Envelope{
		Error:     &ErrorBody{Code: code, Message: message, Details: details},
		Timestamp: s.now().UTC(),
	})
}

func (s *Server) write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("encode response")
	}
}

func setPageHeaders(w http.ResponseWriter, page todo.Page) {
	h := w.Header()
	h.Set(headerTotalCount, strconv.Itoa(page.Total))
	h.Set(headerTotalPages, strconv.Itoa(page.TotalPages()))
	h.Set(headerCurrentPage, strconv.Itoa(page.Page))
	h.Set(headerPageSize, strconv.Itoa(page.Limit))
}

func withApplied(details map[string]any) map[string]any {
	out := make(map[string]any, len(details)+1)
	for k, v := range details {
		out[k] = v
	}
	out["applied"] = true
	return out
}
