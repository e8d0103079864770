package todo

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Kind classifies an error for propagation and HTTP mapping. Kinds are
// go-errors categories, so goerrors.IsCategory and friends work on them.
type Kind = goerrors.Category

const (
	KindValidation      = goerrors.CategoryValidation
	KindNotFound        = goerrors.CategoryNotFound
	KindVersionConflict = Kind("version_conflict")
	KindDuplicate       = Kind("duplicate")
	KindCache           = Kind("cache")
	KindEventPublish    = Kind("event_publish")
	KindInternal        = goerrors.CategoryInternal
)

// Error is the error type shared by the store, cache, event and pipeline
// layers.
type Error = goerrors.Error

type kindCode struct {
	status int
	text   string
}

var kindCodes = map[Kind]kindCode{
	KindValidation:      {http.StatusBadRequest, "VALIDATION_ERROR"},
	KindNotFound:        {http.StatusNotFound, "NOT_FOUND"},
	KindVersionConflict: {http.StatusConflict, "VERSION_CONFLICT"},
	KindDuplicate:       {http.StatusConflict, "DUPLICATE_RESOURCE"},
	KindCache:           {http.StatusInternalServerError, "CACHE_ERROR"},
	KindEventPublish:    {http.StatusInternalServerError, "EVENT_PUBLISH_ERROR"},
	KindInternal:        {http.StatusInternalServerError, "INTERNAL_ERROR"},
}

func withCodes(e *Error) *Error {
	c, ok := kindCodes[e.Category]
	if !ok {
		c = kindCodes[KindInternal]
	}
	return e.WithCode(c.status).WithTextCode(c.text)
}

func qualify(op, message string) string {
	switch {
	case op == "":
		return message
	case message == "":
		return op
	default:
		return op + ": " + message
	}
}

// NewError creates an error of the given kind. The HTTP status and text
// code of the kind are attached.
func NewError(kind Kind, op, message string) *Error {
	if message == "" {
		message = string(kind)
	}
	return withCodes(goerrors.New(qualify(op, message), kind))
}

// WrapAs creates an error of the given kind caused by cause. Unlike Wrap
// the kind always wins, which is what steps running after a committed write
// need.
func WrapAs(kind Kind, op, message string, cause error) *Error {
	e := NewError(kind, op, message)
	e.Source = cause
	return e
}

// Wrap attaches a kind to err. An err that already carries an *Error keeps
// its kind so store classifications survive re-wrapping.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		if op == "" {
			return err
		}
		return goerrors.Wrap(err, kind, op)
	}
	return withCodes(goerrors.Wrap(err, kind, qualify(op, err.Error())))
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return KindInternal
}

// IsKind reports whether err carries an *Error of kind.
func IsKind(err error, kind Kind) bool {
	return goerrors.IsCategory(err, kind)
}

// DetailsOf returns the metadata and field problems attached to the
// outermost *Error, if any.
func DetailsOf(err error) map[string]any {
	var e *Error
	if !errors.As(err, &e) {
		return nil
	}
	problems := e.ValidationMap()
	if len(e.Metadata) == 0 && len(problems) == 0 {
		return nil
	}
	out := make(map[string]any, len(e.Metadata)+len(problems))
	for k, v := range e.Metadata {
		out[k] = v
	}
	for field, msg := range problems {
		out[field] = msg
	}
	return out
}

// IsApplied reports whether err happened after the store write committed.
// Callers should re-read the record instead of retrying the mutation.
func IsApplied(err error) bool {
	switch KindOf(err) {
	case KindCache, KindEventPublish:
		return true
	default:
		return false
	}
}

// ValidationErrors maps a field name to a human readable problem.
type ValidationErrors map[string]string

// AsError converts the collected problems into a validation *Error.
func (v ValidationErrors) AsError(op string) error {
	if len(v) == 0 {
		return nil
	}
	fields := make([]string, 0, len(v))
	for field := range v {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	problems := make([]goerrors.FieldError, 0, len(fields))
	for _, field := range fields {
		problems = append(problems, goerrors.FieldError{Field: field, Message: v[field]})
	}
	e := goerrors.NewValidation(qualify(op, fmt.Sprintf("invalid %s", strings.Join(fields, ", "))), problems...)
	return withCodes(e)
}

// NewValidationError reports a single invalid field.
func NewValidationError(field, message string) error {
	return ValidationErrors{field: message}.AsError("")
}
