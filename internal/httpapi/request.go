package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/goliatone/go-todo-pipeline/todo"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, key := range []string{"query", "json"} {
			if name, _, _ := strings.Cut(f.Tag.Get(key), ","); name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// listRequest holds the raw query parameters of GET /todos. Values are
// checked for shape here and converted by todo.QueryBuilder.
type listRequest struct {
	Status     string `query:"status" validate:"omitempty,max=32"`
	Priority   string `query:"priority" validate:"omitempty,max=32"`
	AssignedTo string `query:"assignedTo" validate:"omitempty,max=255"`
	CreatedBy  string `query:"createdBy" validate:"omitempty,max=255"`
	Tags       string `query:"tags" validate:"omitempty,max=1024"`
	StartDate  string `query:"startDate" validate:"omitempty,max=64"`
	EndDate    string `query:"endDate" validate:"omitempty,max=64"`
	Page       string `query:"page" validate:"omitempty,number"`
	Limit      string `query:"limit" validate:"omitempty,number"`
	SortBy     string `query:"sortBy" validate:"omitempty,max=32"`
	SortOrder  string `query:"sortOrder" validate:"omitempty,oneof=asc desc ASC DESC"`
}

// listFields maps a query parameter name to its listRequest field index.
var listFields = func() map[string]int {
	t := reflect.TypeOf(listRequest{})
	out := make(map[string]int, t.NumField())
	for i := range t.NumField() {
		out[t.Field(i).Tag.Get("query")] = i
	}
	return out
}()

// bindListRequest copies values into a listRequest. Unknown parameters are
// rejected. Repeated tags parameters are merged; for the others the last
// value wins.
func bindListRequest(values url.Values) (listRequest, error) {
	var req listRequest
	rv := reflect.ValueOf(&req).Elem()
	problems := todo.ValidationErrors{}
	for name, vals := range values {
		idx, ok := listFields[name]
		if !ok {
			problems[name] = "unknown query parameter"
			continue
		}
		if len(vals) == 0 {
			continue
		}
		value := vals[len(vals)-1]
		if name == "tags" {
			value = strings.Join(vals, ",")
		}
		rv.Field(idx).SetString(value)
	}
	if err := problems.AsError("list query"); err != nil {
		return listRequest{}, err
	}
	if err := validateStruct("list query", req); err != nil {
		return listRequest{}, err
	}
	return req, nil
}

// Query converts the request into a normalized todo.Query.
func (r listRequest) Query() (todo.Query, error) {
	params := make(map[string][]string, len(listFields))
	rv := reflect.ValueOf(r)
	for name, idx := range listFields {
		if v := rv.Field(idx).String(); v != "" {
			params[name] = []string{v}
		}
	}
	return todo.NewQueryBuilder().SetAll(params).Build()
}

type bulkUpdateRequest struct {
	IDs    []string        `json:"ids" validate:"required,min=1,max=100,dive,required"`
	Update *todo.BulkPatch `json:"update" validate:"required"`
}

// decodeJSON reads a single JSON document into dst. Unknown fields are
// rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	const op = "decode request"
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return todo.NewValidationError("body", "request body is required")
		case errors.As(err, &tooLarge):
			return todo.NewValidationError("body", fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		default:
			return todo.ValidationErrors{"body": err.Error()}.AsError(op)
		}
	}
	if dec.More() {
		return todo.NewValidationError("body", "request body must contain a single JSON document")
	}
	return nil
}

// validateStruct runs the struct tags of v and converts failures into a
// validation error keyed by wire field name.
func validateStruct(op string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return todo.Wrap(todo.KindInternal, op, err)
	}
	problems := todo.ValidationErrors{}
	for _, fe := range verrs {
		problems[fieldPath(fe)] = describe(fe)
	}
	return problems.AsError(op)
}

// fieldPath drops the struct name from the namespace: "bulkUpdateRequest.ids[2]"
// becomes "ids[2]".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "number":
		return "must be a number"
	case "oneof":
		return "must be one of " + strings.Join(strings.Fields(fe.Param()), ", ")
	case "min":
		if fe.Kind() == reflect.Slice {
			return "must contain at least " + fe.Param() + " items"
		}
		return "must be at least " + fe.Param() + " characters"
	case "max":
		if fe.Kind() == reflect.Slice {
			return "must contain at most " + fe.Param() + " items"
		}
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag() + " check"
	}
}
