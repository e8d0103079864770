package todo

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPageSize is used when a query does not set a limit.
	DefaultPageSize = 20

	// MaxPageSize is the upper bound limits are clamped to.
	MaxPageSize = 100

	// MaxPage keeps (page-1)*limit within int.
	MaxPage = math.MaxInt / MaxPageSize
)

// SortField names a sortable attribute using its snake_case column name.
type SortField string

const (
	SortByCreatedAt SortField = "created_at"
	SortByUpdatedAt SortField = "updated_at"
	SortByDueDate   SortField = "due_date"
	SortByTitle     SortField = "title"
	SortByStatus    SortField = "status"
	SortByPriority  SortField = "priority"
)

var sortFields = map[SortField]struct{}{
	SortByCreatedAt: {},
	SortByUpdatedAt: {},
	SortByDueDate:   {},
	SortByTitle:     {},
	SortByStatus:    {},
	SortByPriority:  {},
}

// ParseSortField accepts camelCase or snake_case names of sortable fields.
func ParseSortField(s string) (SortField, error) {
	field := SortField(toSnake(s))
	if _, ok := sortFields[field]; !ok {
		return "", NewValidationError("sortBy", fmt.Sprintf("unsupported sort field %q", s))
	}
	return field, nil
}

// SortOrder is either ascending or descending.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Filter holds the recognised predicates of a listing. Zero values match
// everything. Deleted records are always excluded.
type Filter struct {
	Status     Status
	Priority   Priority
	AssignedTo string
	CreatedBy  string
	// Tags matches records carrying at least one of the given tags.
	Tags []string
	// StartDate and EndDate bound CreatedAt, both inclusive.
	StartDate *time.Time
	EndDate   *time.Time
}

// Query is a filtered, sorted and paginated listing request.
type Query struct {
	Filter    Filter
	Page      int
	Limit     int
	SortBy    SortField
	SortOrder SortOrder
}

// Normalize applies defaults, clamps page and limit to their bounds and
// canonicalizes tags so equal queries produce equal cache keys.
func (q Query) Normalize() Query {
	switch {
	case q.Page < 1:
		q.Page = 1
	case q.Page > MaxPage:
		q.Page = MaxPage
	}
	switch {
	case q.Limit == 0:
		q.Limit = DefaultPageSize
	case q.Limit < 1:
		q.Limit = 1
	case q.Limit > MaxPageSize:
		q.Limit = MaxPageSize
	}
	if q.SortBy == "" {
		q.SortBy = SortByCreatedAt
	}
	if q.SortOrder != SortAsc {
		q.SortOrder = SortDesc
	}
	q.Filter.Tags = NormalizeTags(q.Filter.Tags)
	q.Filter.StartDate = utcTime(q.Filter.StartDate)
	q.Filter.EndDate = utcTime(q.Filter.EndDate)
	return q
}

// Offset returns the number of records skipped before the current page.
func (q Query) Offset() int {
	return (q.Page - 1) * q.Limit
}

// Matches evaluates the filter against a record in memory. Stores translate
// the same predicates into their native query language.
func (f Filter) Matches(t Todo) bool {
	if t.IsDeleted {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.AssignedTo != "" && t.AssignedTo != f.AssignedTo {
		return false
	}
	if f.CreatedBy != "" && t.CreatedBy != f.CreatedBy {
		return false
	}
	if f.StartDate != nil && t.CreatedAt.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && t.CreatedAt.After(*f.EndDate) {
		return false
	}
	if len(f.Tags) > 0 {
		found := false
		for _, tag := range f.Tags {
			for _, have := range t.Tags {
				if tag == have {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Page is one page of a listing together with the total match count.
type Page struct {
	Items []Todo `json:"items"`
	Total int    `json:"total"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
}

// TotalPages returns the number of pages needed for Total items.
func (p Page) TotalPages() int {
	if p.Limit <= 0 || p.Total == 0 {
		return 0
	}
	return (p.Total + p.Limit - 1) / p.Limit
}

// QueryBuilder translates loosely typed parameters (for example URL query
// values) into a Query. Unrecognised parameters are rejected.
type QueryBuilder struct {
	query  Query
	errors ValidationErrors
}

// NewQueryBuilder starts from an empty query.
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{errors: ValidationErrors{}}
}

// Set records a single parameter. Empty values are ignored.
func (b *QueryBuilder) Set(name, value string) *QueryBuilder {
	value = strings.TrimSpace(value)
	if value == "" {
		return b
	}

	switch name {
	case "status":
		s := Status(strings.ToUpper(value))
		if !s.IsValid() {
			b.errors[name] = fmt.Sprintf("unknown status %q", value)
			return b
		}
		b.query.Filter.Status = s
	case "priority":
		p := Priority(strings.ToUpper(value))
		if !p.IsValid() {
			b.errors[name] = fmt.Sprintf("unknown priority %q", value)
			return b
		}
		b.query.Filter.Priority = p
	case "assignedTo":
		b.query.Filter.AssignedTo = value
	case "createdBy":
		b.query.Filter.CreatedBy = value
	case "tags":
		b.query.Filter.Tags = append(b.query.Filter.Tags, strings.Split(value, ",")...)
	case "startDate", "endDate":
		ts, err := parseTimestamp(value)
		if err != nil {
			b.errors[name] = "must be an ISO-8601 timestamp"
			return b
		}
		if name == "startDate" {
			b.query.Filter.StartDate = &ts
		} else {
			b.query.Filter.EndDate = &ts
		}
	case "page", "limit":
		n, err := strconv.Atoi(value)
		if err != nil {
			b.errors[name] = "must be an integer"
			return b
		}
		if name == "page" {
			if n < 1 {
				b.errors[name] = "must be at least 1"
				return b
			}
			b.query.Page = min(n, MaxPage)
		} else {
			b.query.Limit = n
		}
	case "sortBy":
		field, err := ParseSortField(value)
		if err != nil {
			b.errors[name] = fmt.Sprintf("unsupported sort field %q", value)
			return b
		}
		b.query.SortBy = field
	case "sortOrder":
		order := SortOrder(strings.ToLower(value))
		if order != SortAsc && order != SortDesc {
			b.errors[name] = "must be asc or desc"
			return b
		}
		b.query.SortOrder = order
	default:
		b.errors[name] = "unknown query parameter"
	}
	return b
}

// SetAll records every parameter of a multi-valued map such as url.Values.
// Keys are visited in sorted order so error reporting is deterministic.
func (b *QueryBuilder) SetAll(params map[string][]string) *QueryBuilder {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, value := range params[name] {
			b.Set(name, value)
		}
	}
	return b
}

// Build returns the normalized query or a validation error listing every
// rejected parameter.
func (b *QueryBuilder) Build() (Query, error) {
	q := b.query
	if q.Filter.StartDate != nil && q.Filter.EndDate != nil && q.Filter.EndDate.Before(*q.Filter.StartDate) {
		b.errors["endDate"] = "must not be before startDate"
	}
	if len(b.errors) > 0 {
		return Query{}, b.errors.AsError("query")
	}
	return q.Normalize(), nil
}

func parseTimestamp(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", value)
}
