package todo

import (
	"errors"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	maxTitleLength       = 255
	maxDescriptionLength = 1000
	maxTags              = 20
	maxTagLength         = 50
	maxBulkIDs           = 100
)

var tagPattern = regexp.MustCompile(`^[\pL\pN_\-:.]+$`)

var (
	statusRule   = validation.In(statusValues()...).Error("must be one of PENDING, IN_PROGRESS, COMPLETED, ARCHIVED")
	priorityRule = validation.In(priorityValues()...).Error("must be one of LOW, MEDIUM, HIGH, URGENT")
	tagRules     = []validation.Rule{
		validation.Length(0, maxTags),
		validation.Each(validation.Required, validation.RuneLength(1, maxTagLength), validation.Match(tagPattern)),
	}
)

// Validate checks a create input. Call Normalize first so defaults apply.
func (n NewTodo) Validate() error {
	err := validation.ValidateStruct(&n,
		validation.Field(&n.Title, validation.Required, validation.RuneLength(1, maxTitleLength)),
		validation.Field(&n.Description, validation.RuneLength(0, maxDescriptionLength)),
		validation.Field(&n.Status, validation.Required, statusRule),
		validation.Field(&n.Priority, validation.Required, priorityRule),
		validation.Field(&n.Tags, tagRules...),
		validation.Field(&n.CreatedBy, validation.Required.Error("createdBy is required")),
	)
	return fromOzzo("create", err)
}

// Validate checks an update patch.
func (p Patch) Validate() error {
	var tags []string
	if p.Tags != nil {
		tags = *p.Tags
	}
	err := validation.ValidateStruct(&p,
		validation.Field(&p.Version, validation.Required.Error("version is required"), validation.Min(1)),
		validation.Field(&p.Title, validation.NilOrNotEmpty, validation.RuneLength(1, maxTitleLength)),
		validation.Field(&p.Description, validation.RuneLength(0, maxDescriptionLength)),
		validation.Field(&p.Status, statusRule),
		validation.Field(&p.Priority, priorityRule),
	)
	if err == nil {
		err = validation.Validate(tags, tagRules...)
		if err != nil {
			err = validation.Errors{"tags": err}
		}
	}
	if err == nil && p.IsEmpty() {
		return NewValidationError("patch", "at least one field must be updated")
	}
	return fromOzzo("update", err)
}

// Validate checks a bulk patch.
func (p BulkPatch) Validate() error {
	if p.IsEmpty() {
		return NewValidationError("update", "at least one field must be updated")
	}
	var tags []string
	if p.Tags != nil {
		tags = *p.Tags
	}
	err := validation.ValidateStruct(&p,
		validation.Field(&p.Status, statusRule),
		validation.Field(&p.Priority, priorityRule),
	)
	if err == nil {
		if tagErr := validation.Validate(tags, tagRules...); tagErr != nil {
			err = validation.Errors{"tags": tagErr}
		}
	}
	return fromOzzo("bulk update", err)
}

// ValidateIDs checks the identifier list of a bulk operation: between one
// and maxBulkIDs non-empty, unique identifiers.
func ValidateIDs(ids []string) error {
	err := validation.Validate(ids,
		validation.Required.Error("at least one id is required"),
		validation.Length(1, maxBulkIDs),
		validation.Each(validation.Required),
	)
	if err != nil {
		return fromOzzo("bulk update", validation.Errors{"ids": err})
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return ValidationErrors{"ids": "duplicate id " + id}.AsError("bulk update")
		}
		seen[id] = struct{}{}
	}
	return nil
}

func fromOzzo(op string, err error) error {
	if err == nil {
		return nil
	}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		out := ValidationErrors{}
		for field, fieldErr := range verrs {
			if fieldErr != nil {
				out[field] = fieldErr.Error()
			}
		}
		return out.AsError(op)
	}
	var internal validation.InternalError
	if errors.As(err, &internal) {
		return Wrap(KindInternal, op, err)
	}
	var single validation.Error
	if errors.As(err, &single) {
		return ValidationErrors{op: single.Error()}.AsError(op)
	}
	return Wrap(KindValidation, op, err)
}

func statusValues() []any {
	out := make([]any, 0, len(ValidStatuses()))
	for _, s := range ValidStatuses() {
		out = append(out, s)
	}
	return out
}

func priorityValues() []any {
	out := make([]any, 0, len(ValidPriorities()))
	for _, p := range ValidPriorities() {
		out = append(out, p)
	}
	return out
}
