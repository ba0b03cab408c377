package purge

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"
)

// Request asks for every resource tracked under RunIDs to be deleted.
type Request struct {
	RunIDs  []string `json:"run_ids" yaml:"run_ids" validate:"required,min=1,dive,required"`
	Reason  string   `json:"reason" yaml:"reason" validate:"required"`
	ActorID string   `json:"actor_id" yaml:"actor_id" validate:"required"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Normalize trims every field, NFC-normalizes the reason, and collapses
// duplicate run ids keeping first occurrence. It returns a new Request.
func (r Request) Normalize() Request {
	out := Request{
		Reason:  norm.NFC.String(strings.TrimSpace(r.Reason)),
		ActorID: strings.TrimSpace(r.ActorID),
	}
	seen := make(map[string]bool, len(r.RunIDs))
	for _, id := range r.RunIDs {
		id = strings.TrimSpace(id)
		if id != "" && seen[id] {
			continue
		}
		seen[id] = true
		out.RunIDs = append(out.RunIDs, id)
	}
	return out
}

// Validate normalizes r and checks that every field is present.
// The returned error is a *ValidationError naming the first bad field.
func (r Request) Validate() (Request, error) {
	n := r.Normalize()
	if err := validate.Struct(n); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return n, toValidationError(verrs[0])
		}
		return n, &ValidationError{Field: "request", Message: err.Error()}
	}
	return n, nil
}

func toValidationError(fe validator.FieldError) *ValidationError {
	field, element := fe.Field(), false
	// dive errors name the element, e.g. "run_ids[2]"
	if i := strings.IndexByte(field, '['); i > 0 {
		field, element = field[:i], true
	}
	switch {
	case element:
		return &ValidationError{Field: field, Message: "must not contain empty ids"}
	case fe.Tag() == "min" || fe.Kind() == reflect.Slice:
		return &ValidationError{Field: field, Message: "must not be empty"}
	case fe.Tag() == "required":
		return &ValidationError{Field: field, Message: "is required"}
	default:
		return &ValidationError{Field: field, Message: fmt.Sprintf("failed %q check", fe.Tag())}
	}
}
