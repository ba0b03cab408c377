// Package workflow holds the application-submission saga: one submitted
// application becomes a company, its primary contact, departments, a deal, a
// project with plan sets, and an optional license, created in that order and
// rolled back together when any insert fails.
package workflow

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Company is the applicant organisation.
type Company struct {
	Name  string `json:"name" yaml:"name" validate:"required"`
	Email string `json:"email,omitempty" yaml:"email,omitempty" validate:"omitempty,email"`
	Phone string `json:"phone,omitempty" yaml:"phone,omitempty"`
}

// Contact is the applicant's primary contact.
type Contact struct {
	FirstName string `json:"first_name" yaml:"first_name" validate:"required"`
	LastName  string `json:"last_name,omitempty" yaml:"last_name,omitempty"`
	Email     string `json:"email,omitempty" yaml:"email,omitempty" validate:"omitempty,email"`
}

// Deal is the sales record opened for the application.
type Deal struct {
	Name  string `json:"name" yaml:"name" validate:"required"`
	Stage string `json:"stage,omitempty" yaml:"stage,omitempty" validate:"omitempty,oneof=lead qualified proposal won lost"`
}

// Project is the permitting project attached to the deal.
type Project struct {
	Name    string `json:"name" yaml:"name" validate:"required"`
	Address string `json:"address,omitempty" yaml:"address,omitempty"`
}

// PlanSet is one drawing set submitted for the project.
type PlanSet struct {
	Name     string `json:"name" yaml:"name" validate:"required"`
	Revision int    `json:"revision,omitempty" yaml:"revision,omitempty" validate:"gte=0"`
}

// License is the contractor license, created only when present.
type License struct {
	Number string `json:"number" yaml:"number" validate:"required"`
	State  string `json:"state,omitempty" yaml:"state,omitempty" validate:"omitempty,len=2,uppercase"`
}

// Application is a submitted application form.
type Application struct {
	Company     Company   `json:"company" yaml:"company"`
	Contact     Contact   `json:"contact" yaml:"contact"`
	Departments []string  `json:"departments,omitempty" yaml:"departments,omitempty" validate:"dive,required"`
	Deal        Deal      `json:"deal" yaml:"deal"`
	Project     Project   `json:"project" yaml:"project"`
	PlanSets    []PlanSet `json:"plan_sets,omitempty" yaml:"plan_sets,omitempty" validate:"dive"`
	License     *License  `json:"license,omitempty" yaml:"license,omitempty"`
}

// ValidationError lists every invalid field of an application.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid application: %s", strings.Join(e.Fields, "; "))
}

// IsValidationError checks if err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
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

// Validate checks the application before any insert is attempted.
func (a *Application) Validate() error {
	err := validate.Struct(a)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Fields: []string{err.Error()}}
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		// Namespace is "Application.company.name"; drop the type name.
		ns := fe.Namespace()
		if i := strings.IndexByte(ns, '.'); i >= 0 {
			ns = ns[i+1:]
		}
		fields = append(fields, fmt.Sprintf("%s failed %q", ns, fe.Tag()))
	}
	return &ValidationError{Fields: fields}
}
