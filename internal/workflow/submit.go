package workflow

import (
	"context"
	"fmt"

	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/resource"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/saga"
)

// Name is the workflow name used in logs and metrics.
const Name = "application"

// Value keys under which steps publish the ids they created.
const (
	KeyCompany     = "company_id"
	KeyContact     = "contact_id"
	KeyDepartments = "department_ids"
	KeyDeal        = "deal_id"
	KeyProject     = "project_id"
	KeyPlanSets    = "plan_set_ids"
	KeyLicense     = "license_id"
)

// Submission is the result of a committed application.
type Submission struct {
	RunID         string        `json:"run_id,omitempty"`
	CompanyID     string        `json:"company_id"`
	ContactID     string        `json:"contact_id"`
	DepartmentIDs []string      `json:"department_ids,omitempty"`
	DealID        string        `json:"deal_id"`
	ProjectID     string        `json:"project_id"`
	PlanSetIDs    []string      `json:"plan_set_ids,omitempty"`
	LicenseID     string        `json:"license_id,omitempty"`
	Outcome       *saga.Outcome `json:"outcome"`
}

// Executor runs a saga workflow.
type Executor interface {
	Execute(ctx context.Context, wf saga.Workflow) (*saga.Outcome, error)
}

// Submitter turns applications into saga executions.
type Submitter struct {
	exec Executor
}

// NewSubmitter creates a Submitter over a saga coordinator.
func NewSubmitter(exec Executor) *Submitter {
	return &Submitter{exec: exec}
}

// Submit validates app and creates all of its records. With a non-empty
// runID every created record is tracked under that run for later purging.
//
// A validation failure returns a *ValidationError before anything is
// inserted. A failed insert returns the saga's *saga.StepError together
// with the Failed outcome, after everything created so far was removed.
func (s *Submitter) Submit(ctx context.Context, app Application, runID, actor string) (*Submission, error) {
	if err := app.Validate(); err != nil {
		return nil, err
	}

	out, err := s.exec.Execute(ctx, saga.Workflow{
		Name:      Name,
		RunID:     runID,
		CreatedBy: actor,
		Steps:     Steps(app),
	})
	if err != nil {
		return &Submission{RunID: runID, Outcome: out}, err
	}

	sub := &Submission{RunID: runID, Outcome: out}
	sub.CompanyID, _ = out.Values[KeyCompany].(string)
	sub.ContactID, _ = out.Values[KeyContact].(string)
	sub.DepartmentIDs, _ = out.Values[KeyDepartments].([]string)
	sub.DealID, _ = out.Values[KeyDeal].(string)
	sub.ProjectID, _ = out.Values[KeyProject].(string)
	sub.PlanSetIDs, _ = out.Values[KeyPlanSets].([]string)
	sub.LicenseID, _ = out.Values[KeyLicense].(string)
	return sub, nil
}

// Steps returns the ordered create steps for app. Later steps read the ids
// published by earlier ones.
func Steps(app Application) []saga.Step {
	return []saga.Step{
		{Name: "company", Run: func(ctx context.Context, ex *saga.Execution) error {
			id, err := ex.Create(ctx, "companies", resource.Row{
				"name":  app.Company.Name,
				"email": nullable(app.Company.Email),
				"phone": nullable(app.Company.Phone),
			})
			if err != nil {
				return err
			}
			ex.Set(KeyCompany, id)
			return nil
		}},
		{Name: "contact", Run: func(ctx context.Context, ex *saga.Execution) error {
			id, err := ex.Create(ctx, "contacts", resource.Row{
				"company_id": ex.ID(KeyCompany),
				"first_name": app.Contact.FirstName,
				"last_name":  nullable(app.Contact.LastName),
				"email":      nullable(app.Contact.Email),
			})
			if err != nil {
				return err
			}
			ex.Set(KeyContact, id)
			return nil
		}},
		{Name: "company_contacts", Run: func(ctx context.Context, ex *saga.Execution) error {
			_, err := ex.Link(ctx, "company_contacts", []resource.Row{{
				"company_id": ex.ID(KeyCompany),
				"contact_id": ex.ID(KeyContact),
			}})
			return err
		}},
		{Name: "departments", Run: func(ctx context.Context, ex *saga.Execution) error {
			rows := make([]resource.Row, len(app.Departments))
			for i, name := range app.Departments {
				rows[i] = resource.Row{"name": name}
			}
			ids, err := ex.CreateMany(ctx, "departments", rows)
			if err != nil {
				return err
			}
			ex.Set(KeyDepartments, ids)

			links := make([]resource.Row, len(ids))
			for i, id := range ids {
				links[i] = resource.Row{"company_id": ex.ID(KeyCompany), "department_id": id}
			}
			_, err = ex.Link(ctx, "company_departments", links)
			return err
		}},
		{Name: "deal", Run: func(ctx context.Context, ex *saga.Execution) error {
			id, err := ex.Create(ctx, "deals", resource.Row{
				"company_id": ex.ID(KeyCompany),
				"contact_id": ex.ID(KeyContact),
				"name":       app.Deal.Name,
				"stage":      nullable(app.Deal.Stage),
			})
			if err != nil {
				return err
			}
			ex.Set(KeyDeal, id)
			return nil
		}},
		{Name: "deal_contacts", Run: func(ctx context.Context, ex *saga.Execution) error {
			_, err := ex.Link(ctx, "deal_contacts", []resource.Row{{
				"deal_id":    ex.ID(KeyDeal),
				"contact_id": ex.ID(KeyContact),
			}})
			return err
		}},
		{Name: "project", Run: func(ctx context.Context, ex *saga.Execution) error {
			id, err := ex.Create(ctx, "projects", resource.Row{
				"company_id": ex.ID(KeyCompany),
				"deal_id":    ex.ID(KeyDeal),
				"name":       app.Project.Name,
				"address":    nullable(app.Project.Address),
			})
			if err != nil {
				return err
			}
			ex.Set(KeyProject, id)
			return nil
		}},
		{Name: "plan_sets", Run: func(ctx context.Context, ex *saga.Execution) error {
			rows := make([]resource.Row, len(app.PlanSets))
			for i, ps := range app.PlanSets {
				rev := ps.Revision
				if rev == 0 {
					rev = 1
				}
				rows[i] = resource.Row{"project_id": ex.ID(KeyProject), "name": ps.Name, "revision": rev}
			}
			ids, err := ex.CreateMany(ctx, "plan_sets", rows)
			if err != nil {
				return err
			}
			ex.Set(KeyPlanSets, ids)
			return nil
		}},
		{Name: "license", Run: func(ctx context.Context, ex *saga.Execution) error {
			if app.License == nil {
				return nil
			}
			id, err := ex.Create(ctx, "licenses", resource.Row{
				"company_id": ex.ID(KeyCompany),
				"number":     app.License.Number,
				"state":      nullable(app.License.State),
			})
			if err != nil {
				return fmt.Errorf("license %s: %w", app.License.Number, err)
			}
			ex.Set(KeyLicense, id)
			return nil
		}},
	}
}

// nullable maps "" to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
