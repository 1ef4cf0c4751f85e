// Package replay runs a scripted sequence of demand operations against a
// session. Scripts are YAML:
//
//	config: demandline.yml   # optional, relative to the script
//	steps:
//	  - create: {ref: inv, title: Invoice, type: billing_request, assignee: "2", due_date: 2024-06-30}
//	  - complete: {demand: inv, actor: "2"}
//	  - confirm: {demand: inv, actor: "Líder João"}
//	  - confirm: {demand: inv, actor: "2", expect_error: not_authorized}
package replay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"demandline/internal/app"
	"demandline/internal/domain"
	"demandline/internal/engine"
)

var ErrScript = errors.New("invalid replay script")

type Script struct {
	Config string `yaml:"config,omitempty"`
	Steps  []Step `yaml:"steps"`

	dir string
}

// Step holds exactly one of Create, Complete or Confirm.
type Step struct {
	Create   *CreateStep `yaml:"create,omitempty"`
	Complete *ActStep    `yaml:"complete,omitempty"`
	Confirm  *ActStep    `yaml:"confirm,omitempty"`
}

type CreateStep struct {
	Ref         string `yaml:"ref,omitempty"`
	Title       string `yaml:"title"`
	Description string `yaml:"description,omitempty"`
	Type        string `yaml:"type"`
	Assignee    string `yaml:"assignee"`
	Priority    string `yaml:"priority,omitempty"`
	DueDate     string `yaml:"due_date"`
	ExpectError string `yaml:"expect_error,omitempty"`
}

type ActStep struct {
	// Demand is a ref from an earlier create step or a numeric id.
	Demand      string `yaml:"demand"`
	Actor       string `yaml:"actor"`
	ExpectError string `yaml:"expect_error,omitempty"`
}

func (s Step) action() (domain.Action, string, error) {
	n := 0
	var a domain.Action
	var expect string
	if s.Create != nil {
		n, a, expect = n+1, domain.ActionCreated, s.Create.ExpectError
	}
	if s.Complete != nil {
		n, a, expect = n+1, domain.ActionCompleted, s.Complete.ExpectError
	}
	if s.Confirm != nil {
		n, a, expect = n+1, domain.ActionConfirmed, s.Confirm.ExpectError
	}
	if n != 1 {
		return "", "", fmt.Errorf("%w: each step needs exactly one of create, complete, confirm", ErrScript)
	}
	return a, expect, nil
}

// Parse decodes a script. dir resolves a relative config path.
func Parse(data []byte, dir string) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScript, err)
	}
	if len(s.Steps) == 0 {
		return nil, fmt.Errorf("%w: no steps", ErrScript)
	}
	for i, st := range s.Steps {
		if _, _, err := st.action(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	s.dir = dir
	return &s, nil
}

func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, filepath.Dir(path))
}

// ConfigPath returns the referenced config file, or "" when the script
// relies on the default identities.
func (s *Script) ConfigPath() string {
	if s.Config == "" || filepath.IsAbs(s.Config) {
		return s.Config
	}
	return filepath.Join(s.dir, s.Config)
}

type StepResult struct {
	Index    int           `json:"index"`
	Action   domain.Action `json:"action"`
	DemandID int64         `json:"demand_id,omitempty"`
	// Outcome is "ok" or the rejection reason code.
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

type Result struct {
	Steps   []StepResult    `json:"steps"`
	Demands []domain.Demand `json:"demands"`
}

// MismatchError reports a step whose outcome differs from what the script
// expected.
type MismatchError struct {
	Step     int
	Expected string
	Got      string
	Err      error
}

func (e MismatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("step %d: expected %s, got %s: %v", e.Step, e.Expected, e.Got, e.Err)
	}
	return fmt.Sprintf("step %d: expected %s, got %s", e.Step, e.Expected, e.Got)
}

func (e MismatchError) Unwrap() error { return e.Err }

// Run applies the steps in order and stops at the first unexpected outcome.
func Run(ctx context.Context, s *app.Session, script *Script) (Result, error) {
	var res Result
	refs := map[string]int64{}
	for i, st := range script.Steps {
		action, expect, err := st.action()
		if err != nil {
			return res, err
		}
		var d domain.Demand
		switch action {
		case domain.ActionCreated:
			d, err = runCreate(ctx, s, st.Create)
			if err == nil && st.Create.Ref != "" {
				refs[st.Create.Ref] = d.ID
			}
		case domain.ActionCompleted:
			d, err = runAct(ctx, s, st.Complete, refs, s.Engine.CompleteDemand)
		case domain.ActionConfirmed:
			d, err = runAct(ctx, s, st.Confirm, refs, s.Engine.ConfirmDemand)
		}
		if errors.Is(err, ErrScript) {
			return res, fmt.Errorf("step %d: %w", i+1, err)
		}
		outcome := "ok"
		if err != nil {
			outcome = engine.Reason(err)
		}
		sr := StepResult{Index: i + 1, Action: action, DemandID: d.ID, Outcome: outcome}
		if err != nil {
			sr.Error = err.Error()
		}
		res.Steps = append(res.Steps, sr)
		want := expect
		if want == "" {
			want = "ok"
		}
		if outcome != want {
			return res, MismatchError{Step: i + 1, Expected: want, Got: outcome, Err: err}
		}
	}
	all, err := s.Engine.ListAll(ctx)
	if err != nil {
		return res, err
	}
	res.Demands = all
	return res, nil
}

func runCreate(ctx context.Context, s *app.Session, c *CreateStep) (domain.Demand, error) {
	opts := engine.DemandCreateOptions{Title: c.Title, Description: c.Description}
	t, err := domain.ParseDemandType(c.Type)
	if err != nil {
		return domain.Demand{}, engine.ValidationError{Field: "type", Reason: err.Error()}
	}
	opts.Type = t
	if c.Priority != "" {
		p, err := domain.ParsePriority(c.Priority)
		if err != nil {
			return domain.Demand{}, engine.ValidationError{Field: "priority", Reason: err.Error()}
		}
		opts.Priority = p
	}
	if c.DueDate != "" {
		due, err := time.Parse("2006-01-02", c.DueDate)
		if err != nil {
			return domain.Demand{}, engine.ValidationError{Field: "due_date", Reason: err.Error()}
		}
		opts.DueDate = due
	}
	opts.AssigneeID = resolveIdentity(s, c.Assignee)
	return s.Engine.CreateDemand(ctx, opts)
}

type transition func(context.Context, int64, string) (domain.Demand, error)

func runAct(ctx context.Context, s *app.Session, a *ActStep, refs map[string]int64, fn transition) (domain.Demand, error) {
	id, ok := refs[a.Demand]
	if !ok {
		n, err := strconv.ParseInt(strings.TrimSpace(a.Demand), 10, 64)
		if err != nil {
			return domain.Demand{}, fmt.Errorf("%w: unknown demand ref %q", ErrScript, a.Demand)
		}
		id = n
	}
	return fn(ctx, id, resolveIdentity(s, a.Actor))
}

// resolveIdentity accepts an identity id or display name. Unknown
// references pass through so the engine reports them.
func resolveIdentity(s *app.Session, ref string) string {
	if _, err := s.Engine.Registry.Lookup(ref); err == nil {
		return ref
	}
	if it, err := s.Engine.Registry.FindByName(ref); err == nil {
		return it.ID
	}
	return ref
}
