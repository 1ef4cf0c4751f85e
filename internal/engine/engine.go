package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"demandline/internal/config"
	"demandline/internal/domain"
	"demandline/internal/events"
	"demandline/internal/identity"
	"demandline/internal/metrics"
	"demandline/internal/repo"
)

// Engine is the demand store of one session: the only writer of demands
// and of the activity ledger.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Ledger   events.Ledger
	Registry *identity.Registry
	Config   *config.Config
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config, reg *identity.Registry) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Ledger:   events.Ledger{DB: db},
		Registry: reg,
		Config:   cfg,
		Logger:   slog.Default(),
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Init seeds the registry into a freshly migrated session database.
func (e Engine) Init(ctx context.Context) error {
	if e.Registry == nil {
		return errors.New("identity registry not loaded")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SeedIdentities(ctx, tx, e.Registry.Identities()); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) reject(op string, err error) error {
	reason := Reason(err)
	e.Metrics.Rejected(op, reason)
	e.logger().Warn("demand operation rejected", "operation", op, "reason", reason, "error", err)
	return err
}

// DemandCreateOptions is the creation intake.
type DemandCreateOptions struct {
	Title       string
	Description string
	Type        domain.DemandType
	AssigneeID  string
	Priority    domain.Priority
	DueDate     time.Time
}

func (e Engine) validateCreate(opts *DemandCreateOptions) error {
	opts.Title = strings.TrimSpace(opts.Title)
	if opts.Title == "" {
		return ValidationError{Field: "title", Reason: "is required"}
	}
	if !opts.Type.Valid() {
		return ValidationError{Field: "type", Reason: fmt.Sprintf("%q is not a demand type", opts.Type)}
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !opts.Priority.Valid() {
		return ValidationError{Field: "priority", Reason: fmt.Sprintf("%q is not a priority", opts.Priority)}
	}
	if opts.DueDate.IsZero() {
		return ValidationError{Field: "due_date", Reason: "is required"}
	}
	opts.DueDate = domain.DateOnly(opts.DueDate)
	if e.Config != nil && e.Config.Policies.RejectPastDueDates && opts.DueDate.Before(domain.DateOnly(e.now())) {
		return ValidationError{Field: "due_date", Reason: "is in the past"}
	}
	return nil
}

// CreateDemand stores a new pending demand and logs its creation by the
// leader.
func (e Engine) CreateDemand(ctx context.Context, opts DemandCreateOptions) (domain.Demand, error) {
	if err := e.validateCreate(&opts); err != nil {
		return domain.Demand{}, e.reject("create", err)
	}
	if _, err := e.Registry.Lookup(opts.AssigneeID); err != nil {
		return domain.Demand{}, e.reject("create", err)
	}
	leader, err := e.Registry.DefaultLeader()
	if err != nil {
		return domain.Demand{}, err
	}
	d := domain.Demand{
		Title:       opts.Title,
		Description: opts.Description,
		Type:        opts.Type,
		Status:      domain.StatusPending,
		LeaderID:    leader.ID,
		AssigneeID:  opts.AssigneeID,
		Priority:    opts.Priority,
		CreatedAt:   e.now(),
		DueDate:     opts.DueDate,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Demand{}, err
	}
	defer tx.Rollback()

	if d.ID, err = e.Repo.InsertDemand(ctx, tx, d); err != nil {
		return domain.Demand{}, err
	}
	if _, err := e.Ledger.Append(ctx, tx, record(d, domain.ActionCreated, leader, d.CreatedAt)); err != nil {
		return domain.Demand{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Demand{}, err
	}
	e.Metrics.Action(string(domain.ActionCreated))
	e.logger().Info("demand created", "demand_id", d.ID, "type", d.Type, "assignee_id", d.AssigneeID)
	return d, nil
}

// CompleteDemand moves a pending demand to completed.
func (e Engine) CompleteDemand(ctx context.Context, demandID int64, actorID string) (domain.Demand, error) {
	actor, err := e.Registry.Lookup(actorID)
	if err != nil {
		return domain.Demand{}, e.reject("complete", err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Demand{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDemandTx(ctx, tx, demandID)
	if err != nil {
		return d, e.reject("complete", fmt.Errorf("demand %d: %w", demandID, err))
	}
	if err := e.authorizeComplete(actor, d); err != nil {
		return d, e.reject("complete", err)
	}
	if d.Status != domain.StatusPending {
		return d, e.reject("complete", TransitionError{DemandID: d.ID, From: d.Status, Action: domain.ActionCompleted})
	}
	now := e.now()
	if err := e.Repo.TransitionDemand(ctx, tx, d.ID, domain.StatusPending, domain.StatusCompleted, &now); err != nil {
		return d, e.reject("complete", transitionFailure(err, d, domain.ActionCompleted))
	}
	d.Status = domain.StatusCompleted
	d.CompletedAt = &now
	if _, err := e.Ledger.Append(ctx, tx, record(d, domain.ActionCompleted, actor, now)); err != nil {
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}
	e.Metrics.Action(string(domain.ActionCompleted))
	e.logger().Info("demand completed", "demand_id", d.ID, "actor_id", actor.ID)
	return d, nil
}

func (e Engine) authorizeComplete(actor domain.Identity, d domain.Demand) error {
	policy := config.CompleteAssignee
	if e.Config != nil && e.Config.Policies.Complete != "" {
		policy = e.Config.Policies.Complete
	}
	switch policy {
	case config.CompleteAny:
		return nil
	case config.CompleteAssigneeOrLeader:
		if actor.ID == d.AssigneeID || actor.Role == domain.RoleLeader {
			return nil
		}
		return AuthorizationError{ActorID: actor.ID, Action: domain.ActionCompleted, Reason: "only the assignee or a leader may complete it"}
	case config.CompleteAssignee:
		if actor.ID == d.AssigneeID {
			return nil
		}
		return AuthorizationError{ActorID: actor.ID, Action: domain.ActionCompleted, Reason: "only the assignee may complete it"}
	}
	return fmt.Errorf("unknown complete policy %q", policy)
}

// ConfirmDemand lets a leader confirm a completed demand.
func (e Engine) ConfirmDemand(ctx context.Context, demandID int64, actorID string) (domain.Demand, error) {
	actor, err := e.Registry.Lookup(actorID)
	if err != nil {
		return domain.Demand{}, e.reject("confirm", err)
	}
	if actor.Role != domain.RoleLeader {
		return domain.Demand{}, e.reject("confirm", AuthorizationError{ActorID: actor.ID, Action: domain.ActionConfirmed, Reason: "leader role required"})
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Demand{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDemandTx(ctx, tx, demandID)
	if err != nil {
		return d, e.reject("confirm", fmt.Errorf("demand %d: %w", demandID, err))
	}
	if d.Status != domain.StatusCompleted {
		return d, e.reject("confirm", TransitionError{DemandID: d.ID, From: d.Status, Action: domain.ActionConfirmed})
	}
	if err := e.Repo.TransitionDemand(ctx, tx, d.ID, domain.StatusCompleted, domain.StatusConfirmed, nil); err != nil {
		return d, e.reject("confirm", transitionFailure(err, d, domain.ActionConfirmed))
	}
	d.Status = domain.StatusConfirmed
	if _, err := e.Ledger.Append(ctx, tx, record(d, domain.ActionConfirmed, actor, e.now())); err != nil {
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}
	e.Metrics.Action(string(domain.ActionConfirmed))
	e.logger().Info("demand confirmed", "demand_id", d.ID, "actor_id", actor.ID)
	return d, nil
}

func transitionFailure(err error, d domain.Demand, action domain.Action) error {
	if errors.Is(err, repo.ErrStatusChanged) {
		return TransitionError{DemandID: d.ID, From: d.Status, Action: action}
	}
	return err
}

func record(d domain.Demand, action domain.Action, actor domain.Identity, ts time.Time) domain.ActivityRecord {
	return domain.ActivityRecord{
		Timestamp:    ts,
		DemandID:     d.ID,
		Title:        d.Title,
		Type:         d.Type,
		Action:       action,
		ActorID:      actor.ID,
		ActorName:    actor.Name,
		StatusAtTime: d.Status,
	}
}

func (e Engine) GetDemand(ctx context.Context, id int64) (domain.Demand, error) {
	d, err := e.Repo.GetDemand(ctx, id)
	if err != nil {
		return d, fmt.Errorf("demand %d: %w", id, err)
	}
	return d, nil
}

func (e Engine) ListDemands(ctx context.Context, f repo.DemandFilters) ([]domain.Demand, error) {
	return e.Repo.ListDemands(ctx, f)
}

func (e Engine) ListAll(ctx context.Context) ([]domain.Demand, error) {
	return e.Repo.ListDemands(ctx, repo.DemandFilters{})
}

func (e Engine) ListByAssignee(ctx context.Context, assigneeID string) ([]domain.Demand, error) {
	return e.Repo.ListDemands(ctx, repo.DemandFilters{AssigneeIDs: []string{assigneeID}})
}

// PendingConfirmation lists completed demands still awaiting a leader.
func (e Engine) PendingConfirmation(ctx context.Context) ([]domain.Demand, error) {
	return e.Repo.ListDemands(ctx, repo.DemandFilters{Statuses: []domain.Status{domain.StatusCompleted}})
}

// Activity queries the ledger, most recent first.
func (e Engine) Activity(ctx context.Context, f events.Filter) ([]domain.ActivityRecord, error) {
	return e.Ledger.Query(ctx, f)
}
