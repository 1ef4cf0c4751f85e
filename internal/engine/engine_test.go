package engine_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"demandline/internal/aggregate"
	"demandline/internal/config"
	"demandline/internal/db"
	"demandline/internal/domain"
	"demandline/internal/engine"
	"demandline/internal/events"
	"demandline/internal/identity"
	"demandline/internal/migrate"
	"demandline/internal/repo"
)

const (
	leaderID = "1"
	mariaID  = "2"
	pedroID  = "3"
)

var day = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	clock  *time.Time
}

// tick advances the injected clock so ledger timestamps differ.
func (env testEnv) tick() { *env.clock = env.clock.Add(time.Minute) }

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Name: t.Name()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Identities = []domain.Identity{
		{ID: leaderID, Name: "Leader", Role: domain.RoleLeader},
		{ID: mariaID, Name: "Maria", Role: domain.RoleCollaborator},
		{ID: pedroID, Name: "Pedro", Role: domain.RoleCollaborator},
	}
	for _, m := range mutate {
		m(cfg)
	}
	reg, err := identity.New(cfg.Identities)
	require.NoError(t, err)

	clock := day
	eng := engine.New(conn, cfg, reg)
	eng.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	eng.Now = func() time.Time { return clock }
	require.NoError(t, eng.Init(ctx))
	return testEnv{Engine: eng, Ctx: ctx, clock: &clock}
}

func (env testEnv) create(t *testing.T, title string, typ domain.DemandType, assignee string) domain.Demand {
	t.Helper()
	d, err := env.Engine.CreateDemand(env.Ctx, engine.DemandCreateOptions{
		Title:      title,
		Type:       typ,
		AssigneeID: assignee,
		Priority:   domain.PriorityMedium,
		DueDate:    day.AddDate(0, 0, 7),
	})
	require.NoError(t, err)
	env.tick()
	return d
}

func (env testEnv) ledger(t *testing.T) []domain.ActivityRecord {
	t.Helper()
	recs, err := env.Engine.Activity(env.Ctx, events.Filter{})
	require.NoError(t, err)
	return recs
}

func TestCreateDemand(t *testing.T) {
	env := newTestEnv(t)
	d := env.create(t, "Send invoice", domain.TypeBillingRequest, mariaID)

	assert.Equal(t, int64(1), d.ID)
	assert.Equal(t, domain.StatusPending, d.Status)
	assert.Nil(t, d.CompletedAt)
	assert.Equal(t, leaderID, d.LeaderID)
	assert.False(t, d.LeaderConfirmed())

	second := env.create(t, "Call client", domain.TypeClientContact, pedroID)
	assert.Equal(t, int64(2), second.ID)

	stored, err := env.Engine.GetDemand(env.Ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Title, stored.Title)
	assert.Equal(t, d.DueDate, stored.DueDate)
	assert.True(t, d.CreatedAt.Equal(stored.CreatedAt))

	recs := env.ledger(t)
	require.Len(t, recs, 2)
	assert.Equal(t, domain.ActionCreated, recs[1].Action)
	assert.Equal(t, "Leader", recs[1].ActorName)
	assert.Equal(t, domain.StatusPending, recs[1].StatusAtTime)
	assert.Equal(t, "Send invoice", recs[1].Title)
}

func TestCreateDemandValidation(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Policies.RejectPastDueDates = true })
	base := engine.DemandCreateOptions{Title: "ok", Type: domain.TypeDraft, AssigneeID: mariaID, DueDate: day}

	cases := map[string]func(o *engine.DemandCreateOptions){
		"empty title":  func(o *engine.DemandCreateOptions) { o.Title = "  " },
		"bad type":     func(o *engine.DemandCreateOptions) { o.Type = "memo" },
		"bad priority": func(o *engine.DemandCreateOptions) { o.Priority = "urgent" },
		"no due date":  func(o *engine.DemandCreateOptions) { o.DueDate = time.Time{} },
		"past due":     func(o *engine.DemandCreateOptions) { o.DueDate = day.AddDate(0, 0, -1) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			opts := base
			mutate(&opts)
			_, err := env.Engine.CreateDemand(env.Ctx, opts)
			assert.ErrorIs(t, err, engine.ErrValidation)
		})
	}

	unknown := base
	unknown.AssigneeID = "42"
	_, err := env.Engine.CreateDemand(env.Ctx, unknown)
	assert.ErrorIs(t, err, engine.ErrUnknownIdentity)

	assert.Empty(t, env.ledger(t))
	all, err := env.Engine.ListAll(env.Ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	d, err := env.Engine.CreateDemand(env.Ctx, base)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityMedium, d.Priority)
}

func TestCompleteDemand(t *testing.T) {
	env := newTestEnv(t)
	d := env.create(t, "Proposal", domain.TypeProposal, mariaID)

	done, err := env.Engine.CompleteDemand(env.Ctx, d.ID, mariaID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.True(t, done.CompletedAt.Equal(*env.clock))
	env.tick()

	recs := env.ledger(t)
	require.Len(t, recs, 2)
	assert.Equal(t, domain.ActionCompleted, recs[0].Action)
	assert.Equal(t, "Maria", recs[0].ActorName)
	assert.Equal(t, domain.StatusCompleted, recs[0].StatusAtTime)

	_, err = env.Engine.CompleteDemand(env.Ctx, d.ID, mariaID)
	assert.ErrorIs(t, err, engine.ErrInvalidTransition)
	assert.Len(t, env.ledger(t), 2)

	stored, err := env.Engine.GetDemand(env.Ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, done.CompletedAt.UTC(), stored.CompletedAt.UTC())
}

func TestCompleteAuthorizationPolicies(t *testing.T) {
	t.Run("assignee", func(t *testing.T) {
		env := newTestEnv(t)
		d := env.create(t, "Draft", domain.TypeDraft, mariaID)
		_, err := env.Engine.CompleteDemand(env.Ctx, d.ID, pedroID)
		assert.ErrorIs(t, err, engine.ErrNotAuthorized)
		_, err = env.Engine.CompleteDemand(env.Ctx, d.ID, leaderID)
		assert.ErrorIs(t, err, engine.ErrNotAuthorized)
		_, err = env.Engine.CompleteDemand(env.Ctx, d.ID, "nobody")
		assert.ErrorIs(t, err, engine.ErrUnknownIdentity)
		assert.Len(t, env.ledger(t), 1)
	})
	t.Run("assignee_or_leader", func(t *testing.T) {
		env := newTestEnv(t, func(c *config.Config) { c.Policies.Complete = config.CompleteAssigneeOrLeader })
		d := env.create(t, "Draft", domain.TypeDraft, mariaID)
		_, err := env.Engine.CompleteDemand(env.Ctx, d.ID, pedroID)
		assert.ErrorIs(t, err, engine.ErrNotAuthorized)
		_, err = env.Engine.CompleteDemand(env.Ctx, d.ID, leaderID)
		assert.NoError(t, err)
	})
	t.Run("any", func(t *testing.T) {
		env := newTestEnv(t, func(c *config.Config) { c.Policies.Complete = config.CompleteAny })
		d := env.create(t, "Draft", domain.TypeDraft, mariaID)
		_, err := env.Engine.CompleteDemand(env.Ctx, d.ID, pedroID)
		assert.NoError(t, err)
	})
}

func TestCompleteMissingDemand(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CompleteDemand(env.Ctx, 99, mariaID)
	assert.ErrorIs(t, err, engine.ErrNotFound)
	_, err = env.Engine.ConfirmDemand(env.Ctx, 99, leaderID)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestConfirmDemand(t *testing.T) {
	env := newTestEnv(t)
	d := env.create(t, "Power of attorney", domain.TypePowerOfAttorney, mariaID)

	_, err := env.Engine.ConfirmDemand(env.Ctx, d.ID, leaderID)
	assert.ErrorIs(t, err, engine.ErrInvalidTransition, "pending demands cannot be confirmed")

	_, err = env.Engine.CompleteDemand(env.Ctx, d.ID, mariaID)
	require.NoError(t, err)
	env.tick()

	confirmed, err := env.Engine.ConfirmDemand(env.Ctx, d.ID, leaderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, confirmed.Status)
	assert.True(t, confirmed.LeaderConfirmed())
	assert.NotNil(t, confirmed.CompletedAt)

	_, err = env.Engine.ConfirmDemand(env.Ctx, d.ID, leaderID)
	assert.ErrorIs(t, err, engine.ErrInvalidTransition)
	_, err = env.Engine.CompleteDemand(env.Ctx, d.ID, mariaID)
	assert.ErrorIs(t, err, engine.ErrInvalidTransition)

	recs := env.ledger(t)
	require.Len(t, recs, 3)
	assert.Equal(t, domain.ActionConfirmed, recs[0].Action)
	assert.Equal(t, domain.StatusConfirmed, recs[0].StatusAtTime)
}

func TestConfirmByNonLeaderMutatesNothing(t *testing.T) {
	env := newTestEnv(t)
	pending := env.create(t, "a", domain.TypeDraft, mariaID)
	completed := env.create(t, "b", domain.TypeDraft, mariaID)
	_, err := env.Engine.CompleteDemand(env.Ctx, completed.ID, mariaID)
	require.NoError(t, err)
	before := env.ledger(t)

	for _, id := range []int64{pending.ID, completed.ID, 404} {
		_, err := env.Engine.ConfirmDemand(env.Ctx, id, mariaID)
		assert.ErrorIs(t, err, engine.ErrNotAuthorized)
	}
	assert.Equal(t, before, env.ledger(t))

	stored, err := env.Engine.GetDemand(env.Ctx, completed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
}

func TestPendingConfirmation(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, "a", domain.TypeDraft, mariaID)
	b := env.create(t, "b", domain.TypeDraft, pedroID)
	env.create(t, "c", domain.TypeDraft, pedroID)
	for _, d := range []domain.Demand{a, b} {
		_, err := env.Engine.CompleteDemand(env.Ctx, d.ID, d.AssigneeID)
		require.NoError(t, err)
	}
	_, err := env.Engine.ConfirmDemand(env.Ctx, a.ID, leaderID)
	require.NoError(t, err)

	inbox, err := env.Engine.PendingConfirmation(env.Ctx)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, b.ID, inbox[0].ID)
}

func TestListDemandFilters(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, "a", domain.TypeProposal, mariaID)
	*env.clock = env.clock.AddDate(0, 0, 2)
	b := env.create(t, "b", domain.TypeDraft, pedroID)
	c := env.create(t, "c", domain.TypeProposal, pedroID)
	_, err := env.Engine.CompleteDemand(env.Ctx, c.ID, pedroID)
	require.NoError(t, err)

	ids := func(ds []domain.Demand) []int64 {
		out := []int64{}
		for _, d := range ds {
			out = append(out, d.ID)
		}
		return out
	}

	mine, err := env.Engine.ListByAssignee(env.Ctx, pedroID)
	require.NoError(t, err)
	assert.Equal(t, []int64{b.ID, c.ID}, ids(mine))

	pending, err := env.Engine.ListDemands(env.Ctx, repo.DemandFilters{Statuses: []domain.Status{domain.StatusPending}})
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID, b.ID}, ids(pending))

	proposals, err := env.Engine.ListDemands(env.Ctx, repo.DemandFilters{Types: []domain.DemandType{domain.TypeProposal}, Newest: true})
	require.NoError(t, err)
	assert.Equal(t, []int64{c.ID, a.ID}, ids(proposals))

	first := domain.DateOnly(day)
	onlyFirstDay, err := env.Engine.ListDemands(env.Ctx, repo.DemandFilters{From: &first, To: &first})
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID}, ids(onlyFirstDay))

	later := first.AddDate(0, 0, 1)
	fromLater, err := env.Engine.ListDemands(env.Ctx, repo.DemandFilters{From: &later})
	require.NoError(t, err)
	assert.Equal(t, []int64{b.ID, c.ID}, ids(fromLater))

	none, err := env.Engine.ListDemands(env.Ctx, repo.DemandFilters{Priorities: []domain.Priority{domain.PriorityHigh}})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestActivityFiltersAndOrder(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, "a", domain.TypeProposal, mariaID)
	env.create(t, "b", domain.TypeDraft, pedroID)
	_, err := env.Engine.CompleteDemand(env.Ctx, a.ID, mariaID)
	require.NoError(t, err)

	byMaria, err := env.Engine.Activity(env.Ctx, events.Filter{ActorNames: []string{"Maria"}})
	require.NoError(t, err)
	require.Len(t, byMaria, 1)
	assert.Equal(t, domain.ActionCompleted, byMaria[0].Action)

	drafts, err := env.Engine.Activity(env.Ctx, events.Filter{Types: []domain.DemandType{domain.TypeDraft}})
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "b", drafts[0].Title)

	forA, err := env.Engine.Activity(env.Ctx, events.Filter{DemandID: a.ID})
	require.NoError(t, err)
	assert.Len(t, forA, 2)

	limited, err := env.Engine.Activity(env.Ctx, events.Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, domain.ActionCompleted, limited[0].Action)
}

func TestLedgerOrderWithIdenticalTimestamps(t *testing.T) {
	env := newTestEnv(t)
	for _, title := range []string{"first", "second", "third"} {
		_, err := env.Engine.CreateDemand(env.Ctx, engine.DemandCreateOptions{
			Title: title, Type: domain.TypeDraft, AssigneeID: mariaID, DueDate: day,
		})
		require.NoError(t, err)
	}
	recs := env.ledger(t)
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"third", "second", "first"}, []string{recs[0].Title, recs[1].Title, recs[2].Title})
}

func TestEndToEndScenario(t *testing.T) {
	env := newTestEnv(t)
	p1 := env.create(t, "Proposal A", domain.TypeProposal, mariaID)
	d1 := env.create(t, "Draft A", domain.TypeDraft, mariaID)
	env.create(t, "Proposal B", domain.TypeProposal, mariaID)

	_, err := env.Engine.CompleteDemand(env.Ctx, p1.ID, mariaID)
	require.NoError(t, err)
	env.tick()
	_, err = env.Engine.CompleteDemand(env.Ctx, d1.ID, mariaID)
	require.NoError(t, err)
	env.tick()
	_, err = env.Engine.ConfirmDemand(env.Ctx, p1.ID, leaderID)
	require.NoError(t, err)

	mine, err := env.Engine.ListByAssignee(env.Ctx, mariaID)
	require.NoError(t, err)
	m := aggregate.Overall(mine)
	assert.Equal(t, 3, m.Total)
	assert.Equal(t, 2, m.Completed)
	assert.InDelta(t, 66.7, m.CompletionRate, 0.05)

	byType := map[string]aggregate.Row{}
	for _, r := range aggregate.PerType(mine) {
		byType[r.Key] = r
	}
	assert.Equal(t, 2, byType[string(domain.TypeProposal)].Total)
	assert.Equal(t, 1, byType[string(domain.TypeProposal)].Completed)
	assert.Equal(t, 1, byType[string(domain.TypeDraft)].Total)
	assert.Equal(t, 1, byType[string(domain.TypeDraft)].Completed)

	recs := env.ledger(t)
	require.Len(t, recs, 6)
	actions := map[domain.Action]int{}
	for i, r := range recs {
		actions[r.Action]++
		if i > 0 {
			assert.False(t, r.Timestamp.After(recs[i-1].Timestamp), "ledger must be newest first")
		}
	}
	assert.Equal(t, map[domain.Action]int{domain.ActionCreated: 3, domain.ActionCompleted: 2, domain.ActionConfirmed: 1}, actions)
	assert.Equal(t, domain.ActionConfirmed, recs[0].Action)
}
