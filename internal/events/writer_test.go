package events_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"demandline/internal/db"
	"demandline/internal/domain"
	"demandline/internal/events"
	"demandline/internal/migrate"
)

func TestAppendRequiresTimestamp(t *testing.T) {
	conn, err := db.Open(db.Config{Name: t.Name()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	ledger := events.Ledger{DB: conn}
	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = ledger.Append(ctx, tx, domain.ActivityRecord{
		DemandID: 1, Title: "Draft contract", Type: domain.TypeDraft,
		Action: domain.ActionCreated, ActorID: "1", ActorName: "Leader", StatusAtTime: domain.StatusPending,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no timestamp")
	require.NoError(t, tx.Rollback())

	recs, err := ledger.Query(ctx, events.Filter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}
