package migrate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"demandline/internal/db"
	"demandline/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Name: t.Name()})
	require.NoError(t, err)
	defer conn.Close()

	ctx := context.Background()
	v1, err := migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 1, v1)

	v2, err := migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)

	var n int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM demands`).Scan(&n))
	assert.Zero(t, n)
}

func TestActivityIsAppendOnly(t *testing.T) {
	conn, err := db.Open(db.Config{Name: t.Name()})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	for _, stmt := range []string{
		`INSERT INTO identities(id,name,role,position) VALUES ('1','Leader','leader',0)`,
		`INSERT INTO demands(title,type,status,leader_id,assignee_id,priority,created_at,created_day,due_date)
		 VALUES ('t','draft','pending','1','1','low','2024-01-01T00:00:00.000000000Z','2024-01-01','2024-01-02')`,
		`INSERT INTO activity(ts,demand_id,title,type,action,actor_id,actor_name,status)
		 VALUES ('2024-01-01T00:00:00.000000000Z',1,'t','draft','created','1','Leader','pending')`,
	} {
		_, err := conn.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}

	_, err = conn.ExecContext(ctx, `UPDATE activity SET actor_name='someone else'`)
	assert.ErrorContains(t, err, "immutable")
	_, err = conn.ExecContext(ctx, `DELETE FROM activity`)
	assert.ErrorContains(t, err, "immutable")

	_, err = conn.ExecContext(ctx, `UPDATE demands SET status='completed' WHERE id=1`)
	assert.Error(t, err, "completed demands need completed_at")
}
