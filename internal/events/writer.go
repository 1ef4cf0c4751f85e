package events

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"demandline/internal/db"
	"demandline/internal/domain"
)

// Ledger is the append-only activity log of one session. Appends only
// happen inside the transaction of the mutation they describe, and the
// caller stamps each record from its own clock.
type Ledger struct {
	DB *sql.DB
}

// Append stores rec and returns it with its sequence set.
func (l Ledger) Append(ctx context.Context, tx *sql.Tx, rec domain.ActivityRecord) (domain.ActivityRecord, error) {
	if rec.Timestamp.IsZero() {
		return rec, fmt.Errorf("append activity: demand %d %s has no timestamp", rec.DemandID, rec.Action)
	}
	rec.Timestamp = rec.Timestamp.UTC()
	res, err := tx.ExecContext(ctx, `INSERT INTO activity(ts,demand_id,title,type,action,actor_id,actor_name,status) VALUES (?,?,?,?,?,?,?,?)`,
		rec.Timestamp.Format(db.TimeLayout), rec.DemandID, rec.Title, string(rec.Type), string(rec.Action), rec.ActorID, rec.ActorName, string(rec.StatusAtTime))
	if err != nil {
		return rec, fmt.Errorf("append activity: %w", err)
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return rec, err
	}
	return rec, nil
}

type Filter struct {
	ActorNames []string
	Types      []domain.DemandType
	DemandID   int64
	Limit      int
}

// Query returns matching records, most recent first.
func (l Ledger) Query(ctx context.Context, f Filter) ([]domain.ActivityRecord, error) {
	var clauses []string
	var args []any
	if len(f.ActorNames) > 0 {
		c, a := db.In("actor_name", f.ActorNames)
		clauses = append(clauses, c)
		args = append(args, a...)
	}
	if len(f.Types) > 0 {
		c, a := db.In("type", f.Types)
		clauses = append(clauses, c)
		args = append(args, a...)
	}
	if f.DemandID > 0 {
		clauses = append(clauses, "demand_id=?")
		args = append(args, f.DemandID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,ts,demand_id,title,type,action,actor_id,actor_name,status FROM activity ` + where + ` ORDER BY ts DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := l.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ActivityRecord{}
	for rows.Next() {
		var rec domain.ActivityRecord
		var ts, typ, action, status string
		if err := rows.Scan(&rec.ID, &ts, &rec.DemandID, &rec.Title, &typ, &action, &rec.ActorID, &rec.ActorName, &status); err != nil {
			return nil, err
		}
		if rec.Timestamp, err = time.Parse(db.TimeLayout, ts); err != nil {
			return nil, fmt.Errorf("activity %d timestamp: %w", rec.ID, err)
		}
		rec.Type = domain.DemandType(typ)
		rec.Action = domain.Action(action)
		rec.StatusAtTime = domain.Status(status)
		res = append(res, rec)
	}
	return res, rows.Err()
}
