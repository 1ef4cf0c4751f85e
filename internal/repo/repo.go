package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"demandline/internal/db"
	"demandline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrStatusChanged means a compare-and-swap on status found a different value.
	ErrStatusChanged = errors.New("status changed concurrently")
)

// DemandFilters narrows ListDemands. Empty sets match everything; From and
// To are inclusive calendar days over created_at.
type DemandFilters struct {
	Statuses    []domain.Status
	Priorities  []domain.Priority
	Types       []domain.DemandType
	AssigneeIDs []string
	From        *time.Time
	To          *time.Time
	Newest      bool
}

func (r Repo) SeedIdentities(ctx context.Context, tx *sql.Tx, items []domain.Identity) error {
	for i, it := range items {
		if _, err := tx.ExecContext(ctx, `INSERT INTO identities(id,name,role,position) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, role=excluded.role, position=excluded.position`,
			it.ID, it.Name, string(it.Role), i); err != nil {
			return fmt.Errorf("seed identity %s: %w", it.ID, err)
		}
	}
	return nil
}

// InsertDemand stores d and returns the sequential id the database assigned.
func (r Repo) InsertDemand(ctx context.Context, tx *sql.Tx, d domain.Demand) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO demands(title,description,type,status,leader_id,assignee_id,priority,created_at,created_day,due_date,completed_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		d.Title, nullable(d.Description), string(d.Type), string(d.Status), d.LeaderID, d.AssigneeID, string(d.Priority),
		d.CreatedAt.UTC().Format(db.TimeLayout), d.CreatedAt.UTC().Format(db.DateLayout), d.DueDate.Format(db.DateLayout), nullableTime(d.CompletedAt))
	if err != nil {
		return 0, fmt.Errorf("insert demand: %w", err)
	}
	return res.LastInsertId()
}

// TransitionDemand moves a demand from one status to another only if it is
// still in the expected status.
func (r Repo) TransitionDemand(ctx context.Context, tx *sql.Tx, id int64, from, to domain.Status, completedAt *time.Time) error {
	query := `UPDATE demands SET status=? WHERE id=? AND status=?`
	args := []any{string(to), id, string(from)}
	if completedAt != nil {
		query = `UPDATE demands SET status=?, completed_at=? WHERE id=? AND status=?`
		args = []any{string(to), completedAt.UTC().Format(db.TimeLayout), id, string(from)}
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStatusChanged
	}
	return nil
}

const demandColumns = `id,title,COALESCE(description,''),type,status,leader_id,assignee_id,priority,created_at,due_date,completed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDemand(row scanner) (domain.Demand, error) {
	var d domain.Demand
	var typ, status, priority, createdAt, dueDate string
	var completedAt sql.NullString
	err := row.Scan(&d.ID, &d.Title, &d.Description, &typ, &status, &d.LeaderID, &d.AssigneeID, &priority, &createdAt, &dueDate, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.Type = domain.DemandType(typ)
	d.Status = domain.Status(status)
	d.Priority = domain.Priority(priority)
	if d.CreatedAt, err = time.Parse(db.TimeLayout, createdAt); err != nil {
		return d, fmt.Errorf("demand %d created_at: %w", d.ID, err)
	}
	if d.DueDate, err = time.Parse(db.DateLayout, dueDate); err != nil {
		return d, fmt.Errorf("demand %d due_date: %w", d.ID, err)
	}
	if completedAt.Valid {
		t, err := time.Parse(db.TimeLayout, completedAt.String)
		if err != nil {
			return d, fmt.Errorf("demand %d completed_at: %w", d.ID, err)
		}
		d.CompletedAt = &t
	}
	return d, nil
}

func (r Repo) GetDemand(ctx context.Context, id int64) (domain.Demand, error) {
	return scanDemand(r.DB.QueryRowContext(ctx, `SELECT `+demandColumns+` FROM demands WHERE id=?`, id))
}

func (r Repo) GetDemandTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Demand, error) {
	return scanDemand(tx.QueryRowContext(ctx, `SELECT `+demandColumns+` FROM demands WHERE id=?`, id))
}

func (r Repo) ListDemands(ctx context.Context, f DemandFilters) ([]domain.Demand, error) {
	var clauses []string
	var args []any
	add := func(c string, a []any) {
		clauses = append(clauses, c)
		args = append(args, a...)
	}
	if len(f.Statuses) > 0 {
		add(db.In("status", f.Statuses))
	}
	if len(f.Priorities) > 0 {
		add(db.In("priority", f.Priorities))
	}
	if len(f.Types) > 0 {
		add(db.In("type", f.Types))
	}
	if len(f.AssigneeIDs) > 0 {
		add(db.In("assignee_id", f.AssigneeIDs))
	}
	if f.From != nil {
		add("created_day >= ?", []any{f.From.Format(db.DateLayout)})
	}
	if f.To != nil {
		add("created_day <= ?", []any{f.To.Format(db.DateLayout)})
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	order := "ASC"
	if f.Newest {
		order = "DESC"
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+demandColumns+` FROM demands `+where+` ORDER BY id `+order, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Demand{}
	for rows.Next() {
		d, err := scanDemand(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(db.TimeLayout)
}
