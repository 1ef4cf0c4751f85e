// Package aggregate derives dashboard metrics from a demand collection.
// Every function is pure: it reads its arguments and nothing else.
package aggregate

import (
	"fmt"
	"time"

	"demandline/internal/domain"
	"demandline/internal/identity"
)

type Metrics struct {
	Total          int     `json:"total"`
	Completed      int     `json:"completed"`
	CompletionRate float64 `json:"completion_rate"`
}

// Row is one line of a breakdown table.
type Row struct {
	Key            string  `json:"key"`
	Label          string  `json:"label"`
	Total          int     `json:"total"`
	Completed      int     `json:"completed"`
	Pending        int     `json:"pending"`
	CompletionRate float64 `json:"completion_rate"`
}

type PeriodSummary struct {
	Start         time.Time `json:"start" format:"date"`
	End           time.Time `json:"end" format:"date"`
	Total         int       `json:"total"`
	DayCount      int       `json:"day_count"`
	AveragePerDay float64   `json:"average_per_day"`
}

// Rate is completed/total as a percentage, zero for an empty set.
func Rate(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(completed) / float64(total) * 100
}

// FormatRate renders a percentage with one decimal.
func FormatRate(rate float64) string {
	return fmt.Sprintf("%.1f%%", rate)
}

func countDone(demands []domain.Demand) int {
	n := 0
	for _, d := range demands {
		if d.Status.Done() {
			n++
		}
	}
	return n
}

// Overall counts a demand as completed once its work is done, confirmed
// or not.
func Overall(demands []domain.Demand) Metrics {
	done := countDone(demands)
	return Metrics{
		Total:          len(demands),
		Completed:      done,
		CompletionRate: Rate(done, len(demands)),
	}
}

func row(key, label string, demands []domain.Demand) Row {
	done := countDone(demands)
	return Row{
		Key:            key,
		Label:          label,
		Total:          len(demands),
		Completed:      done,
		Pending:        len(demands) - done,
		CompletionRate: Rate(done, len(demands)),
	}
}

// PerAssignee yields one row per registered identity, in registry order,
// including identities without demands.
func PerAssignee(demands []domain.Demand, reg *identity.Registry) []Row {
	byAssignee := make(map[string][]domain.Demand)
	for _, d := range demands {
		byAssignee[d.AssigneeID] = append(byAssignee[d.AssigneeID], d)
	}
	ids := reg.Identities()
	rows := make([]Row, 0, len(ids))
	for _, it := range ids {
		rows = append(rows, row(it.ID, it.Name, byAssignee[it.ID]))
	}
	return rows
}

// PerType yields one row per demand type, in declaration order.
func PerType(demands []domain.Demand) []Row {
	byType := make(map[domain.DemandType][]domain.Demand)
	for _, d := range demands {
		byType[d.Type] = append(byType[d.Type], d)
	}
	types := domain.DemandTypes()
	rows := make([]Row, 0, len(types))
	for _, t := range types {
		rows = append(rows, row(string(t), t.Label(), byType[t]))
	}
	return rows
}

// DayCount is the inclusive number of calendar days from start to end,
// never less than one.
func DayCount(start, end time.Time) int {
	// Unix seconds, not Sub: a Duration saturates past ~292 years.
	secs := domain.DateOnly(end).Unix() - domain.DateOnly(start).Unix()
	days := int(secs/86400) + 1
	if days < 1 {
		return 1
	}
	return days
}

func Period(demands []domain.Demand, start, end time.Time) PeriodSummary {
	days := DayCount(start, end)
	return PeriodSummary{
		Start:         domain.DateOnly(start),
		End:           domain.DateOnly(end),
		Total:         len(demands),
		DayCount:      days,
		AveragePerDay: float64(len(demands)) / float64(days),
	}
}

// Dashboard is everything shown for one filtered view of the demands.
type Dashboard struct {
	Overall    Metrics        `json:"overall"`
	ByAssignee []Row          `json:"by_assignee"`
	ByType     []Row          `json:"by_type"`
	Period     *PeriodSummary `json:"period,omitempty"`
}

// Build computes a dashboard; the period summary is included only when
// both bounds are given.
func Build(demands []domain.Demand, reg *identity.Registry, start, end *time.Time) Dashboard {
	dash := Dashboard{
		Overall:    Overall(demands),
		ByAssignee: PerAssignee(demands, reg),
		ByType:     PerType(demands),
	}
	if start != nil && end != nil {
		p := Period(demands, *start, *end)
		dash.Period = &p
	}
	return dash
}
