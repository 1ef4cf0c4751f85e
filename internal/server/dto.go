package server

import (
	"time"

	"demandline/internal/aggregate"
	"demandline/internal/domain"
)

// Request payloads

type CreateDemandRequest struct {
	Title       string  `json:"title" required:"false"`
	Description *string `json:"description,omitempty"`
	Type        string  `json:"type" doc:"wire value or display label" example:"proposal"`
	AssigneeID  string  `json:"assignee_id"`
	Priority    string  `json:"priority,omitempty" doc:"low, medium or high; defaults to medium"`
	DueDate     string  `json:"due_date" required:"false" doc:"YYYY-MM-DD" example:"2024-06-30"`
}

type ActorRequest struct {
	ActorID string `json:"actor_id"`
}

// Responses

type SessionResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

type DemandResponse struct {
	ID              int64      `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Type            string     `json:"type"`
	TypeLabel       string     `json:"type_label"`
	Status          string     `json:"status"`
	LeaderID        string     `json:"leader_id"`
	LeaderConfirmed bool       `json:"leader_confirmed"`
	AssigneeID      string     `json:"assignee_id"`
	Priority        string     `json:"priority"`
	CreatedAt       time.Time  `json:"created_at" format:"date-time"`
	DueDate         string     `json:"due_date" format:"date"`
	CompletedAt     *time.Time `json:"completed_at,omitempty" format:"date-time"`
}

type ActivityResponse struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp" format:"date-time"`
	DemandID     int64     `json:"demand_id"`
	Title        string    `json:"title"`
	Type         string    `json:"type"`
	Action       string    `json:"action"`
	ActorID      string    `json:"actor_id"`
	ActorName    string    `json:"actor_name"`
	StatusAtTime string    `json:"status_at_time"`
}

type RowResponse struct {
	Key            string  `json:"key"`
	Label          string  `json:"label"`
	Total          int     `json:"total"`
	Completed      int     `json:"completed"`
	Pending        int     `json:"pending"`
	CompletionRate float64 `json:"completion_rate"`
}

type PeriodResponse struct {
	Start         string  `json:"start" format:"date"`
	End           string  `json:"end" format:"date"`
	Total         int     `json:"total"`
	DayCount      int     `json:"day_count"`
	AveragePerDay float64 `json:"average_per_day"`
}

type DashboardResponse struct {
	Total          int             `json:"total"`
	Completed      int             `json:"completed"`
	CompletionRate float64         `json:"completion_rate"`
	ByAssignee     []RowResponse   `json:"by_assignee"`
	ByType         []RowResponse   `json:"by_type"`
	Period         *PeriodResponse `json:"period,omitempty"`
}

const dateLayout = "2006-01-02"

func demandResponse(d domain.Demand) DemandResponse {
	return DemandResponse{
		ID:              d.ID,
		Title:           d.Title,
		Description:     d.Description,
		Type:            string(d.Type),
		TypeLabel:       d.Type.Label(),
		Status:          string(d.Status),
		LeaderID:        d.LeaderID,
		LeaderConfirmed: d.LeaderConfirmed(),
		AssigneeID:      d.AssigneeID,
		Priority:        string(d.Priority),
		CreatedAt:       d.CreatedAt,
		DueDate:         d.DueDate.Format(dateLayout),
		CompletedAt:     d.CompletedAt,
	}
}

func mapDemands(items []domain.Demand) []DemandResponse {
	out := make([]DemandResponse, 0, len(items))
	for _, d := range items {
		out = append(out, demandResponse(d))
	}
	return out
}

func mapActivity(items []domain.ActivityRecord) []ActivityResponse {
	out := make([]ActivityResponse, 0, len(items))
	for _, r := range items {
		out = append(out, ActivityResponse{
			ID:           r.ID,
			Timestamp:    r.Timestamp,
			DemandID:     r.DemandID,
			Title:        r.Title,
			Type:         string(r.Type),
			Action:       string(r.Action),
			ActorID:      r.ActorID,
			ActorName:    r.ActorName,
			StatusAtTime: string(r.StatusAtTime),
		})
	}
	return out
}

func mapRows(rows []aggregate.Row) []RowResponse {
	out := make([]RowResponse, 0, len(rows))
	for _, r := range rows {
		out = append(out, RowResponse(r))
	}
	return out
}

func dashboardResponse(d aggregate.Dashboard) DashboardResponse {
	resp := DashboardResponse{
		Total:          d.Overall.Total,
		Completed:      d.Overall.Completed,
		CompletionRate: d.Overall.CompletionRate,
		ByAssignee:     mapRows(d.ByAssignee),
		ByType:         mapRows(d.ByType),
	}
	if d.Period != nil {
		resp.Period = &PeriodResponse{
			Start:         d.Period.Start.Format(dateLayout),
			End:           d.Period.End.Format(dateLayout),
			Total:         d.Period.Total,
			DayCount:      d.Period.DayCount,
			AveragePerDay: d.Period.AveragePerDay,
		}
	}
	return resp
}
