package domain

import (
	"fmt"
	"strings"
	"time"
)

// DemandType is the closed set of work categories.
type DemandType string

const (
	TypeBillingRequest  DemandType = "billing_request"
	TypeAnalysisReturn  DemandType = "analysis_return"
	TypeProposal        DemandType = "proposal"
	TypeDraft           DemandType = "draft"
	TypePowerOfAttorney DemandType = "power_of_attorney"
	TypeClientContact   DemandType = "client_contact"
)

// DemandTypes lists every type in declaration order.
func DemandTypes() []DemandType {
	return []DemandType{
		TypeBillingRequest,
		TypeAnalysisReturn,
		TypeProposal,
		TypeDraft,
		TypePowerOfAttorney,
		TypeClientContact,
	}
}

func (t DemandType) Label() string {
	switch t {
	case TypeBillingRequest:
		return "Billing Request"
	case TypeAnalysisReturn:
		return "Analysis Return"
	case TypeProposal:
		return "Proposal"
	case TypeDraft:
		return "Draft"
	case TypePowerOfAttorney:
		return "Power of Attorney"
	case TypeClientContact:
		return "Client Contact"
	}
	return string(t)
}

func (t DemandType) Valid() bool {
	switch t {
	case TypeBillingRequest, TypeAnalysisReturn, TypeProposal, TypeDraft, TypePowerOfAttorney, TypeClientContact:
		return true
	}
	return false
}

// ParseDemandType accepts the wire value or the display label.
func ParseDemandType(s string) (DemandType, error) {
	in := strings.TrimSpace(s)
	for _, t := range DemandTypes() {
		if string(t) == in || strings.EqualFold(t.Label(), in) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown demand type %q", s)
}

// Status is the lifecycle state of a demand: pending -> completed -> confirmed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusConfirmed Status = "confirmed"
)

func Statuses() []Status {
	return []Status{StatusPending, StatusCompleted, StatusConfirmed}
}

func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusCompleted:
		return "Completed"
	case StatusConfirmed:
		return "Confirmed"
	}
	return string(s)
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusConfirmed:
		return true
	}
	return false
}

// Done reports whether the work itself is finished, confirmed or not.
func (s Status) Done() bool {
	return s == StatusCompleted || s == StatusConfirmed
}

func ParseStatus(s string) (Status, error) {
	in := Status(strings.ToLower(strings.TrimSpace(s)))
	if !in.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return in, nil
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func Priorities() []Priority {
	return []Priority{PriorityLow, PriorityMedium, PriorityHigh}
}

func (p Priority) Label() string {
	switch p {
	case PriorityLow:
		return "Low"
	case PriorityMedium:
		return "Medium"
	case PriorityHigh:
		return "High"
	}
	return string(p)
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

func ParsePriority(s string) (Priority, error) {
	in := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !in.Valid() {
		return "", fmt.Errorf("unknown priority %q", s)
	}
	return in, nil
}

// Role decides what an identity may do.
type Role string

const (
	RoleLeader       Role = "leader"
	RoleCollaborator Role = "collaborator"
)

func (r Role) Valid() bool {
	switch r {
	case RoleLeader, RoleCollaborator:
		return true
	}
	return false
}

// Action is what an activity record logs.
type Action string

const (
	ActionCreated   Action = "created"
	ActionCompleted Action = "completed"
	ActionConfirmed Action = "confirmed"
)

func (a Action) Label() string {
	switch a {
	case ActionCreated:
		return "Created"
	case ActionCompleted:
		return "Completed"
	case ActionConfirmed:
		return "Confirmed"
	}
	return string(a)
}

type Identity struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Role Role   `json:"role" yaml:"role" enum:"leader,collaborator"`
}

type Demand struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Type        DemandType `json:"type" enum:"billing_request,analysis_return,proposal,draft,power_of_attorney,client_contact"`
	Status      Status     `json:"status" enum:"pending,completed,confirmed"`
	LeaderID    string     `json:"leader_id"`
	AssigneeID  string     `json:"assignee_id"`
	Priority    Priority   `json:"priority" enum:"low,medium,high"`
	CreatedAt   time.Time  `json:"created_at" format:"date-time"`
	DueDate     time.Time  `json:"due_date" format:"date"`
	CompletedAt *time.Time `json:"completed_at,omitempty" format:"date-time"`
}

// LeaderConfirmed is derived from the status; there is no separate flag.
func (d Demand) LeaderConfirmed() bool {
	return d.Status == StatusConfirmed
}

// ActivityRecord is an immutable ledger entry. Title and Type are
// snapshots taken when the action happened.
type ActivityRecord struct {
	ID           int64      `json:"id"`
	Timestamp    time.Time  `json:"timestamp" format:"date-time"`
	DemandID     int64      `json:"demand_id"`
	Title        string     `json:"title"`
	Type         DemandType `json:"type"`
	Action       Action     `json:"action" enum:"created,completed,confirmed"`
	ActorID      string     `json:"actor_id"`
	ActorName    string     `json:"actor_name"`
	StatusAtTime Status     `json:"status_at_time"`
}

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
