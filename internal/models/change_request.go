package models

import "time"

// ChangeType enumerates supported change categories.
type ChangeType string

const (
	ChangeTypeSoftware ChangeType = "SOFTWARE"
	ChangeTypeHardware ChangeType = "HARDWARE"
	ChangeTypeNetwork  ChangeType = "NETWORK"
	ChangeTypeSecurity ChangeType = "SECURITY"
	ChangeTypeOther    ChangeType = "OTHER"
)

// Valid reports whether the change type is a known category.
func (t ChangeType) Valid() bool {
	switch t {
	case ChangeTypeSoftware, ChangeTypeHardware, ChangeTypeNetwork, ChangeTypeSecurity, ChangeTypeOther:
		return true
	}
	return false
}

// Label returns the human readable form used in documents and mail.
func (t ChangeType) Label() string {
	switch t {
	case ChangeTypeSoftware:
		return "Software"
	case ChangeTypeHardware:
		return "Hardware"
	case ChangeTypeNetwork:
		return "Network"
	case ChangeTypeSecurity:
		return "Security"
	case ChangeTypeOther:
		return "Other"
	}
	return string(t)
}

// ImpactLevel enumerates the assessed impact of a change.
type ImpactLevel string

const (
	ImpactLow    ImpactLevel = "LOW"
	ImpactMedium ImpactLevel = "MEDIUM"
	ImpactHigh   ImpactLevel = "HIGH"
)

// Valid reports whether the impact level is known.
func (l ImpactLevel) Valid() bool {
	switch l {
	case ImpactLow, ImpactMedium, ImpactHigh:
		return true
	}
	return false
}

// Label returns the human readable form used in documents and mail.
func (l ImpactLevel) Label() string {
	switch l {
	case ImpactLow:
		return "Low"
	case ImpactMedium:
		return "Medium"
	case ImpactHigh:
		return "High"
	}
	return string(l)
}

// RequestStatus captures the approval lifecycle states of a change request.
type RequestStatus string

const (
	StatusPending     RequestStatus = "PENDING"
	StatusApproved    RequestStatus = "APPROVED"
	StatusDenied      RequestStatus = "DENIED"
	StatusImplemented RequestStatus = "IMPLEMENTED"
	StatusCompleted   RequestStatus = "COMPLETED"
)

// requestTransitions is the directed transition graph. Anything absent here is
// rejected, including a transition into the current status.
var requestTransitions = map[RequestStatus][]RequestStatus{
	StatusPending:     {StatusApproved, StatusDenied},
	StatusApproved:    {StatusImplemented},
	StatusImplemented: {StatusCompleted},
}

// Valid reports whether the status is a known lifecycle state.
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusDenied, StatusImplemented, StatusCompleted:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status may move to target.
func (s RequestStatus) CanTransitionTo(target RequestStatus) bool {
	for _, next := range requestTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is defined from this status.
func (s RequestStatus) Terminal() bool {
	return len(requestTransitions[s]) == 0
}

// Label returns the human readable form used in documents and mail.
func (s RequestStatus) Label() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusApproved:
		return "Approved"
	case StatusDenied:
		return "Denied"
	case StatusImplemented:
		return "Implemented"
	case StatusCompleted:
		return "Completed"
	}
	return string(s)
}

// ChangeRequest is a tracked change moving through the approval lifecycle.
type ChangeRequest struct {
	ID               string        `db:"id" json:"id"`
	Title            string        `db:"title" json:"title"`
	Description      string        `db:"description" json:"description"`
	ChangeType       ChangeType    `db:"change_type" json:"changeType"`
	ImpactLevel      ImpactLevel   `db:"impact_level" json:"impactLevel"`
	ExpectedDowntime *string       `db:"expected_downtime" json:"expectedDowntime,omitempty"`
	RollbackPlan     *string       `db:"rollback_plan" json:"rollbackPlan,omitempty"`
	ApproverEmail    string        `db:"approver_email" json:"approver"`
	Status           RequestStatus `db:"status" json:"status"`
	CreatedBy        string        `db:"created_by" json:"createdBy"`
	Version          int           `db:"version" json:"version"`
	CreatedAt        time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updatedAt"`
	Attachments      []Attachment  `db:"-" json:"attachments"`
}

// ChangeRequestFilter constrains listing queries.
type ChangeRequestFilter struct {
	Status        []RequestStatus
	ChangeType    ChangeType
	CreatedBy     string
	ApproverEmail string
	Limit         int
	Offset        int
}
