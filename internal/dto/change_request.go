package dto

import "github.com/noah-isme/change-desk-api/internal/models"

// CreateChangeRequestRequest carries the payload for submitting a new change.
type CreateChangeRequestRequest struct {
	Title            string  `json:"title"`
	Description      string  `json:"description"`
	ChangeType       string  `json:"changeType"`
	ImpactLevel      string  `json:"impactLevel"`
	ExpectedDowntime *string `json:"expectedDowntime,omitempty"`
	RollbackPlan     *string `json:"rollbackPlan,omitempty"`
	Approver         string  `json:"approver"`
}

// UpdateChangeRequestRequest edits a pending request. Approver and status are
// deliberately absent; both are immutable through this operation.
type UpdateChangeRequestRequest struct {
	Title            string  `json:"title"`
	Description      string  `json:"description"`
	ChangeType       string  `json:"changeType"`
	ImpactLevel      string  `json:"impactLevel"`
	ExpectedDowntime *string `json:"expectedDowntime,omitempty"`
	RollbackPlan     *string `json:"rollbackPlan,omitempty"`
}

// TransitionRequest asks the lifecycle engine to move a request to a target status.
type TransitionRequest struct {
	Status string `json:"status" validate:"required"`
}

// ChangeRequestQuery filters listing endpoints.
type ChangeRequestQuery struct {
	Status     []models.RequestStatus
	ChangeType string
	Mine       bool
	Limit      int
	Offset     int
}
