package service

import (
	"context"
	"errors"

	appErrors "github.com/noah-isme/change-desk-api/pkg/errors"
)

// wrapCollaborator normalises a failure from an external collaborator call.
// Deadline expiry surfaces as the distinct TIMEOUT kind.
func wrapCollaborator(err error, message string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return appErrors.Wrap(err, appErrors.ErrTimeout.Code, appErrors.ErrTimeout.Status, message)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}
