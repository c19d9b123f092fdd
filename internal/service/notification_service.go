package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/change-desk-api/internal/models"
	appErrors "github.com/noah-isme/change-desk-api/pkg/errors"
	"github.com/noah-isme/change-desk-api/pkg/jobs"
)

type mailSender interface {
	Send(ctx context.Context, to, cc []string, subject, htmlBody string) error
}

type notificationRecorder interface {
	RecordNotification(success bool)
}

// NotificationServiceConfig tunes delivery behaviour.
type NotificationServiceConfig struct {
	Enabled     bool
	CC          []string
	Workers     int
	MaxRetries  int
	RetryDelay  time.Duration
	SendTimeout time.Duration
}

// NotificationService emails the designated approver when a request is
// created. Delivery is best effort: a failed send never rolls back the
// request that triggered it.
type NotificationService struct {
	sender  mailSender
	metrics notificationRecorder
	logger  *zap.Logger
	cfg     NotificationServiceConfig
	queue   *jobs.Queue
}

// NewNotificationService constructs the service and its background queue.
func NewNotificationService(sender mailSender, metrics notificationRecorder, logger *zap.Logger, cfg NotificationServiceConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	s := &NotificationService{
		sender:  sender,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
	}
	s.queue = jobs.NewQueue("approver-notifications", s.handleJob, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return s
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	if s == nil {
		return
	}
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *NotificationService) Stop() {
	if s == nil {
		return
	}
	s.queue.Stop()
}

// Dispatch queues an approver notification for the request. Queue pressure is
// logged and dropped, the caller's write has already committed.
func (s *NotificationService) Dispatch(request *models.ChangeRequest) {
	if s == nil || !s.cfg.Enabled || request == nil {
		return
	}
	job := jobs.Job{
		ID:      uuid.NewString(),
		Type:    "approver_notification",
		Payload: *request,
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("failed to queue approver notification",
			zap.Error(err), zap.String("request_id", request.ID))
	}
}

func (s *NotificationService) handleJob(ctx context.Context, job jobs.Job) error {
	request, ok := job.Payload.(models.ChangeRequest)
	if !ok {
		s.logger.Error("unexpected notification payload", zap.String("job_id", job.ID))
		return nil
	}
	return s.NotifyApprover(ctx, &request)
}

// NotifyApprover sends the summary mail to the request's approver.
func (s *NotificationService) NotifyApprover(ctx context.Context, request *models.ChangeRequest) error {
	if request == nil || request.ApproverEmail == "" {
		return nil
	}
	subject := fmt.Sprintf("Change Request: %s", request.Title)
	body := renderApproverMail(request)

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	if err := s.sender.Send(sendCtx, []string{request.ApproverEmail}, s.cfg.CC, subject, body); err != nil {
		s.recordOutcome(false)
		s.logger.Error("approver notification failed",
			zap.Error(err),
			zap.String("request_id", request.ID),
			zap.String("approver", request.ApproverEmail))
		return appErrors.Wrap(err, appErrors.ErrNotificationFailed.Code, appErrors.ErrNotificationFailed.Status,
			"failed to notify approver")
	}
	s.recordOutcome(true)
	s.logger.Info("approver notified",
		zap.String("request_id", request.ID),
		zap.String("approver", request.ApproverEmail))
	return nil
}

func (s *NotificationService) recordOutcome(success bool) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordNotification(success)
}

// renderApproverMail builds the HTML summary. The rollback plan row only
// appears when a plan was provided.
func renderApproverMail(request *models.ChangeRequest) string {
	var b strings.Builder
	b.WriteString("<h2>New Change Request Awaiting Review</h2>")
	b.WriteString("<table cellpadding=\"6\" style=\"border-collapse:collapse\">")
	writeMailRow(&b, "Title", request.Title)
	writeMailRow(&b, "Description", request.Description)
	writeMailRow(&b, "Change Type", request.ChangeType.Label())
	writeMailRow(&b, "Impact Level", request.ImpactLevel.Label())
	if request.ExpectedDowntime != nil && *request.ExpectedDowntime != "" {
		writeMailRow(&b, "Expected Downtime", *request.ExpectedDowntime)
	}
	if request.RollbackPlan != nil && *request.RollbackPlan != "" {
		writeMailRow(&b, "Rollback Plan", *request.RollbackPlan)
	}
	writeMailRow(&b, "Submitted By", request.CreatedBy)
	writeMailRow(&b, "Status", request.Status.Label())
	b.WriteString("</table>")
	b.WriteString("<p>Please review and approve or deny this request.</p>")
	return b.String()
}

func writeMailRow(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "<tr><td style=\"font-weight:bold\">%s</td><td>%s</td></tr>",
		html.EscapeString(label), html.EscapeString(value))
}
