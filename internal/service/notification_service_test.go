package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/change-desk-api/internal/models"
	appErrors "github.com/noah-isme/change-desk-api/pkg/errors"
)

type mailSenderStub struct {
	mu      sync.Mutex
	sent    []sentMail
	failure error
}

type sentMail struct {
	to      []string
	cc      []string
	subject string
	body    string
}

func (m *mailSenderStub) Send(ctx context.Context, to, cc []string, subject, htmlBody string) error {
	if m.failure != nil {
		return m.failure
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to: to, cc: cc, subject: subject, body: htmlBody})
	return nil
}

func (m *mailSenderStub) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func pendingRequest() *models.ChangeRequest {
	downtime := "30 minutes"
	rollback := "restore snapshot"
	return &models.ChangeRequest{
		ID:               "req-1",
		Title:            "Patch auth service",
		Description:      "Apply security patch to the auth service",
		ChangeType:       models.ChangeTypeSecurity,
		ImpactLevel:      models.ImpactMedium,
		ExpectedDowntime: &downtime,
		RollbackPlan:     &rollback,
		ApproverEmail:    "ops@example.com",
		Status:           models.StatusPending,
		CreatedBy:        "dev@example.com",
	}
}

func TestNotifyApprover(t *testing.T) {
	sender := &mailSenderStub{}
	svc := NewNotificationService(sender, nil, nil, NotificationServiceConfig{
		Enabled: true,
		CC:      []string{"change-board@example.com"},
	})

	err := svc.NotifyApprover(context.Background(), pendingRequest())
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)

	mail := sender.sent[0]
	assert.Equal(t, []string{"ops@example.com"}, mail.to)
	assert.Equal(t, []string{"change-board@example.com"}, mail.cc)
	assert.Equal(t, "Change Request: Patch auth service", mail.subject)
	assert.Contains(t, mail.body, "Security")
	assert.Contains(t, mail.body, "Medium")
	assert.Contains(t, mail.body, "restore snapshot")
	assert.Contains(t, mail.body, "dev@example.com")
}

func TestNotifyApproverOmitsEmptyRollbackPlan(t *testing.T) {
	sender := &mailSenderStub{}
	svc := NewNotificationService(sender, nil, nil, NotificationServiceConfig{Enabled: true})

	request := pendingRequest()
	request.RollbackPlan = nil
	request.ExpectedDowntime = nil

	err := svc.NotifyApprover(context.Background(), request)
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.NotContains(t, sender.sent[0].body, "Rollback Plan")
	assert.NotContains(t, sender.sent[0].body, "Expected Downtime")
}

func TestNotifyApproverEscapesHTML(t *testing.T) {
	sender := &mailSenderStub{}
	svc := NewNotificationService(sender, nil, nil, NotificationServiceConfig{Enabled: true})

	request := pendingRequest()
	request.Title = "<script>alert(1)</script>"

	err := svc.NotifyApprover(context.Background(), request)
	require.NoError(t, err)
	assert.NotContains(t, sender.sent[0].body, "<script>")
}

func TestNotifyApproverFailure(t *testing.T) {
	sender := &mailSenderStub{failure: errors.New("smtp unreachable")}
	svc := NewNotificationService(sender, nil, nil, NotificationServiceConfig{Enabled: true})

	err := svc.NotifyApprover(context.Background(), pendingRequest())
	require.Error(t, err)
	assert.Equal(t, "NOTIFICATION_FAILED", appErrors.FromError(err).Code)
}

type notificationRecorderStub struct {
	mu       sync.Mutex
	outcomes []bool
}

func (r *notificationRecorderStub) RecordNotification(success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, success)
}

func TestNotifyApproverRecordsOutcome(t *testing.T) {
	recorder := &notificationRecorderStub{}
	sender := &mailSenderStub{}
	svc := NewNotificationService(sender, recorder, nil, NotificationServiceConfig{Enabled: true})

	require.NoError(t, svc.NotifyApprover(context.Background(), pendingRequest()))
	assert.Equal(t, []bool{true}, recorder.outcomes)

	failing := NewNotificationService(&mailSenderStub{failure: errors.New("smtp unreachable")}, recorder, nil,
		NotificationServiceConfig{Enabled: true})
	require.Error(t, failing.NotifyApprover(context.Background(), pendingRequest()))
	assert.Equal(t, []bool{true, false}, recorder.outcomes)
}

func TestDispatchDeliversAsync(t *testing.T) {
	sender := &mailSenderStub{}
	svc := NewNotificationService(sender, nil, nil, NotificationServiceConfig{
		Enabled:     true,
		Workers:     1,
		SendTimeout: time.Second,
	})
	svc.Start(context.Background())
	defer svc.Stop()

	svc.Dispatch(pendingRequest())

	require.Eventually(t, func() bool {
		return sender.count() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatchDisabled(t *testing.T) {
	sender := &mailSenderStub{}
	svc := NewNotificationService(sender, nil, nil, NotificationServiceConfig{Enabled: false, Workers: 1})
	svc.Start(context.Background())
	defer svc.Stop()

	svc.Dispatch(pendingRequest())
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, sender.count())
}
