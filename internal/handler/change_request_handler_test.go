package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/change-desk-api/internal/dto"
	"github.com/noah-isme/change-desk-api/internal/middleware"
	"github.com/noah-isme/change-desk-api/internal/models"
	"github.com/noah-isme/change-desk-api/internal/service"
	appErrors "github.com/noah-isme/change-desk-api/pkg/errors"
)

type requestServiceMock struct {
	createResp       *models.ChangeRequest
	createErr        error
	getResp          *models.ChangeRequest
	getErr           error
	listResp         []models.ChangeRequest
	listErr          error
	transitionResp   *models.ChangeRequest
	transitionPrev   models.RequestStatus
	transitionErr    error
	updateResp       *models.ChangeRequest
	updateErr        error
	deleteErr        error
	lastQuery        dto.ChangeRequestQuery
	lastTarget       string
	createCalled     bool
	getCalled        bool
	transitionCalled bool
}

func (m *requestServiceMock) Create(ctx context.Context, req dto.CreateChangeRequestRequest, actor *models.JWTClaims) (*models.ChangeRequest, error) {
	m.createCalled = true
	return m.createResp, m.createErr
}

func (m *requestServiceMock) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.ChangeRequest, error) {
	m.getCalled = true
	return m.getResp, m.getErr
}

func (m *requestServiceMock) List(ctx context.Context, query dto.ChangeRequestQuery, actor *models.JWTClaims) ([]models.ChangeRequest, error) {
	m.lastQuery = query
	return m.listResp, m.listErr
}

func (m *requestServiceMock) Transition(ctx context.Context, id, target string, actor *models.JWTClaims) (*models.ChangeRequest, models.RequestStatus, error) {
	m.transitionCalled = true
	m.lastTarget = target
	return m.transitionResp, m.transitionPrev, m.transitionErr
}

func (m *requestServiceMock) Update(ctx context.Context, id string, req dto.UpdateChangeRequestRequest, actor *models.JWTClaims) (*models.ChangeRequest, error) {
	return m.updateResp, m.updateErr
}

func (m *requestServiceMock) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	return m.deleteErr
}

type exportServiceMock struct {
	resp *service.ExportResult
	err  error
}

func (m *exportServiceMock) Export(ctx context.Context, id string, actor *models.JWTClaims) (*service.ExportResult, error) {
	return m.resp, m.err
}

type notifierMock struct {
	dispatched []*models.ChangeRequest
}

type recorderMock struct {
	transitions [][2]string
	exports     int
}

func (m *recorderMock) RecordTransition(from, to string) {
	m.transitions = append(m.transitions, [2]string{from, to})
}

func (m *recorderMock) RecordExport() {
	m.exports++
}

func (m *notifierMock) Dispatch(request *models.ChangeRequest) {
	m.dispatched = append(m.dispatched, request)
}

func sampleRequest(status models.RequestStatus) *models.ChangeRequest {
	return &models.ChangeRequest{
		ID:            "req-1",
		Title:         "t",
		Description:   "d",
		ChangeType:    models.ChangeTypeOther,
		ImpactLevel:   models.ImpactLow,
		ApproverEmail: "ops@example.com",
		Status:        status,
		CreatedBy:     "dev@example.com",
		Version:       1,
	}
}

func testContext(t *testing.T, method, target string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, target, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-1", Email: "dev@example.com"})
	return c, w
}

func TestChangeRequestHandlerCreateDispatchesNotification(t *testing.T) {
	created := sampleRequest(models.StatusPending)
	mockSvc := &requestServiceMock{createResp: created}
	notifier := &notifierMock{}
	handler := NewChangeRequestHandler(mockSvc, nil, notifier, nil)

	payload, _ := json.Marshal(dto.CreateChangeRequestRequest{
		Title:       "t",
		Description: "d",
		ChangeType:  "OTHER",
		ImpactLevel: "LOW",
		Approver:    "ops@example.com",
	})
	c, w := testContext(t, http.MethodPost, "/change-requests", payload)

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, mockSvc.createCalled)
	require.Len(t, notifier.dispatched, 1)
	assert.Equal(t, created.ID, notifier.dispatched[0].ID)
}

func TestChangeRequestHandlerCreateFailureSkipsNotification(t *testing.T) {
	mockSvc := &requestServiceMock{createErr: appErrors.ErrValidation}
	notifier := &notifierMock{}
	handler := NewChangeRequestHandler(mockSvc, nil, notifier, nil)

	payload, _ := json.Marshal(dto.CreateChangeRequestRequest{})
	c, w := testContext(t, http.MethodPost, "/change-requests", payload)

	handler.Create(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, notifier.dispatched)
}

func TestChangeRequestHandlerListParsesQuery(t *testing.T) {
	mockSvc := &requestServiceMock{listResp: []models.ChangeRequest{}}
	handler := NewChangeRequestHandler(mockSvc, nil, nil, nil)

	c, w := testContext(t, http.MethodGet, "/change-requests?status=pending,approved&mine=true&limit=5", nil)

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []models.RequestStatus{models.StatusPending, models.StatusApproved}, mockSvc.lastQuery.Status)
	assert.True(t, mockSvc.lastQuery.Mine)
	assert.Equal(t, 5, mockSvc.lastQuery.Limit)
}

func TestChangeRequestHandlerListRejectsUnknownStatus(t *testing.T) {
	handler := NewChangeRequestHandler(&requestServiceMock{}, nil, nil, nil)

	c, w := testContext(t, http.MethodGet, "/change-requests?status=bogus", nil)

	handler.List(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChangeRequestHandlerTransition(t *testing.T) {
	mockSvc := &requestServiceMock{
		transitionResp: sampleRequest(models.StatusApproved),
		transitionPrev: models.StatusPending,
	}
	handler := NewChangeRequestHandler(mockSvc, nil, nil, nil)

	payload, _ := json.Marshal(dto.TransitionRequest{Status: "APPROVED"})
	c, w := testContext(t, http.MethodPost, "/change-requests/req-1/transition", payload)
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}

	handler.Transition(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, mockSvc.transitionCalled)
	assert.Equal(t, "APPROVED", mockSvc.lastTarget)
}

func TestChangeRequestHandlerTransitionRecordsPreviousStatus(t *testing.T) {
	mockSvc := &requestServiceMock{
		transitionResp: sampleRequest(models.StatusApproved),
		transitionPrev: models.StatusPending,
	}
	recorder := &recorderMock{}
	handler := NewChangeRequestHandler(mockSvc, nil, nil, recorder)

	payload, _ := json.Marshal(dto.TransitionRequest{Status: "APPROVED"})
	c, w := testContext(t, http.MethodPost, "/change-requests/req-1/transition", payload)
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}

	handler.Transition(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, recorder.transitions, 1)
	assert.Equal(t, [2]string{"PENDING", "APPROVED"}, recorder.transitions[0])
	// The before status comes back from the transition itself, no extra read.
	assert.False(t, mockSvc.getCalled)
}

func TestChangeRequestHandlerTransitionForbidden(t *testing.T) {
	mockSvc := &requestServiceMock{
		transitionErr: appErrors.ErrNotAuthorized,
	}
	handler := NewChangeRequestHandler(mockSvc, nil, nil, nil)

	payload, _ := json.Marshal(dto.TransitionRequest{Status: "APPROVED"})
	c, w := testContext(t, http.MethodPost, "/change-requests/req-1/transition", payload)
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}

	handler.Transition(c)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestChangeRequestHandlerExport(t *testing.T) {
	handler := NewChangeRequestHandler(&requestServiceMock{}, &exportServiceMock{
		resp: &service.ExportResult{
			Filename:    "change-request-req-1.pdf",
			ContentType: "application/pdf",
			Content:     []byte("%PDF-1.4"),
		},
	}, nil, nil)

	c, w := testContext(t, http.MethodGet, "/change-requests/req-1/export", nil)
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}

	handler.Export(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "change-request-req-1.pdf")
}

func TestChangeRequestHandlerRequiresClaims(t *testing.T) {
	handler := NewChangeRequestHandler(&requestServiceMock{}, nil, nil, nil)

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, err := http.NewRequest(http.MethodGet, "/change-requests", nil)
	require.NoError(t, err)
	c.Request = req

	handler.List(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
