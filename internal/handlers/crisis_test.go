package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"crisis-comms/internal/crisis"
	"crisis-comms/internal/mocks"
	"crisis-comms/internal/models"
	"crisis-comms/internal/responders"
	"crisis-comms/internal/scheduler"
	"crisis-comms/internal/store"
)

func setupCrisisRouter(handler *CrisisHandler, role string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", "caller")
		c.Set("role", role)
		c.Next()
	})
	r.GET("/crisis/alerts/active", handler.ListActiveAlerts)
	r.GET("/crisis/alerts/:alert_id/audit", handler.GetAlertAudit)
	return r
}

func newCrisisEngine(t *testing.T, st *store.Store) *crisis.Engine {
	t.Helper()
	sched := scheduler.New()
	t.Cleanup(sched.Stop)
	return crisis.NewEngine(st, nil, &responders.StaticDirectory{}, nil, nil, sched, nil, time.Minute)
}

func TestListActiveAlertsRoleGated(t *testing.T) {
	st := store.New()
	handler := NewCrisisHandler(newCrisisEngine(t, st), nil)

	req := httptest.NewRequest(http.MethodGet, "/crisis/alerts/active", nil)
	rec := httptest.NewRecorder()
	setupCrisisRouter(handler, "member").ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListActiveAlertsSkipsResolved(t *testing.T) {
	st := store.New()
	st.PutAlert(models.CrisisAlert{ID: "a1", UserID: "u1", Status: models.AlertActive})
	st.PutAlert(models.CrisisAlert{ID: "a2", UserID: "u2", Status: models.AlertResolved})

	handler := NewCrisisHandler(newCrisisEngine(t, st), nil)

	req := httptest.NewRequest(http.MethodGet, "/crisis/alerts/active", nil)
	rec := httptest.NewRecorder()
	setupCrisisRouter(handler, "crisis_responder").ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Alerts []models.CrisisAlert `json:"alerts"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Alerts, 1)
	assert.Equal(t, "a1", resp.Alerts[0].ID)
}

func TestGetAlertAudit(t *testing.T) {
	st := store.New()
	repo := new(mocks.CrisisRepositoryMock)
	repo.On("ListAuditEntries", mock.Anything, "a1").
		Return([]models.CrisisAuditEntry{{AlertID: "a1", Event: "triggered"}}, nil).Once()

	handler := NewCrisisHandler(newCrisisEngine(t, st), repo)

	req := httptest.NewRequest(http.MethodGet, "/crisis/alerts/a1/audit", nil)
	rec := httptest.NewRecorder()
	setupCrisisRouter(handler, "therapist").ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	repo.AssertExpectations(t)
}
