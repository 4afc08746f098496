package scheduler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowty/flowty/internal/domain"
)

func newTestAdmin(t *testing.T) (*AdminServer, *fakeStore, *Scheduler) {
	t.Helper()
	store := newFakeStore()
	sched := New(store, &fakeRunner{}, time.Minute, nil)
	admin := NewAdminServer(store, sched, nil)
	return admin, store, sched
}

func TestAdminSubmitWorkflow(t *testing.T) {
	admin, store, _ := newTestAdmin(t)
	def := testDefinition("wf", "* * * * * *", 1)
	body, err := json.Marshal(def)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/workflows", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	admin.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	_ = store
}

func TestAdminRunRequiresLoadedWorkflow(t *testing.T) {
	admin, _, _ := newTestAdmin(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/workflows/unknown/run", nil)
	rec := httptest.NewRecorder()
	admin.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRunAndInstances(t *testing.T) {
	admin, store, sched := newTestAdmin(t)

	wf, err := NewWorkflow(testDefinition("wf", "* * * * * *", 2), nil)
	require.NoError(t, err)
	sched.mu.Lock()
	sched.workflows["wf"] = wf
	sched.mu.Unlock()

	req := httptest.NewRequest(http.MethodPost, "/v1/workflows/wf/run", nil)
	rec := httptest.NewRecorder()
	admin.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created instanceStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, domain.RunStateQueued, created.RunState)
	assert.Equal(t, 1, store.inserts)

	req = httptest.NewRequest(http.MethodGet, "/v1/workflows/wf/instances", nil)
	rec = httptest.NewRecorder()
	admin.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var instances []instanceStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&instances))
	require.Len(t, instances, 1)
	assert.Equal(t, created.WIID, instances[0].WIID)
}

func TestAdminRunRespectsActiveRunCap(t *testing.T) {
	admin, _, sched := newTestAdmin(t)

	wf, err := NewWorkflow(testDefinition("wf", "* * * * * *", 1), nil)
	require.NoError(t, err)
	sched.mu.Lock()
	sched.workflows["wf"] = wf
	sched.mu.Unlock()

	req := httptest.NewRequest(http.MethodPost, "/v1/workflows/wf/run", nil)
	rec := httptest.NewRecorder()
	admin.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/workflows/wf/run", nil)
	rec = httptest.NewRecorder()
	admin.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
