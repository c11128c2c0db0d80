package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/rfdias/zapagent/internal/domain"
	"github.com/rfdias/zapagent/internal/provider"
	"github.com/rfdias/zapagent/internal/reconcile"
	"github.com/rfdias/zapagent/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeService scripts the management service per test.
type fakeService struct {
	createFn  func(ctx context.Context, name string) (*domain.Instance, error)
	getFn     func(ctx context.Context, id string) (*domain.Instance, error)
	listFn    func(ctx context.Context, offset, limit int) ([]domain.Instance, int64, error)
	deleteFn  func(ctx context.Context, id string) error
	restartFn func(ctx context.Context, id string) error
	logoutFn  func(ctx context.Context, id string) error
	syncFn    func(ctx context.Context, id string) (*reconcile.SyncSummary, error)
	saveFn    func(ctx context.Context, instanceID string, ac *domain.AgentConfig) (*domain.AgentConfig, error)
	getAgFn   func(ctx context.Context, instanceID string) (*domain.AgentConfig, error)
}

func (f *fakeService) Create(ctx context.Context, name string) (*domain.Instance, error) {
	return f.createFn(ctx, name)
}

func (f *fakeService) Get(ctx context.Context, id string) (*domain.Instance, error) {
	return f.getFn(ctx, id)
}

func (f *fakeService) List(ctx context.Context, offset, limit int) ([]domain.Instance, int64, error) {
	return f.listFn(ctx, offset, limit)
}

func (f *fakeService) Delete(ctx context.Context, id string) error { return f.deleteFn(ctx, id) }

func (f *fakeService) Connect(ctx context.Context, id string) (*provider.QRCode, error) {
	return &provider.QRCode{Code: "qr-data"}, nil
}

func (f *fakeService) Restart(ctx context.Context, id string) error {
	if f.restartFn != nil {
		return f.restartFn(ctx, id)
	}
	return nil
}

func (f *fakeService) Logout(ctx context.Context, id string) error {
	if f.logoutFn != nil {
		return f.logoutFn(ctx, id)
	}
	return nil
}

func (f *fakeService) Status(ctx context.Context, id string) (*domain.Instance, error) {
	return f.getFn(ctx, id)
}

func (f *fakeService) Sync(ctx context.Context, id string) (*reconcile.SyncSummary, error) {
	return f.syncFn(ctx, id)
}

func (f *fakeService) SaveAgent(ctx context.Context, instanceID string, ac *domain.AgentConfig) (*domain.AgentConfig, error) {
	return f.saveFn(ctx, instanceID, ac)
}

func (f *fakeService) GetAgent(ctx context.Context, instanceID string) (*domain.AgentConfig, error) {
	return f.getAgFn(ctx, instanceID)
}

func newRouter(svc InstanceService) *gin.Engine {
	r := gin.New()
	h := New(svc)
	r.POST("/instances", h.CreateInstance)
	r.GET("/instances", h.ListInstances)
	r.GET("/instances/:id", h.GetInstance)
	r.DELETE("/instances/:id", h.DeleteInstance)
	r.POST("/instances/:id/restart", h.RestartInstance)
	r.POST("/instances/:id/logout", h.LogoutInstance)
	r.GET("/instances/:id/status", h.InstanceStatus)
	r.POST("/instances/:id/sync", h.SyncInstance)
	r.PUT("/instances/:id/agent", h.SaveAgent)
	r.GET("/instances/:id/agent", h.GetAgent)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateInstance(t *testing.T) {
	svc := &fakeService{
		createFn: func(ctx context.Context, name string) (*domain.Instance, error) {
			return &domain.Instance{ID: "id-1", Name: name, Status: domain.InstanceCreated}, nil
		},
	}
	r := newRouter(svc)

	w := doJSON(t, r, http.MethodPost, "/instances", `{"name":"shop"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	var inst domain.Instance
	if err := json.Unmarshal(w.Body.Bytes(), &inst); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if inst.Name != "shop" || inst.Status != domain.InstanceCreated {
		t.Fatalf("instance: %#v", inst)
	}
}

func TestCreateInstance_BadPayloads(t *testing.T) {
	svc := &fakeService{
		createFn: func(ctx context.Context, name string) (*domain.Instance, error) {
			t.Fatal("service must not be reached")
			return nil, nil
		},
	}
	r := newRouter(svc)

	for _, body := range []string{``, `{`, `{"name":"ab"}`} {
		w := doJSON(t, r, http.MethodPost, "/instances", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d", body, w.Code)
		}
		var resp ErrorResponse
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
		if resp.Code != ErrCodeBadRequest {
			t.Errorf("body %q: code = %q", body, resp.Code)
		}
	}
}

func TestCreateInstance_ErrorMapping(t *testing.T) {
	cases := []struct {
		err      error
		status   int
		code     string
	}{
		{services.ErrInvalidName, http.StatusBadRequest, ErrCodeBadRequest},
		{services.ErrInstanceExists, http.StatusConflict, ErrCodeConflict},
		{&provider.StatusError{Code: 503, Body: "down"}, http.StatusBadGateway, ErrCodeProviderDown},
		{fmt.Errorf("disk full"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tc := range cases {
		svc := &fakeService{
			createFn: func(ctx context.Context, name string) (*domain.Instance, error) {
				return nil, tc.err
			},
		}
		w := doJSON(t, newRouter(svc), http.MethodPost, "/instances", `{"name":"shop"}`)
		if w.Code != tc.status {
			t.Errorf("%v: status = %d; want %d", tc.err, w.Code, tc.status)
		}
		var resp ErrorResponse
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
		if resp.Code != tc.code {
			t.Errorf("%v: code = %q; want %q", tc.err, resp.Code, tc.code)
		}
	}
}

func TestListInstances_Pagination(t *testing.T) {
	var gotOffset, gotLimit int
	svc := &fakeService{
		listFn: func(ctx context.Context, offset, limit int) ([]domain.Instance, int64, error) {
			gotOffset, gotLimit = offset, limit
			return []domain.Instance{{ID: "a"}, {ID: "b"}}, 42, nil
		},
	}
	r := newRouter(svc)

	w := doJSON(t, r, http.MethodGet, "/instances?page=3&page_size=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if gotOffset != 20 || gotLimit != 10 {
		t.Fatalf("offset=%d limit=%d", gotOffset, gotLimit)
	}
	var resp ListInstancesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Pagination.Total != 42 || resp.Pagination.TotalPages != 5 || !resp.Pagination.HasNext {
		t.Fatalf("pagination: %+v", resp.Pagination)
	}
}

func TestListInstances_ClampsPageSize(t *testing.T) {
	var gotLimit int
	svc := &fakeService{
		listFn: func(ctx context.Context, offset, limit int) ([]domain.Instance, int64, error) {
			gotLimit = limit
			return nil, 0, nil
		},
	}
	doJSON(t, newRouter(svc), http.MethodGet, "/instances?page_size=9999", "")
	if gotLimit != 100 {
		t.Fatalf("limit = %d; want clamp to 100", gotLimit)
	}
}

func TestGetInstance_NotFound(t *testing.T) {
	svc := &fakeService{
		getFn: func(ctx context.Context, id string) (*domain.Instance, error) {
			return nil, services.ErrInstanceNotFound
		},
	}
	w := doJSON(t, newRouter(svc), http.MethodGet, "/instances/ghost", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestDeleteInstance_NoContent(t *testing.T) {
	svc := &fakeService{
		deleteFn: func(ctx context.Context, id string) error { return nil },
	}
	w := doJSON(t, newRouter(svc), http.MethodDelete, "/instances/id-1", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Fatalf("204 must carry no body, got %q", w.Body.String())
	}
}

func TestRestartInstance(t *testing.T) {
	var got string
	svc := &fakeService{
		restartFn: func(ctx context.Context, id string) error { got = id; return nil },
	}
	w := doJSON(t, newRouter(svc), http.MethodPost, "/instances/id-1/restart", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got != "id-1" {
		t.Fatalf("restarted id = %q", got)
	}
	if !strings.Contains(w.Body.String(), "restarting") {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestLogoutInstance_UnknownID(t *testing.T) {
	svc := &fakeService{
		logoutFn: func(ctx context.Context, id string) error { return services.ErrInstanceNotFound },
	}
	w := doJSON(t, newRouter(svc), http.MethodPost, "/instances/ghost/logout", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestInstanceStatus_Shape(t *testing.T) {
	svc := &fakeService{
		getFn: func(ctx context.Context, id string) (*domain.Instance, error) {
			return &domain.Instance{ID: id, Name: "shop", Status: domain.InstanceConnected, Number: "secret"}, nil
		},
	}
	w := doJSON(t, newRouter(svc), http.MethodGet, "/instances/id-1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["status"] != domain.InstanceConnected || body["name"] != "shop" {
		t.Fatalf("body: %#v", body)
	}
	if _, leaked := body["number"]; leaked {
		t.Fatal("status endpoint returns only id, name, status")
	}
}

func TestSyncInstance(t *testing.T) {
	svc := &fakeService{
		syncFn: func(ctx context.Context, id string) (*reconcile.SyncSummary, error) {
			return &reconcile.SyncSummary{Contacts: 2, Chats: 3, Messages: 40}, nil
		},
	}
	w := doJSON(t, newRouter(svc), http.MethodPost, "/instances/id-1/sync", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var sum reconcile.SyncSummary
	_ = json.Unmarshal(w.Body.Bytes(), &sum)
	if sum.Messages != 40 {
		t.Fatalf("summary: %+v", sum)
	}
}

func TestSyncInstance_ProviderFailure(t *testing.T) {
	svc := &fakeService{
		syncFn: func(ctx context.Context, id string) (*reconcile.SyncSummary, error) {
			return nil, fmt.Errorf("provider timeout")
		},
	}
	w := doJSON(t, newRouter(svc), http.MethodPost, "/instances/id-1/sync", "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", w.Code)
	}
	var resp ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Code != ErrCodeSyncFailed {
		t.Fatalf("code = %q", resp.Code)
	}
}

func TestSaveAgent(t *testing.T) {
	var gotID string
	var gotAC *domain.AgentConfig
	svc := &fakeService{
		saveFn: func(ctx context.Context, instanceID string, ac *domain.AgentConfig) (*domain.AgentConfig, error) {
			gotID, gotAC = instanceID, ac
			ac.ID = "agent-1"
			return ac, nil
		},
	}
	w := doJSON(t, newRouter(svc), http.MethodPut, "/instances/id-1/agent",
		`{"active":true,"model":" gpt-4o-mini ","system_prompt":"Be brief.","max_per_minute":6}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if gotID != "id-1" {
		t.Fatalf("instance id = %q", gotID)
	}
	if !gotAC.Active || gotAC.Model != "gpt-4o-mini" || gotAC.MaxPerMinute != 6 {
		t.Fatalf("bound config: %#v", gotAC)
	}
}

func TestSaveAgent_ValidationBounds(t *testing.T) {
	svc := &fakeService{
		saveFn: func(ctx context.Context, instanceID string, ac *domain.AgentConfig) (*domain.AgentConfig, error) {
			t.Fatal("service must not be reached")
			return nil, nil
		},
	}
	r := newRouter(svc)
	for _, body := range []string{
		`{"temperature":3.0}`,
		`{"max_per_minute":61}`,
		`{"max_tokens":0,"max_consecutive":101}`,
	} {
		w := doJSON(t, r, http.MethodPut, "/instances/id-1/agent", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d", body, w.Code)
		}
	}
}

func TestGetAgent_NotFound(t *testing.T) {
	svc := &fakeService{
		getAgFn: func(ctx context.Context, instanceID string) (*domain.AgentConfig, error) {
			return nil, services.ErrAgentNotFound
		},
	}
	w := doJSON(t, newRouter(svc), http.MethodGet, "/instances/id-1/agent", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}
