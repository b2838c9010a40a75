package router

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	apiHandler "github.com/fastygo/planner/api/handler"
	"github.com/fastygo/planner/domain"
	"github.com/fastygo/planner/internal/infrastructure/monitor"
	"github.com/fastygo/planner/internal/metrics"
	"github.com/fastygo/planner/internal/middleware"
	"github.com/fastygo/planner/internal/notify"
	"github.com/fastygo/planner/pkg/httpcontext"
	constraintsUC "github.com/fastygo/planner/usecase/constraints"
)

const secret = "test-secret"

type fixedStatus struct{ status monitor.Status }

func (f fixedStatus) GetStatus() monitor.Status { return f.status }

type constraintsBackend struct {
	blocks []domain.FocusTimeBlock
}

func (b *constraintsBackend) FocusBlocks(context.Context, string) ([]domain.FocusTimeBlock, error) {
	return b.blocks, nil
}

func (b *constraintsBackend) SaveFocusBlocks(_ context.Context, _ string, blocks []domain.FocusTimeBlock) ([]domain.FocusTimeBlock, error) {
	b.blocks = blocks
	return blocks, nil
}

func (b *constraintsBackend) Availability(context.Context, string) ([]domain.AvailabilityCalendar, error) {
	return nil, nil
}

func (b *constraintsBackend) SaveAvailability(_ context.Context, _ string, slots []domain.AvailabilityCalendar) ([]domain.AvailabilityCalendar, error) {
	return slots, nil
}

type envelope struct {
	Status string          `json:"status"`
	Code   string          `json:"code"`
	Data   json.RawMessage `json:"data"`
}

type facade struct {
	client *fasthttp.Client
	token  string
}

func newFacade(t *testing.T, status monitor.Status) *facade {
	t.Helper()
	adapter := httpcontext.NewAdapter(time.Second)
	bus := notify.NewBus()
	t.Cleanup(bus.Close)

	handlers := Handlers{
		Task:        apiHandler.NewTaskHandler(nil, adapter, nil),
		Plan:        apiHandler.NewPlanHandler(nil, adapter, nil),
		Event:       apiHandler.NewEventHandler(nil, adapter, nil),
		Constraints: apiHandler.NewConstraintsHandler(constraintsUC.New(&constraintsBackend{}, bus, nil), adapter, nil),
		Changes:     apiHandler.NewChangesHandler(bus, time.Second, adapter, nil),
		Health:      apiHandler.NewHealthHandler(fixedStatus{status: status}, func() string { return "closed" }, adapter, nil),
		Metrics:     metrics.New().Handler(),
	}
	r := New(handlers, middleware.JWTAuth(secret, "user_id", nil))

	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: r.Handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "u1",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	return &facade{
		client: &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }},
		token:  token,
	}
}

func (f *facade) do(t *testing.T, method, path, body string, auth bool) (int, envelope, string) {
	t.Helper()
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://planner" + path)
	req.Header.SetMethod(method)
	if auth {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	if body != "" {
		req.Header.SetContentType("application/json")
		req.SetBodyString(body)
	}
	if err := f.client.DoTimeout(req, resp, 2*time.Second); err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	raw := string(resp.Body())
	var env envelope
	_ = json.Unmarshal(resp.Body(), &env)
	return resp.StatusCode(), env, raw
}

func TestHealthReflectsDependencies(t *testing.T) {
	healthy := newFacade(t, monitor.Status{Backend: true})
	if code, _, _ := healthy.do(t, fasthttp.MethodGet, "/health", "", false); code != fasthttp.StatusOK {
		t.Fatalf("healthy status = %d", code)
	}

	degraded := newFacade(t, monitor.Status{Backend: true, PostgresConfigured: true})
	code, env, _ := degraded.do(t, fasthttp.MethodGet, "/health", "", false)
	if code != fasthttp.StatusServiceUnavailable || env.Code != "DEGRADED" {
		t.Fatalf("degraded status = %d code = %s", code, env.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	f := newFacade(t, monitor.Status{Backend: true})
	if code, _, _ := f.do(t, fasthttp.MethodGet, "/api/v1/focus-blocks", "", false); code != fasthttp.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", code)
	}
}

func TestFocusBlocksRoundTrip(t *testing.T) {
	f := newFacade(t, monitor.Status{Backend: true})

	code, env, _ := f.do(t, fasthttp.MethodPut, "/api/v1/focus-blocks", `[{"day_of_week":1,"start_min":600,"end_min":540}]`, true)
	if code != fasthttp.StatusBadRequest || env.Code != string(domain.ErrCodeInvalidRange) {
		t.Fatalf("invalid block: status = %d code = %s", code, env.Code)
	}

	code, _, _ = f.do(t, fasthttp.MethodPut, "/api/v1/focus-blocks", `[{"day_of_week":1,"start_min":540,"end_min":600}]`, true)
	if code != fasthttp.StatusOK {
		t.Fatalf("save status = %d", code)
	}

	code, env, _ = f.do(t, fasthttp.MethodGet, "/api/v1/focus-blocks", "", true)
	if code != fasthttp.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	var blocks []domain.FocusTimeBlock
	if err := json.Unmarshal(env.Data, &blocks); err != nil || len(blocks) != 1 || blocks[0].StartMin != 540 {
		t.Fatalf("unexpected blocks %s (%v)", env.Data, err)
	}
}

func TestMalformedRequestsAreRejectedBeforeUseCases(t *testing.T) {
	f := newFacade(t, monitor.Status{Backend: true})
	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{name: "non numeric task id", method: fasthttp.MethodGet, path: "/api/v1/tasks/abc"},
		{name: "zero plan id", method: fasthttp.MethodPost, path: "/api/v1/plans/0/apply"},
		{name: "broken json", method: fasthttp.MethodPost, path: "/api/v1/events/4/move", body: `{"date_ms":`},
		{name: "dependency without target", method: fasthttp.MethodPost, path: "/api/v1/tasks/4/dependencies", body: `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env, _ := f.do(t, tt.method, tt.path, tt.body, true)
			if code != fasthttp.StatusBadRequest || env.Code != string(domain.ErrCodeInvalid) {
				t.Fatalf("status = %d code = %s", code, env.Code)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFacade(t, monitor.Status{Backend: true})
	code, _, raw := f.do(t, fasthttp.MethodGet, "/metrics", "", false)
	if code != fasthttp.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if !strings.Contains(raw, "planner_") {
		t.Fatalf("no planner metrics in output")
	}
}
