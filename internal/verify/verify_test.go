package verify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melih/lighthouse-stack/internal/core/domain"
	"github.com/melih/lighthouse-stack/internal/errdefs"
	"github.com/melih/lighthouse-stack/internal/orchestrator"
)

type fakeOrch struct {
	status      []orchestrator.ServiceStatus
	statusAfter []orchestrator.ServiceStatus
	ups         int
	downs       int
	recreated   []string
	recreateURI []string
	notReady    map[string]bool
	onRecreate  func()
	// badURIErr is returned when a service is recreated with an unreachable
	// database; nil means it turns unhealthy.
	badURIErr    error
	acceptBadURI bool
	unhealthy    []string
	watchdogOff  bool
	heals        int
}

func (f *fakeOrch) Up(_ context.Context, stack *domain.Stack, _ orchestrator.UpOptions) (*orchestrator.Deployment, error) {
	if err := stack.Validate(); err != nil {
		return nil, err
	}
	f.ups++
	return &orchestrator.Deployment{Project: stack.Project}, nil
}

func (f *fakeOrch) Down(context.Context, *domain.Stack, orchestrator.DownOptions) error {
	f.downs++
	return nil
}

func (f *fakeOrch) Status(context.Context, *domain.Stack) ([]orchestrator.ServiceStatus, error) {
	if f.ups > 0 && f.statusAfter != nil {
		return f.statusAfter, nil
	}
	return f.status, nil
}

func (f *fakeOrch) Recreate(_ context.Context, stack *domain.Stack, service string) (orchestrator.ServiceStatus, error) {
	f.recreated = append(f.recreated, service)
	if f.onRecreate != nil {
		f.onRecreate()
	}
	svc, err := stack.Service(service)
	if err != nil {
		return orchestrator.ServiceStatus{}, err
	}
	uri := svc.Environment[orchestrator.DatabaseURIKey]
	f.recreateURI = append(f.recreateURI, uri)
	if strings.Contains(uri, ".invalid") && !f.acceptBadURI {
		if f.badURIErr != nil {
			return orchestrator.ServiceStatus{}, f.badURIErr
		}
		f.unhealthy = append(f.unhealthy, service)
		return orchestrator.ServiceStatus{}, fmt.Errorf("%w: %s: %w", errdefs.ErrNotReady, service,
			fmt.Errorf("%w: shop-%s reported unhealthy", errdefs.ErrProbeFailed, service))
	}
	return orchestrator.ServiceStatus{Service: service, Ready: true}, nil
}

func (f *fakeOrch) Heal(context.Context, *domain.Stack) ([]string, error) {
	f.heals++
	if f.watchdogOff {
		return nil, nil
	}
	restarted := f.unhealthy
	f.unhealthy = nil
	return restarted, nil
}

func (f *fakeOrch) WaitReady(_ context.Context, _ *domain.Stack, svc domain.Service) error {
	if f.notReady[svc.Name] {
		return fmt.Errorf("%w: %s", errdefs.ErrNotReady, svc.Name)
	}
	return nil
}

type fakeDatabase struct{ err error }

func (d fakeDatabase) Ping(context.Context, string) error { return d.err }

const goodURI = "mongodb://db.example.net:27017/shop"

var started = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testStack(uploads string) *domain.Stack {
	return &domain.Stack{
		Project: "shop",
		Network: domain.Network{Name: "shop_net", Driver: "bridge", Subnet: "172.28.0.0/16", IPRange: "172.28.5.0/24", Gateway: "172.28.0.1"},
		Services: []domain.Service{
			{Name: "cache", Image: "redis:7-alpine", Networks: []string{"shop_net"}, Ports: []domain.PortBinding{{Host: 6379, Container: 6379}}},
			{
				Name: "api", Image: "shop-api:latest", Networks: []string{"shop_net"}, DependsOn: []string{"cache"},
				Environment: map[string]string{orchestrator.DatabaseURIKey: goodURI},
				Ports:       []domain.PortBinding{{Host: 5000, Container: 5000}},
				Volumes:     []domain.VolumeBinding{{HostPath: uploads, ContainerPath: "/app/uploads"}},
				Health: &domain.HealthProbe{
					Kind: domain.ProbeHTTP, Path: "/api/products", Port: 5000,
					Interval: 30 * time.Second, Timeout: 10 * time.Second, Retries: 3, StartPeriod: 40 * time.Second,
				},
				Restart: domain.RestartUnlessStopped,
			},
			{Name: "web", Image: "shop-web:latest", Networks: []string{"shop_net"}, DependsOn: []string{"api"}, Ports: []domain.PortBinding{{Host: 8080, Container: 80}}},
		},
	}
}

func statusOf(stack *domain.Stack) []orchestrator.ServiceStatus {
	out := make([]orchestrator.ServiceStatus, 0, len(stack.Services))
	for _, svc := range stack.Services {
		st := orchestrator.ServiceStatus{Service: svc.Name, Exists: true, Ready: true, Ports: svc.Ports, StartedAt: started}
		if svc.Health != nil {
			st.HealthyAt = started.Add(45 * time.Second)
		}
		out = append(out, st)
	}
	return out
}

func spaServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/assets/app.js" {
			_, _ = w.Write([]byte("console.log(1)"))
			return
		}
		_, _ = w.Write([]byte("<!doctype html><div id=root></div>"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_AllPass(t *testing.T) {
	stack := testStack(t.TempDir())
	orch := &fakeOrch{status: statusOf(stack)}
	v := New(orch, stack, Config{
		WebURL:     spaServer(t).URL,
		Disruptive: true,
		Database:   fakeDatabase{err: errdefs.ErrPreflightFailed},
	})

	report := v.Run(context.Background())
	require.NoError(t, report.Err())
	assert.True(t, report.Passed)
	require.Len(t, report.Results, 7)
	for _, r := range report.Results {
		assert.Equal(t, Pass, r.Outcome, "%s: %s", r.Name, r.Detail)
	}
	assert.Equal(t, []string{"api", "api", "api"}, orch.recreated)
	assert.Equal(t, []string{unreachableDatabase, goodURI, goodURI}, orch.recreateURI)
	assert.Equal(t, 1, orch.heals)
	assert.Equal(t, 1, orch.downs)
	assert.Equal(t, 1, orch.ups, "the colliding clone must never be started")
}

func TestRun_SkipsDisruptiveByDefault(t *testing.T) {
	stack := testStack(t.TempDir())
	orch := &fakeOrch{status: statusOf(stack)}
	report := New(orch, stack, Config{}).Run(context.Background())

	assert.True(t, report.Passed)
	outcomes := map[string]Outcome{}
	for _, r := range report.Results {
		outcomes[r.Name] = r.Outcome
	}
	assert.Equal(t, Pass, outcomes["healthy-within-budget"])
	assert.Equal(t, Skip, outcomes["spa-fallback"])
	assert.Equal(t, Skip, outcomes["database-preflight-rejects-bad-uri"])
	assert.Equal(t, Skip, outcomes["bad-database-fails-api"])
	assert.Equal(t, Skip, outcomes["uploads-survive-recreate"])
	assert.Equal(t, Skip, outcomes["network-recreate-keeps-ports"])
	assert.Empty(t, orch.recreated)
	assert.Zero(t, orch.downs)
}

func TestHealthyWithinBudget_Fails(t *testing.T) {
	stack := testStack(t.TempDir())
	v := New(&fakeOrch{notReady: map[string]bool{"api": true}}, stack, Config{})
	_, err := v.HealthyWithinBudget(context.Background())
	assert.ErrorIs(t, err, errdefs.ErrNotReady)
}

func TestHealthyWithinBudget_MeasuresFromContainerStart(t *testing.T) {
	stack := testStack(t.TempDir())
	status := statusOf(stack)
	v := New(&fakeOrch{status: status}, stack, Config{})
	detail, err := v.HealthyWithinBudget(context.Background())
	require.NoError(t, err)
	assert.Contains(t, detail, "api in 45s of 2m40s")

	status[1].HealthyAt = started.Add(161 * time.Second)
	_, err = v.HealthyWithinBudget(context.Background())
	require.ErrorIs(t, err, errdefs.ErrVerificationFailed)
	assert.Contains(t, err.Error(), "api turned healthy after 2m41s, budget 2m40s")
}

func TestHealthyWithinBudget_TransitionNotRecorded(t *testing.T) {
	stack := testStack(t.TempDir())
	status := statusOf(stack)
	status[1].HealthyAt = time.Time{}
	v := New(&fakeOrch{status: status}, stack, Config{})

	report := v.Run(context.Background())
	require.NotEmpty(t, report.Results)
	first := report.Results[0]
	assert.Equal(t, "healthy-within-budget", first.Name)
	assert.Equal(t, Skip, first.Outcome)
	assert.Contains(t, first.Detail, "not recorded for api")
}

func TestSPAFallback_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("index"))
	}))
	defer srv.Close()

	v := New(&fakeOrch{}, testStack(t.TempDir()), Config{WebURL: srv.URL})
	_, err := v.SPAFallback(context.Background())
	assert.ErrorIs(t, err, errdefs.ErrVerificationFailed)
}

func TestUploadsSurviveRecreate_MarkerLost(t *testing.T) {
	dir := t.TempDir()
	orch := &fakeOrch{onRecreate: func() {
		entries, _ := os.ReadDir(dir)
		for _, e := range entries {
			_ = os.Remove(filepath.Join(dir, e.Name()))
		}
	}}
	v := New(orch, testStack(dir), Config{Disruptive: true})
	_, err := v.UploadsSurviveRecreate(context.Background())
	assert.ErrorIs(t, err, errdefs.ErrVerificationFailed)
}

func TestUploadsSurviveRecreate_CleansUp(t *testing.T) {
	dir := t.TempDir()
	v := New(&fakeOrch{}, testStack(dir), Config{Disruptive: true})
	_, err := v.UploadsSurviveRecreate(context.Background())
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNetworkRecreateKeepsPorts_Changed(t *testing.T) {
	stack := testStack(t.TempDir())
	after := statusOf(stack)
	after[2].Ports = []domain.PortBinding{{Host: 8081, Container: 80}}
	v := New(&fakeOrch{status: statusOf(stack), statusAfter: after}, stack, Config{Disruptive: true})

	_, err := v.NetworkRecreateKeepsPorts(context.Background())
	require.ErrorIs(t, err, errdefs.ErrVerificationFailed)
	assert.Contains(t, err.Error(), "web")
}

func TestPortCollisionRejected_DoesNotTouchOriginal(t *testing.T) {
	stack := testStack(t.TempDir())
	v := New(&fakeOrch{}, stack, Config{})
	_, err := v.PortCollisionRejected(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5000, stack.Services[1].Ports[0].Host)
	assert.NoError(t, stack.Validate())
}

func TestDatabasePreflightRejectsBadURI_Swallowed(t *testing.T) {
	v := New(&fakeOrch{}, testStack(t.TempDir()), Config{Database: fakeDatabase{}})
	_, err := v.DatabasePreflightRejectsBadURI(context.Background())
	assert.ErrorIs(t, err, errdefs.ErrVerificationFailed)
}

func TestBadDatabaseFailsAPI_RestartedAndRestored(t *testing.T) {
	stack := testStack(t.TempDir())
	orch := &fakeOrch{}
	detail, err := New(orch, stack, Config{Disruptive: true}).BadDatabaseFailsAPI(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "api turned unhealthy and was restarted", detail)
	assert.Equal(t, []string{unreachableDatabase, goodURI}, orch.recreateURI)
	assert.Equal(t, goodURI, stack.Services[1].Environment[orchestrator.DatabaseURIKey], "the declared stack is untouched")
}

func TestBadDatabaseFailsAPI_BecameReady(t *testing.T) {
	orch := &fakeOrch{acceptBadURI: true}
	_, err := New(orch, testStack(t.TempDir()), Config{}).BadDatabaseFailsAPI(context.Background())
	require.ErrorIs(t, err, errdefs.ErrVerificationFailed)
	assert.Contains(t, err.Error(), "became ready")
	assert.Equal(t, []string{unreachableDatabase, goodURI}, orch.recreateURI)
}

func TestBadDatabaseFailsAPI_NotRestarted(t *testing.T) {
	orch := &fakeOrch{watchdogOff: true}
	_, err := New(orch, testStack(t.TempDir()), Config{}).BadDatabaseFailsAPI(context.Background())
	require.ErrorIs(t, err, errdefs.ErrVerificationFailed)
	assert.Contains(t, err.Error(), "was not restarted")
}

func TestBadDatabaseFailsAPI_NeverReady(t *testing.T) {
	orch := &fakeOrch{badURIErr: fmt.Errorf("%w: api after 2m40s: still starting", errdefs.ErrNotReady)}
	detail, err := New(orch, testStack(t.TempDir()), Config{}).BadDatabaseFailsAPI(context.Background())
	require.NoError(t, err)
	assert.Contains(t, detail, "api never became ready")
	assert.Zero(t, orch.heals)
}

func TestBadDatabaseFailsAPI_RestartPolicyNo(t *testing.T) {
	stack := testStack(t.TempDir())
	stack.Services[1].Restart = domain.RestartNo
	orch := &fakeOrch{}
	detail, err := New(orch, stack, Config{}).BadDatabaseFailsAPI(context.Background())
	require.NoError(t, err)
	assert.Contains(t, detail, "leaves it stopped")
	assert.Zero(t, orch.heals)
}

func TestBadDatabaseFailsAPI_RestoresAfterError(t *testing.T) {
	orch := &fakeOrch{badURIErr: errors.New("engine gone")}
	_, err := New(orch, testStack(t.TempDir()), Config{}).BadDatabaseFailsAPI(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine gone")
	assert.Len(t, orch.recreated, 2, "the original is restored even when the broken recreate errors")
}

func TestBadDatabaseFailsAPI_Skips(t *testing.T) {
	stack := testStack(t.TempDir())
	stack.Services[1].Health = nil
	_, err := New(&fakeOrch{}, stack, Config{}).BadDatabaseFailsAPI(context.Background())
	assert.ErrorIs(t, err, errSkipped)

	stack.Services[1].Environment = nil
	_, err = New(&fakeOrch{}, stack, Config{}).BadDatabaseFailsAPI(context.Background())
	assert.ErrorIs(t, err, errSkipped)
}
