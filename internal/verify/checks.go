package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/melih/lighthouse-stack/internal/core/domain"
	"github.com/melih/lighthouse-stack/internal/errdefs"
	"github.com/melih/lighthouse-stack/internal/orchestrator"
)

var errSkipped = errors.New("skipped")

// unreachableDatabase resolves nowhere; the .invalid TLD is reserved.
const unreachableDatabase = "mongodb://lighthouse-verify.invalid:27017/verify"

// HealthyWithinBudget waits for every service, in start order, then checks
// that each container with a health check turned healthy within its grace
// period plus retry budget, measured from the container's own start.
func (v *Verifier) HealthyWithinBudget(ctx context.Context) (string, error) {
	order, err := v.stack.StartOrder()
	if err != nil {
		return "", err
	}
	for _, svc := range order {
		if err := v.orch.WaitReady(ctx, v.stack, svc); err != nil {
			return "", err
		}
	}

	statuses, err := v.orch.Status(ctx, v.stack)
	if err != nil {
		return "", err
	}
	byService := lo.KeyBy(statuses, func(st orchestrator.ServiceStatus) string { return st.Service })

	var timed, unobserved []string
	for _, svc := range order {
		if svc.Health == nil {
			continue
		}
		st := byService[svc.Name]
		if st.StartedAt.IsZero() || st.HealthyAt.IsZero() {
			unobserved = append(unobserved, svc.Name)
			continue
		}
		took, budget := st.HealthyAt.Sub(st.StartedAt), svc.Health.Budget()
		if took > budget {
			return "", fmt.Errorf("%w: %s turned healthy after %s, budget %s", errdefs.ErrVerificationFailed, svc.Name, took.Round(time.Millisecond), budget)
		}
		timed = append(timed, fmt.Sprintf("%s in %s of %s", svc.Name, took.Round(time.Millisecond), budget))
	}

	detail := fmt.Sprintf("%d services ready", len(order))
	if len(timed) > 0 {
		detail += ", healthy " + strings.Join(timed, ", ")
	}
	if len(unobserved) > 0 {
		detail += ", health transition not recorded for " + strings.Join(unobserved, ", ")
		if len(timed) == 0 {
			return detail, errSkipped
		}
	}
	return detail, nil
}

// SPAFallback requests a path that matches no static asset and expects the
// root document back.
func (v *Verifier) SPAFallback(ctx context.Context) (string, error) {
	if v.cfg.WebURL == "" {
		return "no web URL configured", errSkipped
	}
	base := strings.TrimSuffix(v.cfg.WebURL, "/")

	root, err := v.get(ctx, base+"/")
	if err != nil {
		return "", err
	}
	path := "/lighthouse-verify/" + uuid.NewString() + "/deep/link"
	body, err := v.get(ctx, base+path)
	if err != nil {
		return "", err
	}
	if !bytes.Equal(root, body) {
		return "", fmt.Errorf("%w: %s did not return the root document", errdefs.ErrVerificationFailed, path)
	}
	return path + " served the root document", nil
}

func (v *Verifier) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", errdefs.ErrVerificationFailed, url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: GET %s returned %d", errdefs.ErrVerificationFailed, url, resp.StatusCode)
	}
	return body, nil
}

// PortCollisionRejected binds a second service to a host port that is
// already taken and expects the orchestrator to refuse the stack.
func (v *Verifier) PortCollisionRejected(ctx context.Context) (string, error) {
	clone := cloneStack(v.stack)
	withPorts := lo.Filter(clone.Services, func(svc domain.Service, _ int) bool { return len(svc.Ports) > 0 })
	if len(withPorts) < 2 {
		return "fewer than two services publish ports", errSkipped
	}
	taken := withPorts[0].Ports[0]
	victim := withPorts[1].Name
	for i := range clone.Services {
		if clone.Services[i].Name == victim {
			clone.Services[i].Ports[0].Host = taken.Host
			clone.Services[i].Ports[0].Protocol = taken.Protocol
		}
	}

	// Validate first so a broken check can never deploy the clone.
	if err := clone.Validate(); !errors.Is(err, errdefs.ErrPortCollision) {
		return "", fmt.Errorf("%w: validation accepted %s on taken port %d (%v)", errdefs.ErrVerificationFailed, victim, taken.Host, err)
	}
	_, err := v.orch.Up(ctx, clone, orchestrator.UpOptions{SkipBuild: true, SkipPreflight: true})
	if !errors.Is(err, errdefs.ErrPortCollision) {
		return "", fmt.Errorf("%w: orchestrator accepted %s on taken port %d (%v)", errdefs.ErrVerificationFailed, victim, taken.Host, err)
	}
	return fmt.Sprintf("%s on host port %d rejected", victim, taken.Host), nil
}

// DatabasePreflightRejectsBadURI checks that the preflight ping reports an
// unusable connection string instead of swallowing it.
func (v *Verifier) DatabasePreflightRejectsBadURI(ctx context.Context) (string, error) {
	if v.cfg.Database == nil {
		return "no database checker configured", errSkipped
	}
	err := v.cfg.Database.Ping(ctx, unreachableDatabase)
	if err == nil {
		return "", fmt.Errorf("%w: ping of %s succeeded", errdefs.ErrVerificationFailed, unreachableDatabase)
	}
	return "reported: " + err.Error(), nil
}

// BadDatabaseFailsAPI recreates the service that reads the database URI with
// an unreachable one and expects it to never become ready, or to turn
// unhealthy and be restarted by the watchdog. The original service is
// recreated afterwards.
func (v *Verifier) BadDatabaseFailsAPI(ctx context.Context) (_ string, err error) {
	svc, ok := lo.Find(v.stack.Services, func(s domain.Service) bool {
		_, ok := s.Environment[orchestrator.DatabaseURIKey]
		return ok
	})
	if !ok {
		return "no service reads " + orchestrator.DatabaseURIKey, errSkipped
	}
	if svc.Health == nil {
		return svc.Name + " declares no health check", errSkipped
	}

	broken := cloneStack(v.stack)
	for i := range broken.Services {
		if broken.Services[i].Name == svc.Name {
			env := maps.Clone(svc.Environment)
			env[orchestrator.DatabaseURIKey] = unreachableDatabase
			broken.Services[i].Environment = env
		}
	}

	defer func() {
		if _, rerr := v.orch.Recreate(ctx, v.stack, svc.Name); rerr != nil {
			err = errors.Join(err, fmt.Errorf("restore %s: %w", svc.Name, rerr))
		}
	}()

	_, rerr := v.orch.Recreate(ctx, broken, svc.Name)
	switch {
	case rerr == nil:
		return "", fmt.Errorf("%w: %s became ready with %s", errdefs.ErrVerificationFailed, svc.Name, unreachableDatabase)
	case !errors.Is(rerr, errdefs.ErrNotReady):
		return "", rerr
	case !errors.Is(rerr, errdefs.ErrProbeFailed):
		return fmt.Sprintf("%s never became ready: %v", svc.Name, rerr), nil
	}

	if !svc.Restart.Restarts(false) {
		return fmt.Sprintf("%s turned unhealthy, restart policy %q leaves it stopped", svc.Name, svc.Restart), nil
	}
	restarted, err := v.orch.Heal(ctx, broken)
	if err != nil {
		return "", err
	}
	if !slices.Contains(restarted, svc.Name) {
		return "", fmt.Errorf("%w: unhealthy %s was not restarted by the watchdog", errdefs.ErrVerificationFailed, svc.Name)
	}
	return fmt.Sprintf("%s turned unhealthy and was restarted", svc.Name), nil
}

// UploadsSurviveRecreate writes a marker into the first writable bind mount,
// recreates the owning service and expects the marker to still be there.
func (v *Verifier) UploadsSurviveRecreate(ctx context.Context) (string, error) {
	var owner string
	var hostDir string
	for _, svc := range v.stack.Services {
		vol, ok := lo.Find(svc.Volumes, func(vb domain.VolumeBinding) bool { return !vb.ReadOnly })
		if ok {
			owner, hostDir = svc.Name, vol.HostPath
			break
		}
	}
	if owner == "" {
		return "no writable bind mount declared", errSkipped
	}

	marker := filepath.Join(hostDir, ".lighthouse-verify-"+uuid.NewString())
	content := []byte(marker)
	if err := os.WriteFile(marker, content, 0o644); err != nil {
		return "", fmt.Errorf("write marker: %w", err)
	}
	defer os.Remove(marker)

	if _, err := v.orch.Recreate(ctx, v.stack, owner); err != nil {
		return "", err
	}

	got, err := os.ReadFile(marker)
	if err != nil {
		return "", fmt.Errorf("%w: marker gone after recreating %s: %w", errdefs.ErrVerificationFailed, owner, err)
	}
	if !bytes.Equal(got, content) {
		return "", fmt.Errorf("%w: marker changed after recreating %s", errdefs.ErrVerificationFailed, owner)
	}
	return fmt.Sprintf("%s kept %s", owner, filepath.Base(marker)), nil
}

// NetworkRecreateKeepsPorts tears the stack and its network down, brings it
// back and compares the published host ports.
func (v *Verifier) NetworkRecreateKeepsPorts(ctx context.Context) (string, error) {
	before, err := v.orch.Status(ctx, v.stack)
	if err != nil {
		return "", err
	}
	if err := v.orch.Down(ctx, v.stack, orchestrator.DownOptions{RemoveNetwork: true}); err != nil {
		return "", err
	}
	if _, err := v.orch.Up(ctx, v.stack, orchestrator.UpOptions{SkipBuild: true, SkipPreflight: true}); err != nil {
		return "", err
	}
	after, err := v.orch.Status(ctx, v.stack)
	if err != nil {
		return "", err
	}

	beforePorts, afterPorts := publishedPorts(before), publishedPorts(after)
	for _, svc := range v.stack.Services {
		if !slices.Equal(beforePorts[svc.Name], afterPorts[svc.Name]) {
			return "", fmt.Errorf("%w: %s ports %v became %v", errdefs.ErrVerificationFailed, svc.Name, beforePorts[svc.Name], afterPorts[svc.Name])
		}
		for _, p := range svc.Ports {
			if !slices.Contains(afterPorts[svc.Name], p.String()) {
				return "", fmt.Errorf("%w: %s lost declared binding %s", errdefs.ErrVerificationFailed, svc.Name, p)
			}
		}
	}
	return fmt.Sprintf("%d host bindings unchanged", len(lo.Flatten(lo.Values(afterPorts)))), nil
}

func publishedPorts(statuses []orchestrator.ServiceStatus) map[string][]string {
	out := make(map[string][]string, len(statuses))
	for _, st := range statuses {
		ports := lo.Map(st.Ports, func(p domain.PortBinding, _ int) string { return p.String() })
		slices.Sort(ports)
		out[st.Service] = ports
	}
	return out
}

func cloneStack(s *domain.Stack) *domain.Stack {
	clone := *s
	clone.Services = lo.Map(s.Services, func(svc domain.Service, _ int) domain.Service {
		svc.Ports = slices.Clone(svc.Ports)
		return svc
	})
	return &clone
}
