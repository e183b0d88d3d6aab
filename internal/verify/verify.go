package verify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/melih/lighthouse-stack/internal/core/domain"
	"github.com/melih/lighthouse-stack/internal/errdefs"
	"github.com/melih/lighthouse-stack/internal/logging"
	"github.com/melih/lighthouse-stack/internal/orchestrator"
)

// Orchestrator is what the checks drive. *orchestrator.Orchestrator
// satisfies it.
type Orchestrator interface {
	Up(ctx context.Context, stack *domain.Stack, opts orchestrator.UpOptions) (*orchestrator.Deployment, error)
	Down(ctx context.Context, stack *domain.Stack, opts orchestrator.DownOptions) error
	Status(ctx context.Context, stack *domain.Stack) ([]orchestrator.ServiceStatus, error)
	Recreate(ctx context.Context, stack *domain.Stack, service string) (orchestrator.ServiceStatus, error)
	WaitReady(ctx context.Context, stack *domain.Stack, svc domain.Service) error
	Heal(ctx context.Context, stack *domain.Stack) ([]string, error)
}

type Outcome string

const (
	Pass Outcome = "pass"
	Fail Outcome = "fail"
	Skip Outcome = "skip"
)

// Result is the outcome of one acceptance check.
type Result struct {
	Name     string        `json:"name"`
	Outcome  Outcome       `json:"outcome"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report aggregates the results of a run.
type Report struct {
	Project string   `json:"project"`
	Results []Result `json:"results"`
	Passed  bool     `json:"passed"`
}

// Err returns ErrVerificationFailed naming every failed check, or nil.
func (r Report) Err() error {
	failed := lo.FilterMap(r.Results, func(res Result, _ int) (string, bool) {
		return res.Name, res.Outcome == Fail
	})
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", errdefs.ErrVerificationFailed, strings.Join(failed, ", "))
}

// Config selects what a Verifier may touch.
type Config struct {
	// WebURL is the base URL of the static web server.
	WebURL string
	// Disruptive allows checks that recreate containers or the network.
	Disruptive bool
	// Database is used to check that a bad connection string is reported.
	Database   orchestrator.DatabaseChecker
	HTTPClient *http.Client
}

// Verifier runs the deployment acceptance checks against a running stack.
type Verifier struct {
	orch   Orchestrator
	stack  *domain.Stack
	cfg    Config
	client *http.Client
}

func New(orch Orchestrator, stack *domain.Stack, cfg Config) *Verifier {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Verifier{orch: orch, stack: stack, cfg: cfg, client: client}
}

type check struct {
	name       string
	disruptive bool
	run        func(ctx context.Context) (string, error)
}

func (v *Verifier) checks() []check {
	return []check{
		{name: "healthy-within-budget", run: v.HealthyWithinBudget},
		{name: "spa-fallback", run: v.SPAFallback},
		{name: "port-collision-rejected", run: v.PortCollisionRejected},
		{name: "database-preflight-rejects-bad-uri", run: v.DatabasePreflightRejectsBadURI},
		{name: "bad-database-fails-api", disruptive: true, run: v.BadDatabaseFailsAPI},
		{name: "uploads-survive-recreate", disruptive: true, run: v.UploadsSurviveRecreate},
		{name: "network-recreate-keeps-ports", disruptive: true, run: v.NetworkRecreateKeepsPorts},
	}
}

// Run executes every check in order. A failing check does not stop the run.
func (v *Verifier) Run(ctx context.Context) Report {
	logger := logging.FromContext(ctx).With("project", v.stack.Project)
	report := Report{Project: v.stack.Project, Passed: true}

	for _, c := range v.checks() {
		res := Result{Name: c.name}
		if c.disruptive && !v.cfg.Disruptive {
			res.Outcome = Skip
			res.Detail = "disruptive checks not enabled"
			report.Results = append(report.Results, res)
			continue
		}

		start := time.Now()
		detail, err := c.run(ctx)
		res.Duration = time.Since(start).Round(time.Millisecond)
		switch {
		case err == nil:
			res.Outcome = Pass
			res.Detail = detail
		case errors.Is(err, errSkipped):
			res.Outcome = Skip
			res.Detail = detail
		default:
			res.Outcome = Fail
			res.Detail = err.Error()
			report.Passed = false
		}
		logger.InfoContext(ctx, "check finished", "check", c.name, "outcome", res.Outcome, "took", res.Duration)
		report.Results = append(report.Results, res)
	}
	return report
}
