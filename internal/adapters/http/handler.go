package http

import (
	"context"
	"errors"
	"io"

	"github.com/gofiber/fiber/v2"

	"github.com/melih/lighthouse-stack/internal/core/domain"
	"github.com/melih/lighthouse-stack/internal/errdefs"
	"github.com/melih/lighthouse-stack/internal/manifest"
	"github.com/melih/lighthouse-stack/internal/orchestrator"
	"github.com/melih/lighthouse-stack/internal/verify"
)

// StackService is the part of the orchestrator the control plane exposes.
type StackService interface {
	Up(ctx context.Context, stack *domain.Stack, opts orchestrator.UpOptions) (*orchestrator.Deployment, error)
	Down(ctx context.Context, stack *domain.Stack, opts orchestrator.DownOptions) error
	Status(ctx context.Context, stack *domain.Stack) ([]orchestrator.ServiceStatus, error)
	Recreate(ctx context.Context, stack *domain.Stack, service string) (orchestrator.ServiceStatus, error)
	Logs(ctx context.Context, stack *domain.Stack, service string) (io.ReadCloser, error)
}

// Verifier runs the acceptance checks.
type Verifier interface {
	Run(ctx context.Context) verify.Report
}

type StackHandler struct {
	service  StackService
	stack    *domain.Stack
	verifier Verifier
}

func NewStackHandler(service StackService, stack *domain.Stack, verifier Verifier) *StackHandler {
	return &StackHandler{service: service, stack: stack, verifier: verifier}
}

func (h *StackHandler) ListServices(c *fiber.Ctx) error {
	statuses, err := h.service.Status(c.UserContext(), h.stack)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(statuses)
}

type UpRequest struct {
	SkipBuild     bool `json:"skip_build"`
	SkipPreflight bool `json:"skip_preflight"`
	ForceRecreate bool `json:"force_recreate"`
}

// Up deploys the stack. This blocks until every service is ready or the
// rollout fails.
func (h *StackHandler) Up(c *fiber.Ctx) error {
	var req UpRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	dep, err := h.service.Up(c.UserContext(), h.stack, orchestrator.UpOptions{
		SkipBuild:     req.SkipBuild,
		SkipPreflight: req.SkipPreflight,
		ForceRecreate: req.ForceRecreate,
	})
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dep)
}

type DownRequest struct {
	RemoveNetwork bool `json:"remove_network"`
}

func (h *StackHandler) Down(c *fiber.Ctx) error {
	var req DownRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	if err := h.service.Down(c.UserContext(), h.stack, orchestrator.DownOptions{RemoveNetwork: req.RemoveNetwork}); err != nil {
		return errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *StackHandler) RecreateService(c *fiber.Ctx) error {
	name := c.Params("name")
	if name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Service name is required",
		})
	}

	status, err := h.service.Recreate(c.UserContext(), h.stack, name)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(status)
}

func (h *StackHandler) GetServiceLogs(c *fiber.Ctx) error {
	name := c.Params("name")
	if name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Service name is required",
		})
	}

	logs, err := h.service.Logs(c.UserContext(), h.stack, name)
	if err != nil {
		return errorResponse(c, err)
	}
	// SendStream closes the reader once the body is written
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendStream(logs)
}

// GetManifest renders the stack as a compose document.
func (h *StackHandler) GetManifest(c *fiber.Ctx) error {
	out, err := manifest.Render(h.stack)
	if err != nil {
		return errorResponse(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/yaml")
	return c.Send(out)
}

func (h *StackHandler) Verify(c *fiber.Ctx) error {
	if h.verifier == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{
			"error": "Verification is not configured",
		})
	}
	report := h.verifier.Run(c.UserContext())
	if !report.Passed {
		return c.Status(fiber.StatusServiceUnavailable).JSON(report)
	}
	return c.JSON(report)
}

func Healthz(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func errorResponse(c *fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errdefs.ErrServiceNotFound), errors.Is(err, errdefs.ErrContainerNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, errdefs.ErrInvalidStack),
		errors.Is(err, errdefs.ErrProjectNameRequired),
		errors.Is(err, errdefs.ErrServiceNameRequired),
		errors.Is(err, errdefs.ErrDuplicateService),
		errors.Is(err, errdefs.ErrUnknownDependency),
		errors.Is(err, errdefs.ErrDependencyCycle),
		errors.Is(err, errdefs.ErrPortCollision),
		errors.Is(err, errdefs.ErrInvalidPort),
		errors.Is(err, errdefs.ErrInvalidNetwork),
		errors.Is(err, errdefs.ErrNotOnNetwork),
		errors.Is(err, errdefs.ErrInvalidVolume),
		errors.Is(err, errdefs.ErrInvalidProbe):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, errdefs.ErrNotReady),
		errors.Is(err, errdefs.ErrProbeFailed),
		errors.Is(err, errdefs.ErrPreflightFailed):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	}
	return fiber.StatusInternalServerError
}
