package ports

import (
	"context"
	"io"

	"github.com/melih/lighthouse-stack/internal/core/domain"
)

// ContainerService defines the core operations for running stack services.
// This interface allows us to switch between Docker, Podman, or a fake
// runtime without changing the orchestration logic.
type ContainerService interface {
	ListContainers(ctx context.Context, project string) ([]domain.Container, error)
	// RunService creates and starts the container of svc and returns its ID.
	RunService(ctx context.Context, stack *domain.Stack, svc domain.Service) (string, error)
	InspectContainer(ctx context.Context, name string) (domain.Container, error)
	StopContainer(ctx context.Context, name string) error
	RemoveContainer(ctx context.Context, name string) error
	RestartContainer(ctx context.Context, name string) error
	GetContainerLogs(ctx context.Context, name string) (io.ReadCloser, error)
}

// NetworkService manages the bridge network shared by the stack.
type NetworkService interface {
	// EnsureNetwork creates the network unless it already exists and returns its ID.
	EnsureNetwork(ctx context.Context, stack *domain.Stack) (string, error)
	RemoveNetwork(ctx context.Context, name string) error
}

// Runtime is everything the orchestrator needs from a container engine.
type Runtime interface {
	ContainerService
	NetworkService
}
