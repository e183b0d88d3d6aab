package docker

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	dockererrdefs "github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/melih/lighthouse-stack/internal/core/domain"
	"github.com/melih/lighthouse-stack/internal/errdefs"
	"github.com/melih/lighthouse-stack/internal/logging"
)

// stopTimeout is how long a container gets to exit before it is killed.
const stopTimeout = 10 * time.Second

// Adapter implements ports.Runtime using Docker SDK
type Adapter struct {
	cli *client.Client
}

// NewAdapter creates a new Docker adapter instance
func NewAdapter() (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Adapter{cli: cli}, nil
}

// Client exposes the SDK client so the builder can share the connection.
func (a *Adapter) Client() *client.Client {
	return a.cli
}

func (a *Adapter) Close() error {
	return a.cli.Close()
}

// ListContainers returns every container of the project, running or not.
func (a *Adapter) ListContainers(ctx context.Context, project string) ([]domain.Container, error) {
	containers, err := a.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", domain.LabelProject+"="+project)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	result := make([]domain.Container, 0, len(containers))
	for _, c := range containers {
		result = append(result, containerFromSummary(c))
	}
	return result, nil
}

// RunService creates and starts the container of a service
func (a *Adapter) RunService(ctx context.Context, stack *domain.Stack, svc domain.Service) (string, error) {
	logger := logging.FromContext(ctx).With("service", svc.Name)
	image := svc.ImageName(stack.Project)

	// 1. Image Pull (built images are already local)
	if svc.Build == nil {
		reader, err := a.cli.ImagePull(ctx, image, types.ImagePullOptions{})
		if err != nil {
			return "", fmt.Errorf("failed to pull image %s: %w", image, err)
		}
		// Drain the progress stream, the pull only completes once it is read
		_, err = io.Copy(io.Discard, reader)
		reader.Close()
		if err != nil {
			return "", fmt.Errorf("failed to pull image %s: %w", image, err)
		}
		logger.DebugContext(ctx, "image pulled", "image", image)
	}

	// 2. Create Container
	name := stack.ContainerName(svc.Name)
	resp, err := a.cli.ContainerCreate(ctx,
		containerConfig(stack, svc),
		hostConfig(svc),
		networkingConfig(stack, svc),
		nil,
		name,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", name, err)
	}
	for _, w := range resp.Warnings {
		logger.WarnContext(ctx, "container create warning", "warning", w)
	}

	// 3. Start Container
	if err := a.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container %s: %w", name, err)
	}

	logger.InfoContext(ctx, "container started", "container", name, "id", shortID(resp.ID))
	return resp.ID, nil
}

// InspectContainer returns the current state and health of a container.
func (a *Adapter) InspectContainer(ctx context.Context, name string) (domain.Container, error) {
	info, err := a.cli.ContainerInspect(ctx, name)
	if err != nil {
		if dockererrdefs.IsNotFound(err) {
			return domain.Container{}, fmt.Errorf("%w: %s", errdefs.ErrContainerNotFound, name)
		}
		return domain.Container{}, fmt.Errorf("failed to inspect container %s: %w", name, err)
	}
	return containerFromInspect(info), nil
}

// StopContainer stops a running container
func (a *Adapter) StopContainer(ctx context.Context, name string) error {
	timeout := int(stopTimeout.Seconds())
	ctx, cancel := context.WithTimeout(ctx, stopTimeout+5*time.Second)
	defer cancel()
	if err := a.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		if dockererrdefs.IsNotFound(err) {
			return fmt.Errorf("%w: %s", errdefs.ErrContainerNotFound, name)
		}
		return fmt.Errorf("failed to stop container %s: %w", name, err)
	}
	return nil
}

// RemoveContainer deletes a container. Bind-mounted host data is left alone.
func (a *Adapter) RemoveContainer(ctx context.Context, name string) error {
	err := a.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err != nil && !dockererrdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", name, err)
	}
	return nil
}

// RestartContainer restarts a container in place.
func (a *Adapter) RestartContainer(ctx context.Context, name string) error {
	timeout := int(stopTimeout.Seconds())
	if err := a.cli.ContainerRestart(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to restart container %s: %w", name, err)
	}
	return nil
}

// GetContainerLogs returns the demultiplexed stdout and stderr of a container
func (a *Adapter) GetContainerLogs(ctx context.Context, name string) (io.ReadCloser, error) {
	options := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     false, // Can be true for streaming
		Timestamps: true,
		Tail:       "500",
	}
	raw, err := a.cli.ContainerLogs(ctx, name, options)
	if err != nil {
		return nil, fmt.Errorf("failed to read logs of %s: %w", name, err)
	}

	pr, pw := io.Pipe()
	go func() {
		defer raw.Close()
		_, err := stdcopy.StdCopy(pw, pw, raw)
		pw.CloseWithError(err)
	}()
	return pr, nil
}

// EnsureNetwork creates the stack bridge network unless it exists.
func (a *Adapter) EnsureNetwork(ctx context.Context, stack *domain.Stack) (string, error) {
	existing, err := a.cli.NetworkList(ctx, types.NetworkListOptions{
		Filters: filters.NewArgs(filters.Arg("name", stack.Network.Name)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to list networks: %w", err)
	}
	for _, n := range existing {
		// the name filter matches substrings
		if n.Name == stack.Network.Name {
			return n.ID, nil
		}
	}

	labels := make(map[string]string, len(stack.Labels)+1)
	for k, v := range stack.Labels {
		labels[k] = v
	}
	labels[domain.LabelProject] = stack.Project

	driver := stack.Network.Driver
	if driver == "" {
		driver = "bridge"
	}
	resp, err := a.cli.NetworkCreate(ctx, stack.Network.Name, types.NetworkCreate{
		Driver: driver,
		IPAM: &network.IPAM{
			Driver: "default",
			Config: []network.IPAMConfig{{
				Subnet:  stack.Network.Subnet,
				IPRange: stack.Network.IPRange,
				Gateway: stack.Network.Gateway,
			}},
		},
		Labels: labels,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create network %s: %w", stack.Network.Name, err)
	}
	logging.FromContext(ctx).InfoContext(ctx, "network created", "network", stack.Network.Name, "subnet", stack.Network.Subnet)
	return resp.ID, nil
}

// RemoveNetwork deletes the network; a missing network is not an error.
func (a *Adapter) RemoveNetwork(ctx context.Context, name string) error {
	if err := a.cli.NetworkRemove(ctx, name); err != nil && !dockererrdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove network %s: %w", name, err)
	}
	return nil
}
