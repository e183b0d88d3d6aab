package domain

import "time"

// Container represents the running instance of a stack service.
type Container struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Service   string `json:"service"`
	Image     string `json:"image"`
	Status    string `json:"status"`
	State     string `json:"state"`  // running, exited, etc.
	Health    string `json:"health"` // healthy, unhealthy, starting, or empty without a probe
	IPAddress string `json:"ip_address,omitempty"`

	// Ports are the host bindings the engine actually published.
	Ports []PortBinding `json:"ports,omitempty"`

	StartedAt time.Time `json:"started_at"`
	// HealthyAt is the end of the first passing health check since
	// StartedAt. It is zero when that result is no longer in the engine's
	// health log.
	HealthyAt time.Time `json:"healthy_at"`
}

// Health status values as reported by the container engine.
const (
	HealthNone      = ""
	HealthStarting  = "starting"
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
)

// Ready reports whether the container can serve its dependents.
// A container without a probe is ready once it runs.
func (c Container) Ready() bool {
	if c.State != "running" {
		return false
	}
	return c.Health == HealthHealthy || c.Health == HealthNone
}

// Lifecycle maps the engine's view of the container onto the stack lifecycle.
func (c Container) Lifecycle() State {
	switch c.State {
	case "created":
		return StateCreated
	case "restarting":
		return StateStarting
	case "removing":
		return StateStopping
	case "exited", "dead", "paused":
		return StateStopped
	case "running":
		switch c.Health {
		case HealthStarting:
			return StateStarting
		case HealthHealthy:
			return StateHealthy
		case HealthUnhealthy:
			return StateUnhealthy
		default:
			return StateRunning
		}
	}
	return StateStopped
}
