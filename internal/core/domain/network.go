package domain

import (
	"fmt"
	"net/netip"

	"github.com/melih/lighthouse-stack/internal/errdefs"
)

// Network is the isolated bridge shared by the stack services.
type Network struct {
	Name    string `json:"name"`
	Driver  string `json:"driver"`
	Subnet  string `json:"subnet"`
	IPRange string `json:"ip_range"`
	Gateway string `json:"gateway"`
}

// Validate checks the address plan: the allocatable range and the
// gateway must both sit inside the subnet.
func (n Network) Validate() error {
	if n.Name == "" {
		return fmt.Errorf("%w: name is required", errdefs.ErrInvalidNetwork)
	}
	if n.Driver != "" && n.Driver != "bridge" {
		return fmt.Errorf("%w: unsupported driver %q", errdefs.ErrInvalidNetwork, n.Driver)
	}
	subnet, err := netip.ParsePrefix(n.Subnet)
	if err != nil {
		return fmt.Errorf("%w: subnet %q: %w", errdefs.ErrInvalidNetwork, n.Subnet, err)
	}
	subnet = subnet.Masked()

	if n.IPRange != "" {
		ipRange, err := netip.ParsePrefix(n.IPRange)
		if err != nil {
			return fmt.Errorf("%w: ip range %q: %w", errdefs.ErrInvalidNetwork, n.IPRange, err)
		}
		if ipRange.Bits() < subnet.Bits() || !subnet.Contains(ipRange.Addr()) {
			return fmt.Errorf("%w: ip range %s outside subnet %s", errdefs.ErrInvalidNetwork, n.IPRange, subnet)
		}
	}

	if n.Gateway != "" {
		gw, err := netip.ParseAddr(n.Gateway)
		if err != nil {
			return fmt.Errorf("%w: gateway %q: %w", errdefs.ErrInvalidNetwork, n.Gateway, err)
		}
		if !subnet.Contains(gw) {
			return fmt.Errorf("%w: gateway %s outside subnet %s", errdefs.ErrInvalidNetwork, gw, subnet)
		}
	}
	return nil
}
