package cloud

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
)

type HetznerConfig struct {
	Token string
	// Endpoint overrides the API URL.
	Endpoint string
}

func HetznerInstances(ctx context.Context, cfg HetznerConfig) ([]CloudInstance, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("hetzner: token is required")
	}

	opts := []hcloud.ClientOption{hcloud.WithToken(cfg.Token)}
	if cfg.Endpoint != "" {
		opts = append(opts, hcloud.WithEndpoint(cfg.Endpoint))
	}
	client := hcloud.NewClient(opts...)

	servers, err := client.Server.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("hetzner: failed to list servers: %w", err)
	}

	instances := make([]CloudInstance, 0, len(servers))
	for _, s := range servers {
		instances = append(instances, fromHetzner(s))
	}

	sortByName(instances)
	return instances, nil
}

func fromHetzner(s *hcloud.Server) CloudInstance {
	inst := CloudInstance{
		ID:    strconv.FormatInt(s.ID, 10),
		Name:  s.Name,
		State: string(s.Status),
		Tags:  s.Labels,
	}

	if ip := s.PublicNet.IPv4.IP; ip != nil && !ip.IsUnspecified() {
		inst.PublicIPv4 = ip
	}
	if ip := s.PublicNet.IPv6.IP; ip != nil && !ip.IsUnspecified() {
		inst.PublicIPv6 = ip
	}
	return inst
}
