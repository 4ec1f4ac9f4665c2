package inventory

import (
	"fmt"
	"os"
	"sort"

	"github.com/SoftKiwiGames/ferry/ferry/schema"
	"github.com/SoftKiwiGames/ferry/ferry/ssh"
	"github.com/SoftKiwiGames/ferry/ferry/utils"
	"gopkg.in/yaml.v3"
)

type fileInventory struct {
	hosts   map[string]ssh.Host
	targets map[string][]string
}

// LoadDirectory collects hosts and targets from every *.ferry.yaml file
// under dir.
func LoadDirectory(dir string) (Inventory, error) {
	paths, err := utils.FindFiles(dir, utils.IsConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}

	inv := &fileInventory{
		hosts:   make(map[string]ssh.Host),
		targets: make(map[string][]string),
	}
	for _, path := range paths {
		if err := inv.load(path); err != nil {
			return nil, err
		}
	}

	return inv, nil
}

func (f *fileInventory) load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read inventory file: %w", err)
	}

	var file schema.Inventory
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse inventory YAML %s: %w", path, err)
	}

	for name, def := range file.Hosts {
		if _, ok := f.hosts[name]; ok {
			return fmt.Errorf("host %q defined more than once (%s)", name, path)
		}
		if def.Addr == "" {
			return fmt.Errorf("host %q has no addr (%s)", name, path)
		}
		f.hosts[name] = ssh.Host{
			Name:    name,
			Address: def.Addr,
			Port:    def.Port,
			User:    def.User,
			KeyPath: def.IdentityFile,
		}
	}
	for name, members := range file.Targets {
		if name == AllTarget {
			return fmt.Errorf("target name %q is reserved (%s)", AllTarget, path)
		}
		f.targets[name] = append(f.targets[name], members...)
	}

	return nil
}

// ResolveTarget returns the hosts of a target. A bare host name resolves
// to that host alone.
func (f *fileInventory) ResolveTarget(name string) ([]ssh.Host, error) {
	if name == AllTarget {
		return f.AllHosts(), nil
	}

	hostNames, ok := f.targets[name]
	if !ok {
		if host, ok := f.hosts[name]; ok {
			return []ssh.Host{host}, nil
		}
		return nil, fmt.Errorf("target %q not found in inventory", name)
	}

	hosts := make([]ssh.Host, 0, len(hostNames))
	for _, hostName := range hostNames {
		host, ok := f.hosts[hostName]
		if !ok {
			return nil, fmt.Errorf("host %q referenced in target %q but not defined", hostName, name)
		}
		hosts = append(hosts, host)
	}

	return hosts, nil
}

func (f *fileInventory) AllHosts() []ssh.Host {
	names := make([]string, 0, len(f.hosts))
	for name := range f.hosts {
		names = append(names, name)
	}
	sort.Strings(names)

	hosts := make([]ssh.Host, 0, len(names))
	for _, name := range names {
		hosts = append(hosts, f.hosts[name])
	}
	return hosts
}
