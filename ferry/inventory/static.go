package inventory

import "github.com/SoftKiwiGames/ferry/ferry/ssh"

// Static builds an inventory from hosts given on the command line. Each
// host is its own target and the target named target groups all of them.
func Static(target string, hosts ...ssh.Host) Inventory {
	inv := &fileInventory{
		hosts:   make(map[string]ssh.Host, len(hosts)),
		targets: make(map[string][]string),
	}
	for _, h := range hosts {
		inv.hosts[h.Name] = h
		inv.targets[target] = append(inv.targets[target], h.Name)
	}
	return inv
}
