package inventory

import "github.com/SoftKiwiGames/ferry/ferry/ssh"

// AllTarget resolves to every host in the inventory.
const AllTarget = "all"

type Inventory interface {
	ResolveTarget(name string) ([]ssh.Host, error)
	AllHosts() []ssh.Host
}
