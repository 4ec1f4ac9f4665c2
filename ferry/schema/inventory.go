package schema

// Inventory is the hosts/targets part of a config file.
type Inventory struct {
	Hosts   map[string]HostDef  `yaml:"hosts"`
	Targets map[string][]string `yaml:"targets"`
}

type HostDef struct {
	Addr         string `yaml:"addr"`
	Port         int    `yaml:"port,omitempty"`
	User         string `yaml:"user"`
	IdentityFile string `yaml:"identity_file"`
}
