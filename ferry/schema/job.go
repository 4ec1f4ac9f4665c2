package schema

type Job struct {
	// Local jobs run once on the operator's machine instead of on targets.
	Local bool `yaml:"local"`
	// Env declares the variables the job reads. A nil value marks the
	// variable as required; anything else is its default.
	Env     map[string]*string `yaml:"env"`
	Guard   *Guard             `yaml:"guard,omitempty"`
	Actions []Action           `yaml:"actions"`
}

type Guard struct {
	If string `yaml:"if"`
}

type Action struct {
	Name      string           `yaml:"name,omitempty"`
	Run       *ActionRun       `yaml:"run,omitempty"`
	Copy      *ActionCopy      `yaml:"copy,omitempty"`
	Template  *ActionTemplate  `yaml:"template,omitempty"`
	Gpg       *ActionGpg       `yaml:"gpg,omitempty"`
	Build     *ActionBuild     `yaml:"build,omitempty"`
	Container *ActionContainer `yaml:"container,omitempty"`
	Verify    *ActionVerify    `yaml:"verify,omitempty"`
}

// Kinds returns the action types that are set, in declaration order.
func (a Action) Kinds() []string {
	var kinds []string
	if a.Run != nil {
		kinds = append(kinds, "run")
	}
	if a.Copy != nil {
		kinds = append(kinds, "copy")
	}
	if a.Template != nil {
		kinds = append(kinds, "template")
	}
	if a.Gpg != nil {
		kinds = append(kinds, "gpg")
	}
	if a.Build != nil {
		kinds = append(kinds, "build")
	}
	if a.Container != nil {
		kinds = append(kinds, "container")
	}
	if a.Verify != nil {
		kinds = append(kinds, "verify")
	}
	return kinds
}

type ActionRun string

type ActionCopy struct {
	Src  string `yaml:"src"`
	Dst  string `yaml:"dst"`
	Mode uint32 `yaml:"mode,omitempty"`
}

// ActionTemplate is a copy whose source has ${VAR} references expanded.
type ActionTemplate struct {
	Src  string `yaml:"src"`
	Dst  string `yaml:"dst"`
	Mode uint32 `yaml:"mode,omitempty"`
}

type ActionGpg struct {
	Src     string `yaml:"src"`
	Path    string `yaml:"path"`
	Mode    uint32 `yaml:"mode,omitempty"`
	Dearmor bool   `yaml:"dearmor,omitempty"`
}

// ActionBuild builds and publishes a multi-architecture image.
type ActionBuild struct {
	Image      string   `yaml:"image"`
	Tag        string   `yaml:"tag"`
	Context    string   `yaml:"context,omitempty"`
	Dockerfile string   `yaml:"dockerfile,omitempty"`
	Platforms  []string `yaml:"platforms,omitempty"`
	// NoPush builds into the local cache only.
	NoPush          bool `yaml:"no_push,omitempty"`
	AllowMutableTag bool `yaml:"allow_mutable_tag,omitempty"`
}

// ActionContainer replaces the named container with a fresh pull of the
// image. The cached image is always force-removed before pulling.
type ActionContainer struct {
	Name            string            `yaml:"name"`
	Image           string            `yaml:"image"`
	Tag             string            `yaml:"tag"`
	Ports           []string          `yaml:"ports,omitempty"`
	Restart         string            `yaml:"restart,omitempty"`
	Env             map[string]string `yaml:"env,omitempty"`
	EnvFile         string            `yaml:"env_file,omitempty"`
	Sudo            bool              `yaml:"sudo,omitempty"`
	AllowMutableTag bool              `yaml:"allow_mutable_tag,omitempty"`
}

// ActionVerify issues one HTTP GET from the operator's machine.
type ActionVerify struct {
	URL      string   `yaml:"url"`
	Status   int      `yaml:"status,omitempty"`
	Contains string   `yaml:"contains,omitempty"`
	JSONKeys []string `yaml:"json_keys,omitempty"`
	// ExactKeys rejects JSON bodies carrying keys beyond JSONKeys.
	ExactKeys bool   `yaml:"exact_keys,omitempty"`
	Delay     string `yaml:"delay,omitempty"`
	Timeout   string `yaml:"timeout,omitempty"`
}
