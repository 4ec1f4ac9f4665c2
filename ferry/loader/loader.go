package loader

import (
	"fmt"
	"os"

	"github.com/SoftKiwiGames/ferry/ferry/schema"
	"github.com/SoftKiwiGames/ferry/ferry/shell"
	"github.com/SoftKiwiGames/ferry/ferry/utils"
	"gopkg.in/yaml.v3"
)

type Loader struct{}

func New() *Loader {
	return &Loader{}
}

// LoadFile parses a YAML file and returns the schema
func (l *Loader) LoadFile(path string) (*schema.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	var file schema.File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML %s: %w", path, err)
	}

	return &file, nil
}

// LoadDirectory merges every *.ferry.yaml file under dir. A job or plan
// defined in two files is an error.
func (l *Loader) LoadDirectory(dir string) (*schema.File, error) {
	paths, err := utils.FindFiles(dir, utils.IsConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no *.ferry.yaml files found in %s", dir)
	}

	merged := &schema.File{
		Jobs:  make(map[string]schema.Job),
		Plans: make(map[string]schema.Plan),
	}
	jobOrigin := make(map[string]string)
	planOrigin := make(map[string]string)

	for _, path := range paths {
		file, err := l.LoadFile(path)
		if err != nil {
			return nil, err
		}
		for name, job := range file.Jobs {
			if prev, ok := jobOrigin[name]; ok {
				return nil, fmt.Errorf("job %q defined in both %s and %s", name, prev, path)
			}
			jobOrigin[name] = path
			merged.Jobs[name] = job
		}
		for name, plan := range file.Plans {
			if prev, ok := planOrigin[name]; ok {
				return nil, fmt.Errorf("plan %q defined in both %s and %s", name, prev, path)
			}
			planOrigin[name] = path
			merged.Plans[name] = plan
		}
	}

	return merged, nil
}

// LoadJob retrieves a job by name from the file
func (l *Loader) LoadJob(file *schema.File, name string) (*schema.Job, error) {
	job, ok := file.Jobs[name]
	if !ok {
		return nil, fmt.Errorf("job %q not found", name)
	}
	return &job, nil
}

// LoadPlan retrieves a plan by name from the file
func (l *Loader) LoadPlan(file *schema.File, name string) (*schema.Plan, error) {
	plan, ok := file.Plans[name]
	if !ok {
		return nil, fmt.Errorf("plan %q not found", name)
	}
	return &plan, nil
}

// Validate checks the file for structural correctness
func (l *Loader) Validate(file *schema.File) error {
	for planName, plan := range file.Plans {
		if len(plan.Steps) == 0 {
			return fmt.Errorf("plan %q has no steps", planName)
		}
		for i, step := range plan.Steps {
			job, ok := file.Jobs[step.Job]
			if !ok {
				return fmt.Errorf("plan %q step %d references non-existent job %q", planName, i+1, step.Job)
			}
			if len(step.Targets) == 0 && !job.Local {
				return fmt.Errorf("plan %q step %d (%s) has no targets", planName, i+1, step.Title())
			}
			if step.Limit < 0 {
				return fmt.Errorf("plan %q step %d has negative limit", planName, i+1)
			}
		}
	}

	for jobName, job := range file.Jobs {
		if len(job.Actions) == 0 {
			return fmt.Errorf("job %q has no actions", jobName)
		}
		for i, action := range job.Actions {
			if err := validateAction(action); err != nil {
				return fmt.Errorf("job %q action %d: %w", jobName, i+1, err)
			}
		}
	}

	return nil
}

func validateAction(action schema.Action) error {
	kinds := action.Kinds()
	if len(kinds) == 0 {
		return fmt.Errorf("no action type set")
	}
	if len(kinds) > 1 {
		return fmt.Errorf("multiple action types set: %v", kinds)
	}

	switch {
	case action.Run != nil:
		if err := shell.Validate(string(*action.Run)); err != nil {
			return fmt.Errorf("run: invalid shell syntax: %w", err)
		}
	case action.Copy != nil:
		if action.Copy.Src == "" || action.Copy.Dst == "" {
			return fmt.Errorf("copy: src and dst are required")
		}
	case action.Template != nil:
		if action.Template.Src == "" || action.Template.Dst == "" {
			return fmt.Errorf("template: src and dst are required")
		}
	case action.Gpg != nil:
		if action.Gpg.Src == "" || action.Gpg.Path == "" {
			return fmt.Errorf("gpg: src and path are required")
		}
	case action.Build != nil:
		if action.Build.Image == "" || action.Build.Tag == "" {
			return fmt.Errorf("build: image and tag are required")
		}
	case action.Container != nil:
		c := action.Container
		if c.Name == "" || c.Image == "" || c.Tag == "" {
			return fmt.Errorf("container: name, image and tag are required")
		}
	case action.Verify != nil:
		if action.Verify.URL == "" {
			return fmt.Errorf("verify: url is required")
		}
	}

	return nil
}
