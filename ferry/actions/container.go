package actions

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/SoftKiwiGames/ferry/ferry/image"
	"github.com/SoftKiwiGames/ferry/ferry/schema"
	"github.com/SoftKiwiGames/ferry/ferry/shell"
	"github.com/SoftKiwiGames/ferry/ferry/ssh"
	"github.com/SoftKiwiGames/ferry/ferry/types"
)

const DefaultRestartPolicy = "always"

var (
	restartPolicyPattern = regexp.MustCompile(`^(no|always|unless-stopped|on-failure(:[0-9]+)?)$`)
	portPattern          = regexp.MustCompile(`^([0-9.]+:)?([0-9]{1,5}:)?[0-9]{1,5}(/(tcp|udp))?$`)
	containerNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)
)

// ContainerAction replaces a named container with a fresh pull of an
// image. The sequence is fixed:
//
//	stop -> rm -> rmi -f -> pull -> run -> check
//
// The cached image is removed even when the tag is unchanged, otherwise a
// moved tag would keep running stale content after a "successful" pull.
type ContainerAction struct {
	Name            string
	Image           string
	Tag             string
	Ports           []string
	Restart         string
	Env             map[string]string
	EnvFile         string
	Sudo            bool
	AllowMutableTag bool
}

func NewContainerAction(action *schema.ActionContainer) Action {
	restart := action.Restart
	if restart == "" {
		restart = DefaultRestartPolicy
	}
	return &ContainerAction{
		Name:            action.Name,
		Image:           action.Image,
		Tag:             action.Tag,
		Ports:           action.Ports,
		Restart:         restart,
		Env:             action.Env,
		EnvFile:         action.EnvFile,
		Sudo:            action.Sudo,
		AllowMutableTag: action.AllowMutableTag,
	}
}

// containerSpec is the action with every ${VAR} resolved.
type containerSpec struct {
	name    string
	ref     image.Ref
	ports   []string
	restart string
	env     map[string]string
	envFile string
}

func (a *ContainerAction) resolve(env map[string]string) (*containerSpec, error) {
	name, err := expandEnv(a.Name, env)
	if err != nil {
		return nil, fmt.Errorf("failed to expand name: %w", err)
	}
	if !containerNamePattern.MatchString(name) {
		return nil, fmt.Errorf("invalid container name %q", name)
	}

	imageName, err := expandEnv(a.Image, env)
	if err != nil {
		return nil, fmt.Errorf("failed to expand image: %w", err)
	}
	tag, err := expandEnv(a.Tag, env)
	if err != nil {
		return nil, fmt.Errorf("failed to expand tag: %w", err)
	}
	ref, err := image.Parse(imageName, tag)
	if err != nil {
		return nil, err
	}
	if err := image.CheckTag(ref, a.AllowMutableTag); err != nil {
		return nil, err
	}

	if !restartPolicyPattern.MatchString(a.Restart) {
		return nil, fmt.Errorf("invalid restart policy %q", a.Restart)
	}

	spec := &containerSpec{
		name:    name,
		ref:     ref,
		restart: a.Restart,
		env:     make(map[string]string, len(a.Env)),
	}

	for _, p := range a.Ports {
		port, err := expandEnv(p, env)
		if err != nil {
			return nil, fmt.Errorf("failed to expand port %q: %w", p, err)
		}
		if !portPattern.MatchString(port) {
			return nil, fmt.Errorf("invalid port mapping %q", port)
		}
		spec.ports = append(spec.ports, port)
	}

	for k, v := range a.Env {
		value, err := expandEnv(v, env)
		if err != nil {
			return nil, fmt.Errorf("failed to expand env %s: %w", k, err)
		}
		spec.env[k] = value
	}

	if a.EnvFile != "" {
		if spec.envFile, err = expandEnv(a.EnvFile, env); err != nil {
			return nil, fmt.Errorf("failed to expand env_file: %w", err)
		}
	}

	return spec, nil
}

type containerStep struct {
	cmd string
	// tolerant steps may fail; a missing container or image is fine
	tolerant bool
}

func (a *ContainerAction) docker(args ...string) string {
	cmd := shell.Join(append([]string{"docker"}, args...)...)
	if a.Sudo {
		cmd = "sudo " + cmd
	}
	return cmd
}

func (a *ContainerAction) steps(spec *containerSpec) []containerStep {
	ref := spec.ref.String()

	run := []string{"run", "--detach", "--name", spec.name, "--restart", spec.restart}
	for _, p := range spec.ports {
		run = append(run, "--publish", p)
	}
	if spec.envFile != "" {
		run = append(run, "--env-file", spec.envFile)
	}
	keys := make([]string, 0, len(spec.env))
	for k := range spec.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		run = append(run, "--env", k+"="+spec.env[k])
	}
	run = append(run, ref)

	return []containerStep{
		{cmd: a.docker("stop", spec.name), tolerant: true},
		{cmd: a.docker("rm", spec.name), tolerant: true},
		{cmd: a.docker("rmi", "--force", ref), tolerant: true},
		{cmd: a.docker("pull", ref)},
		{cmd: a.docker(run...)},
	}
}

// Commands returns the shell commands Execute runs, in order.
func (a *ContainerAction) Commands(env map[string]string) ([]string, error) {
	spec, err := a.resolve(env)
	if err != nil {
		return nil, err
	}

	var cmds []string
	for _, s := range a.steps(spec) {
		cmds = append(cmds, s.cmd)
	}
	return cmds, nil
}

func (a *ContainerAction) Execute(ctx context.Context, runtime *types.Runtime) error {
	spec, err := a.resolve(runtime.Env)
	if err != nil {
		return err
	}

	sess, err := runtime.Client.Connect(ctx, runtime.Host)
	if err != nil {
		return fmt.Errorf("failed to connect to host: %w", err)
	}
	defer sess.Close()

	for _, step := range a.steps(spec) {
		if step.tolerant {
			// output of cleanup steps is noise when nothing was running
			if err := sess.Run(ctx, step.cmd, io.Discard, io.Discard); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if err := sess.Run(ctx, step.cmd, runtime.Stdout, runtime.Stderr); err != nil {
			return fmt.Errorf("%s: %w", step.cmd, err)
		}
	}

	return a.checkRunning(ctx, sess, spec)
}

// checkRunning asserts that exactly one running container carries the
// name, that it runs the requested image and publishes every port mapping.
func (a *ContainerAction) checkRunning(ctx context.Context, sess ssh.Session, spec *containerSpec) error {
	var stdout bytes.Buffer
	cmd := a.docker("ps", "--filter", "name="+spec.name, "--format", "{{.Names}}|{{.Image}}|{{.Ports}}")
	if err := sess.Run(ctx, cmd, &stdout, io.Discard); err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	var matches [][]string
	for _, line := range strings.Split(strings.TrimSpace(stdout.String()), "\n") {
		fields := strings.SplitN(line, "|", 3)
		if len(fields) >= 2 && fields[0] == spec.name {
			matches = append(matches, fields)
		}
	}

	switch {
	case len(matches) == 0:
		return fmt.Errorf("container %s is not running after start", spec.name)
	case len(matches) > 1:
		return fmt.Errorf("expected one container named %s, found %d", spec.name, len(matches))
	case !sameImage(matches[0][1], spec.ref):
		return fmt.Errorf("container %s runs %s, expected %s", spec.name, matches[0][1], spec.ref)
	}

	var published string
	if len(matches[0]) == 3 {
		published = matches[0][2]
	}
	for _, p := range spec.ports {
		if !publishes(published, p) {
			return fmt.Errorf("container %s does not publish %s (ports: %q)", spec.name, p, published)
		}
	}
	return nil
}

// publishes reports whether the Ports column of `docker ps`, e.g.
// "0.0.0.0:3000->3000/tcp, [::]:3000->3000/tcp", contains mapping.
func publishes(ports, mapping string) bool {
	proto := "tcp"
	if i := strings.Index(mapping, "/"); i >= 0 {
		mapping, proto = mapping[:i], mapping[i+1:]
	}

	parts := strings.Split(mapping, ":")
	suffix := "->" + parts[len(parts)-1] + "/" + proto
	var hostIP string
	switch len(parts) {
	case 2:
		suffix = ":" + parts[0] + suffix
	case 3:
		hostIP = parts[0]
		suffix = ":" + parts[1] + suffix
	}

	for _, entry := range strings.Split(ports, ", ") {
		entry = strings.TrimSpace(entry)
		if strings.HasSuffix(entry, suffix) && strings.HasPrefix(entry, hostIP) {
			return true
		}
	}
	return false
}

// sameImage compares what `docker ps` prints with ref. docker prints the
// reference as given to `run`, which may be fully qualified.
func sameImage(reported string, ref image.Ref) bool {
	got, err := image.Parse(reported, "")
	if err != nil {
		return false
	}
	return got.Name == ref.Name && got.Tag == ref.Tag
}

func (a *ContainerAction) DryRun(ctx context.Context, runtime *types.Runtime) string {
	cmds, err := a.Commands(runtime.Env)
	if err != nil {
		return fmt.Sprintf("container: %s (invalid: %v)", a.Name, err)
	}
	return "container: " + strings.Join(cmds, " && ")
}
