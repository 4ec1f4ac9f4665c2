package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/SoftKiwiGames/ferry/ferry/image"
	"github.com/SoftKiwiGames/ferry/ferry/schema"
	"github.com/SoftKiwiGames/ferry/ferry/shell"
	"github.com/SoftKiwiGames/ferry/ferry/types"
)

// DefaultPlatforms are the architectures an image is built for when the
// job does not say otherwise.
var DefaultPlatforms = []string{"linux/amd64", "linux/arm64"}

// BuildAction builds an image with buildx and publishes it under a tag.
type BuildAction struct {
	Image           string
	Tag             string
	Context         string
	Dockerfile      string
	Platforms       []string
	NoPush          bool
	AllowMutableTag bool
}

func NewBuildAction(action *schema.ActionBuild) Action {
	platforms := action.Platforms
	if len(platforms) == 0 {
		platforms = DefaultPlatforms
	}
	buildContext := action.Context
	if buildContext == "" {
		buildContext = "."
	}
	return &BuildAction{
		Image:           action.Image,
		Tag:             action.Tag,
		Context:         buildContext,
		Dockerfile:      action.Dockerfile,
		Platforms:       platforms,
		NoPush:          action.NoPush,
		AllowMutableTag: action.AllowMutableTag,
	}
}

func (a *BuildAction) ref(env map[string]string) (image.Ref, error) {
	name, err := expandEnv(a.Image, env)
	if err != nil {
		return image.Ref{}, fmt.Errorf("failed to expand image: %w", err)
	}
	tag, err := expandEnv(a.Tag, env)
	if err != nil {
		return image.Ref{}, fmt.Errorf("failed to expand tag: %w", err)
	}

	ref, err := image.Parse(name, tag)
	if err != nil {
		return image.Ref{}, err
	}
	if err := image.CheckTag(ref, a.AllowMutableTag); err != nil {
		return image.Ref{}, err
	}
	return ref, nil
}

// Command returns the buildx invocation for ref.
func (a *BuildAction) Command(ref image.Ref) string {
	args := []string{
		"docker", "buildx", "build",
		"--platform", strings.Join(a.Platforms, ","),
		"--tag", ref.String(),
	}
	if a.Dockerfile != "" {
		args = append(args, "--file", a.Dockerfile)
	}
	switch {
	case !a.NoPush:
		args = append(args, "--push")
	case len(a.Platforms) == 1:
		// multi-platform results cannot be loaded into the local store
		args = append(args, "--load")
	}
	args = append(args, a.Context)

	return shell.Join(args...)
}

func (a *BuildAction) Execute(ctx context.Context, runtime *types.Runtime) error {
	ref, err := a.ref(runtime.Env)
	if err != nil {
		return err
	}

	sess, err := runtime.Client.Connect(ctx, runtime.Host)
	if err != nil {
		return fmt.Errorf("failed to connect to host: %w", err)
	}
	defer sess.Close()

	if err := sess.Run(ctx, a.Command(ref), runtime.Stdout, runtime.Stderr); err != nil {
		return fmt.Errorf("build of %s failed: %w", ref, err)
	}

	return nil
}

func (a *BuildAction) DryRun(ctx context.Context, runtime *types.Runtime) string {
	ref, err := a.ref(runtime.Env)
	if err != nil {
		return fmt.Sprintf("build: %s:%s (invalid: %v)", a.Image, a.Tag, err)
	}
	return fmt.Sprintf("build: %s", a.Command(ref))
}
