package actions

import (
	"context"
	"fmt"

	"github.com/SoftKiwiGames/ferry/ferry/schema"
	"github.com/SoftKiwiGames/ferry/ferry/types"
)

type RunAction struct {
	Command string
}

func NewRunAction(action *schema.ActionRun) Action {
	return &RunAction{Command: string(*action)}
}

func (a *RunAction) Execute(ctx context.Context, runtime *types.Runtime) error {
	sess, err := runtime.Client.Connect(ctx, runtime.Host)
	if err != nil {
		return fmt.Errorf("failed to connect to host: %w", err)
	}
	defer sess.Close()

	// The job env is exported so the script sees it like any other
	// environment variable.
	cmd := exportPrefix(runtime.Env) + a.Command

	if err := sess.Run(ctx, cmd, runtime.Stdout, runtime.Stderr); err != nil {
		return fmt.Errorf("command execution failed: %w", err)
	}

	return nil
}

func (a *RunAction) DryRun(ctx context.Context, runtime *types.Runtime) string {
	return fmt.Sprintf("run: %s", a.Command)
}
