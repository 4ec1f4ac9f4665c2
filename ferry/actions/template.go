package actions

import (
	"context"
	"fmt"
	"os"

	"github.com/SoftKiwiGames/ferry/ferry/schema"
	"github.com/SoftKiwiGames/ferry/ferry/types"
)

type TemplateAction struct {
	Src  string
	Dst  string
	Mode uint32
}

func NewTemplateAction(action *schema.ActionTemplate) Action {
	mode := action.Mode
	if mode == 0 {
		mode = defaultFileMode
	}
	return &TemplateAction{
		Src:  action.Src,
		Dst:  action.Dst,
		Mode: mode,
	}
}

func (a *TemplateAction) Render(env map[string]string) ([]byte, error) {
	raw, err := os.ReadFile(a.Src)
	if err != nil {
		return nil, fmt.Errorf("failed to read template %s: %w", a.Src, err)
	}

	rendered, err := expandEnv(string(raw), env)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", a.Src, err)
	}
	return []byte(rendered), nil
}

func (a *TemplateAction) Execute(ctx context.Context, runtime *types.Runtime) error {
	dst, err := expandEnv(a.Dst, runtime.Env)
	if err != nil {
		return fmt.Errorf("failed to expand dst: %w", err)
	}

	data, err := a.Render(runtime.Env)
	if err != nil {
		return err
	}

	return uploadIfChanged(ctx, runtime, data, dst, a.Mode)
}

func (a *TemplateAction) DryRun(ctx context.Context, runtime *types.Runtime) string {
	dst, _ := expandEnv(a.Dst, runtime.Env)
	return fmt.Sprintf("template: %s to %s (mode: %o)", a.Src, dst, a.Mode)
}
