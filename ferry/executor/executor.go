package executor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/SoftKiwiGames/ferry/ferry/actions"
	"github.com/SoftKiwiGames/ferry/ferry/inventory"
	"github.com/SoftKiwiGames/ferry/ferry/loader"
	"github.com/SoftKiwiGames/ferry/ferry/rollout"
	"github.com/SoftKiwiGames/ferry/ferry/schema"
	"github.com/SoftKiwiGames/ferry/ferry/ssh"
	"github.com/SoftKiwiGames/ferry/ferry/types"
	"github.com/SoftKiwiGames/ferry/ferry/ui"
	"github.com/google/uuid"
)

type Executor interface {
	ExecutePlan(ctx context.Context, file *schema.File, planName string, inv inventory.Inventory, targets []string, env map[string]string) (*Result, error)
	DryRun(ctx context.Context, file *schema.File, planName string, inv inventory.Inventory, targets []string, env map[string]string) error
}

type Result struct {
	RunID      string
	StartTime  time.Time
	EndTime    time.Time
	Failed     bool
	FailedStep string
	FailedHost string
	Error      error
}

func (r *Result) fail(step, host string, err error) (*Result, error) {
	r.Failed = true
	r.FailedStep = step
	r.FailedHost = host
	r.Error = err
	r.EndTime = time.Now()
	return r, err
}

type executor struct {
	sshClient   ssh.Client
	localClient ssh.Client
	ui          *ui.Output
}

// New returns an executor that runs remote jobs through sshClient and local
// jobs through localClient.
func New(sshClient, localClient ssh.Client, stdout, stderr io.Writer) Executor {
	return &executor{
		sshClient:   sshClient,
		localClient: localClient,
		ui:          ui.NewOutput(stdout, stderr),
	}
}

// NewRunID returns a sortable id unique to one plan execution.
func NewRunID() string {
	return "ferry-" + time.Now().Format("20060102-150405") + "-" + uuid.NewString()[:8]
}

// stepContext is a step with everything resolved for execution.
type stepContext struct {
	job    *schema.Job
	client ssh.Client
	target string
	hosts  []ssh.Host
	env    map[string]string
}

func (e *executor) prepareStep(file *schema.File, plan *schema.Plan, step *schema.Step, inv inventory.Inventory, targets []string, env map[string]string) (*stepContext, error) {
	job, ok := file.Jobs[step.Job]
	if !ok {
		return nil, fmt.Errorf("job %q not found", step.Job)
	}

	sc := &stepContext{
		job: &job,
		env: loader.MergeEnv(&job, plan, step, env),
	}

	if job.Local {
		sc.client = e.localClient
		sc.hosts = []ssh.Host{ssh.LocalHost}
		return sc, nil
	}

	stepTargets := step.Targets
	if len(targets) > 0 {
		stepTargets = targets
	}
	if len(stepTargets) == 0 {
		return nil, fmt.Errorf("no targets for job %q", step.Job)
	}

	seen := make(map[string]bool)
	for _, name := range stepTargets {
		hosts, err := inv.ResolveTarget(name)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve target %q: %w", name, err)
		}
		for _, h := range hosts {
			if !seen[h.Name] {
				seen[h.Name] = true
				sc.hosts = append(sc.hosts, h)
			}
		}
	}

	sc.client = e.sshClient
	sc.target = strings.Join(stepTargets, ",")
	return sc, nil
}

func (e *executor) ExecutePlan(ctx context.Context, file *schema.File, planName string, inv inventory.Inventory, targets []string, env map[string]string) (*Result, error) {
	result := &Result{
		RunID:     NewRunID(),
		StartTime: time.Now(),
	}

	plan, ok := file.Plans[planName]
	if !ok {
		return result.fail("", "", fmt.Errorf("plan %q not found", planName))
	}

	e.ui.PlanStarted(planName, result.RunID)

	for i, step := range plan.Steps {
		title := step.Title()
		e.ui.StepProgress(i+1, len(plan.Steps), title)
		e.ui.Info("  Job: %s", step.Job)

		sc, err := e.prepareStep(file, &plan, &step, inv, targets, env)
		if err != nil {
			return result.fail(title, "", err)
		}

		strategy, err := rollout.ParseStrategy(step.Parallelism, len(sc.hosts))
		if err != nil {
			return result.fail(title, "", fmt.Errorf("invalid parallelism: %w", err))
		}
		strategy.Limit = step.Limit

		batches := strategy.CreateBatches(sc.hosts)
		selected := len(sc.hosts)
		if step.Limit > 0 && step.Limit < selected {
			e.ui.Info("  Limiting to %d of %d hosts (canary)", step.Limit, selected)
			selected = step.Limit
		}
		e.ui.Info("  Hosts: %d, batches: %d", selected, len(batches))

		for batchIdx, batch := range batches {
			if len(batches) > 1 {
				e.ui.BatchProgress(batchIdx+1, len(batches), len(batch))
			}

			if host, err := e.executeBatch(ctx, sc, planName, result.RunID, batch); err != nil {
				return result.fail(title, host, err)
			}
		}

		e.ui.Success("Step completed: %s", title)
	}

	result.EndTime = time.Now()
	e.ui.PlanCompleted(result.EndTime.Sub(result.StartTime))

	return result, nil
}

// executeBatch runs the job on every host of the batch in parallel and
// waits for all of them. The first failure is returned with its host.
func (e *executor) executeBatch(ctx context.Context, sc *stepContext, plan, runID string, hosts []ssh.Host) (string, error) {
	type result struct {
		host ssh.Host
		err  error
	}

	resultChan := make(chan result, len(hosts))
	var wg sync.WaitGroup

	for _, host := range hosts {
		wg.Add(1)
		go func(h ssh.Host) {
			defer wg.Done()

			err := e.executeJob(ctx, sc, plan, runID, h)
			if err != nil {
				e.ui.HostError(h.Name, err)
			}
			resultChan <- result{host: h, err: err}
		}(host)
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	var first *result
	for res := range resultChan {
		if res.err != nil && first == nil {
			r := res
			first = &r
		}
	}

	if first != nil {
		return first.host.Name, fmt.Errorf("job failed on host %s: %w", first.host.Name, first.err)
	}
	return "", nil
}

func (e *executor) executeJob(ctx context.Context, sc *stepContext, plan, runID string, host ssh.Host) error {
	stdout := newHostWriter(e.ui, host.Name, false)
	stderr := newHostWriter(e.ui, host.Name, true)
	defer stdout.Flush()
	defer stderr.Flush()

	runtime := types.NewRuntime(sc.client, runID, plan, sc.target, host, sc.env).WithOutput(stdout, stderr)

	if sc.job.Guard != nil {
		guard, err := actions.EvaluateGuard(ctx, sc.job.Guard, runtime)
		if err != nil {
			return err
		}
		if !guard.Pass {
			e.ui.HostLog(host.Name, "skipped (%s)", actions.FormatGuardCondition(sc.job.Guard, runtime.Env))
			return nil
		}
	}

	e.ui.HostLog(host.Name, "executing job")

	for i := range sc.job.Actions {
		spec := &sc.job.Actions[i]
		action, err := CreateAction(spec)
		if err != nil {
			return fmt.Errorf("action %d: %w", i+1, err)
		}

		if err := action.Execute(ctx, runtime); err != nil {
			return fmt.Errorf("action %d (%s) failed: %w", i+1, actionLabel(spec), err)
		}
	}

	e.ui.HostLog(host.Name, "job completed")
	return nil
}

func actionLabel(a *schema.Action) string {
	if a.Name != "" {
		return a.Name
	}
	return strings.Join(a.Kinds(), ",")
}

// CreateAction maps an action definition to its implementation.
func CreateAction(spec *schema.Action) (actions.Action, error) {
	switch {
	case spec.Run != nil:
		return actions.NewRunAction(spec.Run), nil
	case spec.Copy != nil:
		return actions.NewCopyAction(spec.Copy), nil
	case spec.Template != nil:
		return actions.NewTemplateAction(spec.Template), nil
	case spec.Gpg != nil:
		return actions.NewGpgAction(spec.Gpg), nil
	case spec.Build != nil:
		return actions.NewBuildAction(spec.Build), nil
	case spec.Container != nil:
		return actions.NewContainerAction(spec.Container), nil
	case spec.Verify != nil:
		return actions.NewVerifyAction(spec.Verify)
	}

	return nil, fmt.Errorf("no action type specified")
}

func (e *executor) DryRun(ctx context.Context, file *schema.File, planName string, inv inventory.Inventory, targets []string, env map[string]string) error {
	plan, ok := file.Plans[planName]
	if !ok {
		return fmt.Errorf("plan %q not found", planName)
	}

	runID := NewRunID()
	e.ui.DryRunHeader(planName)

	for i, step := range plan.Steps {
		e.ui.StepProgress(i+1, len(plan.Steps), step.Title())
		e.ui.Info("  Job: %s", step.Job)

		sc, err := e.prepareStep(file, &plan, &step, inv, targets, env)
		if err != nil {
			return err
		}

		strategy, err := rollout.ParseStrategy(step.Parallelism, len(sc.hosts))
		if err != nil {
			return fmt.Errorf("invalid parallelism: %w", err)
		}
		strategy.Limit = step.Limit

		for _, batch := range strategy.CreateBatches(sc.hosts) {
			for _, host := range batch {
				runtime := types.NewRuntime(sc.client, runID, planName, sc.target, host, sc.env)

				e.ui.Info("\n  [%s]", host.Name)
				if sc.job.Guard != nil {
					e.ui.Info("    ? %s", actions.FormatGuardCondition(sc.job.Guard, runtime.Env))
				}
				for j := range sc.job.Actions {
					action, err := CreateAction(&sc.job.Actions[j])
					if err != nil {
						return err
					}
					e.ui.Info("    - %s", action.DryRun(ctx, runtime))
				}
			}
		}
	}

	return nil
}
