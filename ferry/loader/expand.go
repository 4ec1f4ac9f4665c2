package loader

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/SoftKiwiGames/ferry/ferry/schema"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

const reservedPrefix = "FERRY_"

// ExpandEnv performs ${VAR} expansion of CLI values against the OS
// environment. Missing OS variables and FERRY_* keys are errors.
func (l *Loader) ExpandEnv(env map[string]string) (map[string]string, error) {
	for key := range env {
		if strings.HasPrefix(key, reservedPrefix) {
			return nil, fmt.Errorf("user cannot define %s* environment variables: %s", reservedPrefix, key)
		}
	}

	expanded := make(map[string]string, len(env))
	for key, value := range env {
		expandedValue, err := expandString(value)
		if err != nil {
			return nil, fmt.Errorf("failed to expand env var %s: %w", key, err)
		}
		expanded[key] = expandedValue
	}

	return expanded, nil
}

func expandString(s string) (string, error) {
	var missingVars []string

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]

		value, ok := os.LookupEnv(varName)
		if !ok {
			missingVars = append(missingVars, varName)
			return match
		}
		return value
	})

	if len(missingVars) > 0 {
		return "", fmt.Errorf("missing OS environment variables: %s", strings.Join(missingVars, ", "))
	}

	return result, nil
}

// MergeEnv resolves the env for one step. Priority: CLI > step > plan >
// job defaults. Only keys the job declares or that are set explicitly end
// up in the result.
func MergeEnv(job *schema.Job, plan *schema.Plan, step *schema.Step, cli map[string]string) map[string]string {
	merged := make(map[string]string)
	for k, v := range job.Env {
		if v != nil {
			merged[k] = *v
		}
	}
	if plan != nil {
		for k, v := range plan.Env {
			merged[k] = v
		}
	}
	if step != nil {
		for k, v := range step.Env {
			merged[k] = v
		}
	}
	for k, v := range cli {
		merged[k] = v
	}
	return merged
}

// ValidatePlanEnv checks that every required job variable is provided for
// every step of the plan.
func ValidatePlanEnv(file *schema.File, planName string, cli map[string]string) error {
	plan, ok := file.Plans[planName]
	if !ok {
		return fmt.Errorf("plan %q not found", planName)
	}

	for i, step := range plan.Steps {
		job, ok := file.Jobs[step.Job]
		if !ok {
			return fmt.Errorf("step %d references non-existent job %q", i+1, step.Job)
		}

		env := MergeEnv(&job, &plan, &step, cli)

		var missing []string
		for key, def := range job.Env {
			if def != nil {
				continue
			}
			if _, ok := env[key]; !ok {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return fmt.Errorf("step %d (%s): missing required env: %s", i+1, step.Title(), strings.Join(missing, ", "))
		}
	}

	return nil
}
