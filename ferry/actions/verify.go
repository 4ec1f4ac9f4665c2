package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/SoftKiwiGames/ferry/ferry/config"
	"github.com/SoftKiwiGames/ferry/ferry/schema"
	"github.com/SoftKiwiGames/ferry/ferry/types"
)

const (
	defaultVerifyTimeout = 10 * time.Second
	maxVerifyBody        = 1 << 20
)

// VerifyAction checks a deployment from the outside with a single GET.
// It never retries; a failed check fails the step.
type VerifyAction struct {
	URL      string
	Status   int
	Contains string
	JSONKeys []string
	// ExactKeys fails the check when the body has keys beyond JSONKeys.
	ExactKeys bool
	Delay     time.Duration
	Timeout   time.Duration

	httpClient *http.Client
}

func NewVerifyAction(action *schema.ActionVerify) (Action, error) {
	status := action.Status
	if status == 0 {
		status = http.StatusOK
	}

	timeout := defaultVerifyTimeout
	if action.Timeout != "" {
		d, err := time.ParseDuration(action.Timeout)
		if err != nil {
			return nil, fmt.Errorf("verify: invalid timeout %q: %w", action.Timeout, err)
		}
		timeout = d
	}

	var delay time.Duration
	if action.Delay != "" {
		d, err := time.ParseDuration(action.Delay)
		if err != nil {
			return nil, fmt.Errorf("verify: invalid delay %q: %w", action.Delay, err)
		}
		delay = d
	}

	return &VerifyAction{
		URL:        action.URL,
		Status:     status,
		Contains:   action.Contains,
		JSONKeys:   action.JSONKeys,
		ExactKeys:  action.ExactKeys,
		Delay:      delay,
		Timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (a *VerifyAction) Execute(ctx context.Context, runtime *types.Runtime) error {
	url, err := expandEnv(a.URL, runtime.Env)
	if err != nil {
		return fmt.Errorf("failed to expand url: %w", err)
	}

	if a.Delay > 0 {
		select {
		case <-time.After(a.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "ferry/"+config.Version)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxVerifyBody))
	if err != nil {
		return fmt.Errorf("GET %s: failed to read body: %w", url, err)
	}

	if err := a.check(resp.StatusCode, body); err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}

	fmt.Fprintf(runtime.Stdout, "  GET %s -> %d\n", url, resp.StatusCode)
	return nil
}

func (a *VerifyAction) check(status int, body []byte) error {
	if status != a.Status {
		return fmt.Errorf("status %d, expected %d", status, a.Status)
	}

	if a.Contains != "" && !strings.Contains(string(body), a.Contains) {
		return fmt.Errorf("body does not contain %q", a.Contains)
	}

	if len(a.JSONKeys) > 0 {
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(body, &doc); err != nil {
			return fmt.Errorf("body is not a JSON object: %w", err)
		}
		var missing []string
		for _, key := range a.JSONKeys {
			if _, ok := doc[key]; !ok {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("JSON body is missing keys: %s", strings.Join(missing, ", "))
		}
		if a.ExactKeys && len(doc) != len(a.JSONKeys) {
			return fmt.Errorf("JSON body has unexpected keys: %s", strings.Join(extraKeys(doc, a.JSONKeys), ", "))
		}
	}

	return nil
}

func extraKeys(doc map[string]json.RawMessage, want []string) []string {
	known := make(map[string]bool, len(want))
	for _, k := range want {
		known[k] = true
	}
	var extra []string
	for k := range doc {
		if !known[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return extra
}

func (a *VerifyAction) DryRun(ctx context.Context, runtime *types.Runtime) string {
	url, _ := expandEnv(a.URL, runtime.Env)
	desc := fmt.Sprintf("verify: GET %s expect %d", url, a.Status)
	if len(a.JSONKeys) > 0 {
		desc += fmt.Sprintf(" with keys %s", strings.Join(a.JSONKeys, ","))
		if a.ExactKeys {
			desc += " only"
		}
	}
	return desc
}
