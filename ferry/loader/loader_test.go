package loader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/SoftKiwiGames/ferry/ferry/schema"
)

const jobsYAML = `jobs:
  build:
    local: true
    env:
      TAG:
    actions:
      - name: Build
        build:
          image: user/hello
          tag: ${TAG}
  redeploy:
    env:
      TAG:
      PORT: "3000"
    actions:
      - container:
          name: hello
          image: user/hello
          tag: ${TAG}
          ports: ["3000:3000"]
`

const plansYAML = `plans:
  deploy:
    steps:
      - job: build
      - job: redeploy
        targets: [web]
`

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLoadDirectory_Merges(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"jobs.ferry.yaml":  jobsYAML,
		"plans.ferry.yaml": plansYAML,
		"README.md":        "ignored",
	})

	l := New()
	file, err := l.LoadDirectory(dir)
	if err != nil {
		t.Fatalf("LoadDirectory() error = %v", err)
	}

	if len(file.Jobs) != 2 || len(file.Plans) != 1 {
		t.Fatalf("got %d jobs and %d plans", len(file.Jobs), len(file.Plans))
	}
	if err := l.Validate(file); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	job := file.Jobs["redeploy"]
	if job.Env["TAG"] != nil {
		t.Error("TAG should be required (nil default)")
	}
	if job.Env["PORT"] == nil || *job.Env["PORT"] != "3000" {
		t.Error("PORT default not parsed")
	}
}

func TestLoadDirectory_DuplicateJob(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.ferry.yaml": jobsYAML,
		"b.ferry.yaml": jobsYAML,
	})

	_, err := New().LoadDirectory(dir)
	if err == nil || !strings.Contains(err.Error(), "defined in both") {
		t.Errorf("expected duplicate error, got %v", err)
	}
}

func TestLoadDirectory_Empty(t *testing.T) {
	if _, err := New().LoadDirectory(t.TempDir()); err == nil {
		t.Error("expected error for directory without config files")
	}
}

func runAction(cmd string) schema.Action {
	r := schema.ActionRun(cmd)
	return schema.Action{Run: &r}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		file    *schema.File
		wantErr string
	}{
		{
			name: "missing job",
			file: &schema.File{
				Plans: map[string]schema.Plan{"p": {Steps: []schema.Step{{Job: "nope", Targets: []string{"web"}}}}},
			},
			wantErr: "non-existent job",
		},
		{
			name: "remote step without targets",
			file: &schema.File{
				Jobs:  map[string]schema.Job{"j": {Actions: []schema.Action{runAction("true")}}},
				Plans: map[string]schema.Plan{"p": {Steps: []schema.Step{{Job: "j"}}}},
			},
			wantErr: "no targets",
		},
		{
			name: "action without type",
			file: &schema.File{
				Jobs: map[string]schema.Job{"j": {Actions: []schema.Action{{Name: "empty"}}}},
			},
			wantErr: "no action type set",
		},
		{
			name: "action with two types",
			file: &schema.File{
				Jobs: map[string]schema.Job{"j": {Actions: []schema.Action{{
					Run:  runAction("true").Run,
					Copy: &schema.ActionCopy{Src: "a", Dst: "b"},
				}}}},
			},
			wantErr: "multiple action types",
		},
		{
			name: "bad shell syntax",
			file: &schema.File{
				Jobs: map[string]schema.Job{"j": {Actions: []schema.Action{runAction("if then (")}}},
			},
			wantErr: "invalid shell syntax",
		},
		{
			name: "container without tag",
			file: &schema.File{
				Jobs: map[string]schema.Job{"j": {Actions: []schema.Action{{
					Container: &schema.ActionContainer{Name: "hello", Image: "user/hello"},
				}}}},
			},
			wantErr: "name, image and tag are required",
		},
		{
			name: "local step needs no targets",
			file: &schema.File{
				Jobs:  map[string]schema.Job{"j": {Local: true, Actions: []schema.Action{runAction("true")}}},
				Plans: map[string]schema.Plan{"p": {Steps: []schema.Step{{Job: "j"}}}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New().Validate(tt.file)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
