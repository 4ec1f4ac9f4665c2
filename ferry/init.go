package ferry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/wzshiming/ctc"
)

type templateFile struct {
	filename string
	content  string
}

var initFiles = []templateFile{
	{filename: "ferry.yaml", content: settingsTemplate},
	{filename: "stack.ferry.hcl", content: stackTemplate},
	{filename: "hosts.ferry.yaml", content: hostsTemplate},
	{filename: "jobs.ferry.yaml", content: jobsTemplate},
	{filename: "plans.ferry.yaml", content: plansTemplate},
	{filename: "tpl/docker.list", content: dockerListTemplate},
	{filename: "tpl/app.env", content: appEnvTemplate},
}

func (f *Ferry) buildInitCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new ferry project with example files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.runInit(dir)
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "ferry", "Directory to write the example project to")

	return cmd
}

// runInit writes the example project under dir. Existing files are kept.
func (f *Ferry) runInit(dir string) error {
	maxLen := 0
	for _, t := range initFiles {
		if n := len(filepath.Join(dir, t.filename)); n > maxLen {
			maxLen = n
		}
	}

	failed := 0
	for _, t := range initFiles {
		path := filepath.Join(dir, t.filename)
		padding := strings.Repeat(" ", maxLen-len(path))

		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(f.stdout, "  %s%s   ..%sskipped%s\n", path, padding, ctc.ForegroundYellow, ctc.Reset)
			continue
		}

		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			fmt.Fprintf(f.stdout, "  %s%s   ..%sfailed%s (%s)\n", path, padding, ctc.ForegroundRed, ctc.Reset, err)
			failed++
			continue
		}

		if err := os.WriteFile(path, []byte(t.content), 0644); err != nil {
			fmt.Fprintf(f.stdout, "  %s%s   ..%sfailed%s (%s)\n", path, padding, ctc.ForegroundRed, ctc.Reset, err)
			failed++
			continue
		}

		fmt.Fprintf(f.stdout, "  %s%s   ..%screated%s\n", path, padding, ctc.ForegroundGreen, ctc.Reset)
	}

	if failed > 0 {
		return fmt.Errorf("%d file(s) could not be written", failed)
	}
	return nil
}

var settingsTemplate = `# Defaults for ferry commands. FERRY_* environment variables override
# these, e.g. FERRY_PROVISION_REGION.
server:
  port: 3000
  message: My application

provision:
  region: eu-central-1
  instance_type: t3.micro
  key_name: deploy

deploy:
  image: user/hello
  user: ubuntu
  identity_file: ~/.ssh/id_ed25519
  platforms: [linux/amd64, linux/arm64]

log:
  level: info
  format: console
`

var stackTemplate = `stack "hello" {
  region        = var.region
  instance_type = var.instance_type
  key_name      = var.key_name

  image {
    name_pattern = "ubuntu/images/hvm-ssd-gp3/ubuntu-noble-24.04-amd64-server-*"
    owners       = ["099720109477"]
    architecture = "x86_64"
  }

  security_group {
    name          = "hello"
    ingress_ports = [22, 3000]
  }

  container {
    image          = "user/hello:0.0.1"
    port           = 3000
    container_port = 3000
    restart        = "always"
  }
}
`

var hostsTemplate = `hosts:
  app-1:
    addr: 203.0.113.10
    port: 22
    user: ubuntu
    identity_file: ~/.ssh/id_ed25519

targets:
  app: [app-1]
`

var jobsTemplate = `jobs:
  install-docker:
    guard:
      if: "! command -v docker"
    actions:
      - name: Install deps
        run: |
          set -e
          sudo apt-get update
          sudo apt-get install -y ca-certificates curl

      - name: GPG
        gpg:
          src: https://download.docker.com/linux/ubuntu/gpg
          path: /etc/apt/keyrings/docker.gpg
          dearmor: true

      - name: Configure apt
        template:
          src: tpl/docker.list
          dst: /tmp/docker.list
          mode: 0644

      - name: Install
        run: |
          set -e
          sudo mv /tmp/docker.list /etc/apt/sources.list.d/docker.list
          sudo apt-get update
          sudo apt-get install -y docker-ce docker-ce-cli containerd.io
          sudo usermod -aG docker ${FERRY_HOST_USER}

  app-config:
    actions:
      - name: Environment file
        template:
          src: tpl/app.env
          dst: /home/ubuntu/hello.env
          mode: 0600

  build:
    local: true
    env:
      TAG:
    actions:
      - name: Build and push
        build:
          image: user/hello
          tag: ${TAG}
          context: .
          platforms: [linux/amd64, linux/arm64]

  container:
    env:
      TAG:
    actions:
      - name: Replace container
        container:
          name: hello
          image: user/hello
          tag: ${TAG}
          ports: ["3000:3000"]
          restart: always
          env_file: /home/ubuntu/hello.env
          sudo: true

  verify:
    actions:
      - name: Check /test
        verify:
          url: http://${FERRY_HOST_ADDR}:3000/test
          status: 200
          json_keys: [message, version]
          exact_keys: true
          delay: 3s
`

var plansTemplate = `plans:
  bootstrap:
    steps:
      - job: install-docker
        targets: [app]

      - job: app-config
        targets: [app]

  deploy:
    env:
      TAG: 0.0.1
    steps:
      - name: Build and push image
        job: build

      - name: Replace container
        job: container
        targets: [app]
        parallelism: "1"

      - name: Verify
        job: verify
        targets: [app]
        parallelism: "1"
`

var dockerListTemplate = `deb [arch=amd64 signed-by=/etc/apt/keyrings/docker.gpg] https://download.docker.com/linux/ubuntu noble stable
`

var appEnvTemplate = `# Written by ferry run ${FERRY_RUN_ID}
FERRY_SERVER_MESSAGE=My application
`
