package provision

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"text/template"

	"github.com/SoftKiwiGames/ferry/ferry/shell"
)

// bootTemplate runs once through cloud-init on first boot. Later image
// updates go through `ferry deploy`, never through the boot script.
var bootTemplate = template.Must(template.New("boot").Funcs(template.FuncMap{
	"q": shell.Quote,
}).Parse(`#!/bin/bash
set -euo pipefail

if ! command -v docker >/dev/null 2>&1; then
  curl -fsSL https://get.docker.com | sh
fi
systemctl enable --now docker

docker pull {{ q .Image }}
docker run --detach --name {{ q .Name }} --restart {{ q .Restart }} --publish {{ .Port }}:{{ .ContainerPort }} {{ q .Image }}
`))

// BootScript is the rendered user data of an instance.
type BootScript struct {
	Script string
	Digest string
}

func RenderBootScript(c ContainerSpec) (*BootScript, error) {
	var buf bytes.Buffer
	if err := bootTemplate.Execute(&buf, c); err != nil {
		return nil, fmt.Errorf("failed to render boot script: %w", err)
	}

	sum := sha256.Sum256(buf.Bytes())
	return &BootScript{
		Script: buf.String(),
		Digest: hex.EncodeToString(sum[:]),
	}, nil
}

// UserData is the script encoded the way RunInstances expects it.
func (b *BootScript) UserData() string {
	return base64.StdEncoding.EncodeToString([]byte(b.Script))
}
