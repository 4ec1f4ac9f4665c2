package main

import (
	"os"

	"github.com/SoftKiwiGames/ferry/ferry"
)

func main() {
	ferry.New(os.Stdout, os.Stderr).Run()
}
