package main

import (
	"os"

	"github.com/tomasbasham/audio-upload/internal/cmd"
)

func main() {
	command := cmd.NewRootCommand()
	if code := cmd.Run(command, os.Stderr); code != 0 {
		os.Exit(code)
	}
}
