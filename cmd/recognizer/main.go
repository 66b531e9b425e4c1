package main

import (
	"os"

	"github.com/amanullahtanweer/speaker-recognizer/cmd/recognizer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
