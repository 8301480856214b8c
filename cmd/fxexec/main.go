package main

import (
	"fmt"
	"os"

	"github.com/rustyeddy/fxexec/cmd/fxexec/cmd"
	"github.com/rustyeddy/fxexec/engine"
)

func main() {
	if err := cmd.Execute(); err != nil {
		if engine.IsHalt(err) {
			fmt.Fprintln(os.Stderr, "HALT:", err)
			os.Exit(2)
		}
		os.Exit(1)
	}
}
