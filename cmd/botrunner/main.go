package main

import (
	"os"

	"github.com/armadaproject/botrunner/cmd/botrunner/cmd"
	"github.com/armadaproject/botrunner/internal/common/startup"
)

func main() {
	startup.ConfigureLogging()
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
