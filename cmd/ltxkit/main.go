package main

import (
	"os"

	"github.com/litetx/ltxkit/pkg/cli"
	"github.com/litetx/ltxkit/pkg/pipeline"
	"github.com/litetx/ltxkit/pkg/util/console"
)

func main() {
	cmd, err := cli.NewRootCommand()
	if err != nil {
		console.Fatalf("%s", err)
	}

	if err := cmd.Execute(); err != nil {
		console.Errorf("%s", err)
		os.Exit(pipeline.ExitCode(err))
	}
}
