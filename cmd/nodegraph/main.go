// Command nodegraph loads a workflow graph and executes its nodes one at a
// time, the way an editor user would.
package main

import (
	"context"
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/dshills/nodegraph-go/internal/config"
)

func main() {
	cmd := &cli.Command{
		Name:                  "nodegraph",
		EnableShellCompletion: true,
		Usage:                 "Execute nodes of a workflow graph",
		Flags:                 config.Flags(),
		Commands: []*cli.Command{
			NewRunCommand(),
			NewValidateCommand(),
			NewTypesCommand(),
			NewWorkflowCommand(),
			NewMemoryCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
