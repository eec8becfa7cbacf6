package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/urfave/cli/v3"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/executor"
)

// nodeOutcome is what run prints for each executed node.
type nodeOutcome struct {
	Node    string    `json:"node"`
	Type    string    `json:"type"`
	Success bool      `json:"success"`
	Result  graph.Bag `json:"result,omitempty"`
	Error   string    `json:"error,omitempty"`
	Kind    string    `json:"error_kind,omitempty"`
	Hint    string    `json:"hint,omitempty"`
}

func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Execute the named nodes of a workflow, in the order given",
		ArgsUsage: "<workflow file or saved ID> <node-id>...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "session",
				Usage:   "Session ID; reuses results persisted by earlier runs of the same session",
				Sources: cli.EnvVars("NODEGRAPH_SESSION"),
			},
			&cli.BoolFlag{
				Name:  "keep-going",
				Usage: "Continue with the next node after a failure",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			if command.NArg() < 2 {
				return fmt.Errorf("usage: %s run %s", command.Root().Name, command.ArgsUsage)
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
			defer stop()

			a, err := newApp(ctx, command)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.close(context.Background()); err != nil {
					a.logger.Error("shutdown failed", "error", err)
				}
			}()

			wf, err := a.loadWorkflow(ctx, command.Args().First())
			if err != nil {
				return err
			}
			s, err := a.openSession(ctx, wf, command.String("session"))
			if err != nil {
				return err
			}

			costs := graph.NewCostTracker(s.ID())
			runner := a.runner(s, costs)
			runErr := runNodes(ctx, runner, s, command.Args().Tail(), command.Bool("keep-going"), os.Stdout)

			if calls := costs.Calls(); len(calls) > 0 {
				a.logger.Info("provider usage", "session", s.ID(), "calls", len(calls), "total_usd", costs.TotalCost())
			}
			return runErr
		},
	}
}

// runNodes executes ids one at a time, printing each outcome as JSON to w.
// It returns the first failure as a *graph.NodeError.
func runNodes(ctx context.Context, runner *executor.Runner, s *graph.Session, ids []string, keepGoing bool, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	var first error
	for _, id := range ids {
		res, err := runner.Run(ctx, id)
		if err != nil {
			return err
		}

		n, _ := s.Node(id)
		out := nodeOutcome{
			Node:    id,
			Type:    string(n.Type),
			Success: res.Success,
			Result:  res.Result,
			Error:   res.Error,
			Kind:    string(res.Kind),
			Hint:    res.Hint,
		}
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}

		if !res.Success && first == nil {
			first = &graph.NodeError{NodeID: id, Message: res.Error, Code: string(res.Kind)}
			if !keepGoing {
				return first
			}
		}
	}
	return first
}
