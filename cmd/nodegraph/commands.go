package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/store"
)

// withApp runs action with an app built from the global flags and closes it
// afterwards.
func withApp(action func(ctx context.Context, command *cli.Command, a *app) error) cli.ActionFunc {
	return func(ctx context.Context, command *cli.Command) error {
		a, err := newApp(ctx, command)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.close(context.Background()); err != nil {
				a.logger.Error("shutdown failed", "error", err)
			}
		}()
		return action(ctx, command, a)
	}
}

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Load a workflow and report how each node is wired",
		ArgsUsage: "<workflow file or saved ID>",
		Action: withApp(func(ctx context.Context, command *cli.Command, a *app) error {
			if command.NArg() != 1 {
				return fmt.Errorf("usage: %s validate %s", command.Root().Name, command.ArgsUsage)
			}
			wf, err := a.loadWorkflow(ctx, command.Args().First())
			if err != nil {
				return err
			}
			s, err := graph.NewSession()
			if err != nil {
				return err
			}
			if err := s.Load(ctx, wf); err != nil {
				return err
			}

			unsupported := 0
			fmt.Printf("Workflow: %s (%d nodes, %d edges)\n", firstNonEmpty(wf.Name, wf.ID, "unnamed"), len(wf.Nodes), len(wf.Edges))
			for _, n := range s.Nodes() {
				fmt.Printf("\n%s [%s]\n", n.ID, n.Type)
				if !a.registry.Supports(n.Type) {
					fmt.Println("  unsupported node type")
					unsupported++
				}
				if up, ok := s.DefaultUpstream(n.ID); ok {
					fmt.Printf("  input: %s [%s]\n", up.ID, up.Type)
				} else if !n.Type.IsSource() {
					fmt.Println("  input: none")
				}
				for _, port := range []string{graph.PortChatModel, graph.PortMemory, graph.PortTool} {
					if c, ok := s.ResolveCapability(n.ID, port); ok {
						fmt.Printf("  %s: %s [%s]\n", port, c.Node.ID, c.Node.Type)
					}
				}
			}

			if unsupported > 0 {
				return fmt.Errorf("%d node(s) have an unsupported type", unsupported)
			}
			return nil
		}),
	}
}

func NewTypesCommand() *cli.Command {
	return &cli.Command{
		Name:  "types",
		Usage: "List the node types this build can execute",
		Action: withApp(func(_ context.Context, _ *cli.Command, a *app) error {
			for _, t := range a.registry.Types() {
				fmt.Println(t)
			}
			return nil
		}),
	}
}

func NewWorkflowCommand() *cli.Command {
	return &cli.Command{
		Name:  "workflow",
		Usage: "Manage saved workflows",
		Commands: []*cli.Command{
			{
				Name:      "save",
				Usage:     "Save a workflow file to the store",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "ID to save under (default: the workflow's id, else the file name)"},
				},
				Action: withApp(func(ctx context.Context, command *cli.Command, a *app) error {
					path := command.Args().First()
					if path == "" {
						return fmt.Errorf("usage: %s workflow save %s", command.Root().Name, command.ArgsUsage)
					}
					data, err := os.ReadFile(path)
					if err != nil {
						return fmt.Errorf("failed to read workflow: %w", err)
					}
					wf, err := graph.DecodeWorkflow(data, graph.WorkflowFormat(path))
					if err != nil {
						return err
					}
					base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
					wf.ID = firstNonEmpty(command.String("id"), wf.ID, base)

					// Reject graphs a session would not load.
					s, err := graph.NewSession()
					if err != nil {
						return err
					}
					if err := s.Load(ctx, wf); err != nil {
						return err
					}
					if err := a.store.SaveWorkflow(ctx, wf); err != nil {
						return err
					}
					fmt.Println(wf.ID)
					return nil
				}),
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List saved workflows",
				Action: withApp(func(ctx context.Context, _ *cli.Command, a *app) error {
					workflows, err := a.store.ListWorkflows(ctx)
					if err != nil {
						return fmt.Errorf("failed to list workflows: %w", err)
					}
					for _, w := range workflows {
						fmt.Printf("%s\t%s\t%s\n", w.ID, w.Name, w.UpdatedAt.Format("2006-01-02 15:04:05"))
					}
					return nil
				}),
			},
			{
				Name:      "export",
				Usage:     "Print a saved workflow",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Usage: "Output format (json, yaml)", Value: graph.FormatJSON},
				},
				Action: withApp(func(ctx context.Context, command *cli.Command, a *app) error {
					wf, err := a.store.LoadWorkflow(ctx, command.Args().First())
					if err != nil {
						return err
					}
					data, err := graph.EncodeWorkflow(wf, command.String("format"))
					if err != nil {
						return err
					}
					_, err = os.Stdout.Write(append(data, '\n'))
					return err
				}),
			},
			{
				Name:      "delete",
				Aliases:   []string{"rm"},
				Usage:     "Delete a saved workflow",
				ArgsUsage: "<id>",
				Action: withApp(func(ctx context.Context, command *cli.Command, a *app) error {
					return a.store.DeleteWorkflow(ctx, command.Args().First())
				}),
			},
		},
	}
}

func NewMemoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "memory",
		Usage: "Inspect and maintain agent memory",
		Commands: []*cli.Command{
			{
				Name:  "search",
				Usage: "Search memory entries by key and value",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "Text to search for", Required: true},
					&cli.StringFlag{Name: "type", Usage: "Memory type (workflow, session, ...)"},
					&cli.StringFlag{Name: "session", Usage: "Session ID"},
					&cli.IntFlag{Name: "limit", Usage: "Maximum entries", Value: store.DefaultSearchLimit},
				},
				Action: withApp(func(ctx context.Context, command *cli.Command, a *app) error {
					entries, err := a.memory.SearchMemories(ctx, store.MemoryQuery{
						Text:      command.String("query"),
						Type:      command.String("type"),
						SessionID: command.String("session"),
						Limit:     int(command.Int("limit")),
					})
					if err != nil {
						return err
					}
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(entries)
				}),
			},
			{
				Name:  "clear-expired",
				Usage: "Delete expired memory entries",
				Action: withApp(func(ctx context.Context, _ *cli.Command, a *app) error {
					var (
						n   int
						err error
					)
					if !a.cfg.Direct && a.client != nil {
						n, err = a.client.ClearExpiredMemories(ctx)
					} else {
						n, err = a.memory.ClearExpired(ctx)
					}
					if err != nil {
						return err
					}
					fmt.Printf("deleted %d expired entries\n", n)
					return nil
				}),
			},
		},
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
