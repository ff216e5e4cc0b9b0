package app

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/ciwarden/internal/mcp"
	"github.com/blackwell-systems/ciwarden/internal/snapshot"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run an MCP stdio server exposing read-only ciwarden views",
	Long: `Start a Model Context Protocol stdio server that coding agents can
query before and after changing the tree. The server exposes:

  get_status        Working tree state and the scenario it selects
  get_plan          The same, plus the steps that would run
  list_runs         Recent maintenance runs with per-scenario totals
  list_snapshots    Stored snapshots, newest first
  verify_snapshot   Check a snapshot against its recorded hashes

No tool runs a strategy, takes a snapshot or restores one.

Example MCP configuration:
  {"mcpServers":{"ciwarden":{"command":"ciwarden","args":["mcp","--dir","."]}}}`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, true)
	if err != nil {
		return err
	}
	defer s.Close()

	wf, err := s.workflow(false)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals...)
	defer stop()

	srv := mcp.NewServer(mcp.Backend{
		Workflow:  wf,
		History:   s.history,
		Snapshots: snapshot.ForConfig(s.cfg),
	}, appVersion, s.log)
	return srv.Run(ctx, os.Stdin, os.Stdout)
}
