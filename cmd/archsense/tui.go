package main

import (
	"github.com/spf13/cobra"

	"github.com/jmylchreest/archsense/internal/protocol"
	"github.com/jmylchreest/archsense/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the interactive control panel",
	Long: `Launch the interactive terminal control panel.

The TUI shows every control with its current value and refreshes live
readings in the background.

Key bindings:
  j/k, ↑/↓    Move between controls
  h/l, ←/→    Previous / next value
  enter       Toggle a feature or cycle a value
  f           Cycle fan profile
  u           Cycle USB charging threshold
  r           Refresh now
  y           Copy state to clipboard as YAML
  ?           Show help
  q           Quit`,
	Args: cobra.NoArgs,
	RunE: runTUI,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, args []string) error {
	session := protocol.NewSession(cfg.Socket)
	defer func() { _ = session.Close() }()

	return tui.Run(tui.RunOptions{
		Config: cfg,
		Client: session,
	})
}
