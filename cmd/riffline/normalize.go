package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newNormalizeCmd(app *App) *cobra.Command {
	var write, assignIDs bool
	cmd := &cobra.Command{
		Use:   "normalize <project.yml|->",
		Short: "Clamp a project file into a valid state and print it",
		Long: `Reads a project, clamps every track, item and setting into its valid range,
drops invalid MIDI events and items that refer to missing tracks, and writes the
result as YAML.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := readProject(cmd, args[0], assignIDs)
			if err != nil {
				return err
			}
			if !write || args[0] == "-" {
				return p.Write(cmd.OutOrStdout())
			}
			var buf bytes.Buffer
			if err := p.Write(&buf); err != nil {
				return err
			}
			if err := os.WriteFile(args[0], buf.Bytes(), 0o644); err != nil {
				return fmt.Errorf("could not write %s: %w", args[0], err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&write, "write", "w", false, "Write the result back to the file instead of stdout")
	cmd.Flags().BoolVar(&assignIDs, "assign-ids", false, "Give new ids to tracks and items that have none")
	return cmd
}
