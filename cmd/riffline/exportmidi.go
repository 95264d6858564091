package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/golang/glog"
	"github.com/riffline/riffline/midiclip"
	"github.com/spf13/cobra"
)

func newExportMidiCmd(app *App) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export-midi <project.yml|->",
		Short: "Write the MIDI events of a project as a Standard MIDI File",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := readProject(cmd, args[0], false)
			if err != nil {
				return err
			}
			if out == "" {
				if args[0] == "-" {
					return fmt.Errorf("--out is required when reading from stdin")
				}
				out = strings.TrimSuffix(args[0], ".yml") + ".mid"
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			w := bufio.NewWriter(f)
			if err := midiclip.WriteSMF(w, p); err != nil {
				f.Close()
				return err
			}
			if err := w.Flush(); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			glog.Infof("[export]%s: %d tracks, %d items", out, len(p.Tracks), len(p.Items))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default: the project file with a .mid extension)")
	return cmd
}
