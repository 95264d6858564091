package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/riffline/riffline"
	"github.com/riffline/riffline/config"
	"github.com/riffline/riffline/version"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type App struct {
	ConfigPath string
	Config     config.Config
}

func newRootCmd() *cobra.Command {
	app := &App{Config: config.Default()}

	cmd := &cobra.Command{
		Use:          "riffline",
		Short:        "Collaborative multi-track clip editor tools",
		Version:      version.VersionOrHash,
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Relay edits between the clients of a session, archiving one project
  riffline relay --listen :8089 --archive jam-1

  # Clean up a hand-written project file in place
  riffline normalize -w project.yml

  riffline report project.yml
  riffline export-midi project.yml -o project.mid
`),
	}
	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(app.ConfigPath)
		if err != nil {
			return err
		}
		app.Config = c
		return nil
	}
	cmd.PersistentFlags().StringVar(&app.ConfigPath, "config", os.Getenv("RIFFLINE_CONFIG"), "Config file (default: riffline/config.yml in the user config dir)")
	// glog registers its flags on the standard flag set
	cmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	cmd.AddCommand(newRelayCmd(app))
	cmd.AddCommand(newNormalizeCmd(app))
	cmd.AddCommand(newReportCmd(app))
	cmd.AddCommand(newExportMidiCmd(app))
	return cmd
}

// readProject reads a project file; "-" is the standard input. With
// assignIDs, tracks and items without an id get a new one instead of being
// dropped by normalization.
func readProject(cmd *cobra.Command, path string, assignIDs bool) (riffline.Project, error) {
	in := cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return riffline.Project{}, err
		}
		defer f.Close()
		in = f
	}
	if !assignIDs {
		p, err := riffline.ReadProject(in)
		if err != nil {
			return riffline.Project{}, fmt.Errorf("%s: %w", path, err)
		}
		return p, nil
	}
	var p riffline.Project
	if err := yaml.NewDecoder(in).Decode(&p); err != nil {
		return riffline.Project{}, fmt.Errorf("%s: could not decode project: %w", path, err)
	}
	if p.Settings.Tempo == 0 {
		p.Settings = riffline.DefaultSettings()
	}
	if p.ID == "" {
		p.ID = ulid.Make().String()
	}
	for i := range p.Tracks {
		if p.Tracks[i].ID == "" {
			p.Tracks[i].ID = ulid.Make().String()
		}
	}
	for i := range p.Items {
		if p.Items[i].ID == "" {
			p.Items[i].ID = ulid.Make().String()
		}
	}
	return p.Normalize(), nil
}
