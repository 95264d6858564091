package main

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/riffline/riffline"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed report.tmpl
var defaultReport string

type (
	reportData struct {
		Project riffline.Project
		Tracks  []reportTrack
		Chords  []string
	}

	reportTrack struct {
		riffline.Track
		Items []riffline.Item
		End   float64
	}
)

func newReportCmd(app *App) *cobra.Command {
	var tmplPath string
	cmd := &cobra.Command{
		Use:   "report <project.yml|->",
		Short: "Print a summary of the tracks and items of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := readProject(cmd, args[0], false)
			if err != nil {
				return err
			}
			text := defaultReport
			if tmplPath != "" {
				b, err := os.ReadFile(tmplPath)
				if err != nil {
					return err
				}
				text = string(b)
			}
			tmpl, err := newReportTemplate(text)
			if err != nil {
				return err
			}
			return tmpl.Execute(cmd.OutOrStdout(), makeReport(p))
		},
	}
	cmd.Flags().StringVarP(&tmplPath, "template", "t", "", "Use this text/template instead of the built-in report; sprig functions are available")
	return cmd
}

func newReportTemplate(text string) (*template.Template, error) {
	caser := cases.Title(language.English)
	funcs := sprig.TxtFuncMap()
	funcs["title"] = func(v any) string { return caser.String(fmt.Sprint(v)) }
	tmpl, err := template.New("report").Funcs(funcs).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("could not parse report template: %w", err)
	}
	return tmpl, nil
}

func makeReport(p riffline.Project) reportData {
	ret := reportData{Project: p}
	for _, c := range p.Chords {
		ret.Chords = append(ret.Chords, fmt.Sprintf("%s:%g", c.Name, c.Beats))
	}
	for _, t := range p.Tracks {
		rt := reportTrack{Track: t}
		for _, it := range p.Items {
			if it.TrackID == t.ID {
				rt.Items = append(rt.Items, it)
				rt.End = math.Max(rt.End, it.End())
			}
		}
		ret.Tracks = append(ret.Tracks, rt)
	}
	return ret
}
