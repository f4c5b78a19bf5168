// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/Thermoquad/tactility/pkg/tactility"
)

var (
	plotOutput string
	plotCycles int
	plotWidth  float64
	plotHeight float64
)

var plotCmd = &cobra.Command{
	Use:   "plot <name>",
	Short: "Render the timing of a configured pattern to an image",
	Long: `Draw when each step of a pattern is selected over one or more cycles.
No device is needed.

Each step is drawn as its own row; gaps and the crossfade overlap are
visible where rows are low or overlap. The image format follows the file
extension of --output (png, svg, pdf, jpg).`,
	Args: cobra.ExactArgs(1),
	RunE: runPlot,
}

func init() {
	rootCmd.AddCommand(plotCmd)
	plotCmd.Flags().StringVarP(&plotOutput, "output", "o", "pattern.png", "Output image file")
	plotCmd.Flags().IntVar(&plotCycles, "cycles", 2, "Number of pattern cycles to draw")
	plotCmd.Flags().Float64Var(&plotWidth, "width", 8, "Image width in inches")
	plotCmd.Flags().Float64Var(&plotHeight, "height", 4, "Image height in inches")
}

func runPlot(cmd *cobra.Command, args []string) error {
	entry, err := cfg.Pattern(args[0])
	if err != nil {
		return err
	}
	sc := entry.SequencerConfig()
	delay := 0.0
	if sc.Crossfade {
		delay = sc.TurnOffDelayMS
	}
	windows, err := tactility.Timeline(len(entry.Steps), sc.Timing, delay)
	if err != nil {
		return fmt.Errorf("pattern %q: %w", entry.Name, err)
	}
	if plotCycles < 1 {
		plotCycles = 1
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Pattern %s (%.2f Hz)", entry.Name, sc.Timing.Frequency)
	p.X.Label.Text = "time (ms)"
	p.Y.Label.Text = "step"
	p.Add(plotter.NewGrid())

	cycle := 1000 / sc.Timing.Frequency
	for step := range entry.Steps {
		line, err := plotter.NewLine(stepWave(windows, step, cycle, plotCycles))
		if err != nil {
			return err
		}
		line.Color = plotutil.Color(step)
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("step %d", step+1), line)
	}
	p.Legend.Top = true

	if err := p.Save(vg.Length(plotWidth)*vg.Inch, vg.Length(plotHeight)*vg.Inch, plotOutput); err != nil {
		return fmt.Errorf("failed to save plot: %w", err)
	}
	fmt.Printf("Wrote %s (%d steps, %d cycles)\n", plotOutput, len(entry.Steps), plotCycles)
	return nil
}

// stepWave draws one step as a square wave on its own row
func stepWave(windows []tactility.StepWindow, step int, cycle float64, cycles int) plotter.XYs {
	base := float64(step)
	high := base + 0.8

	xys := plotter.XYs{{X: 0, Y: base}}
	for c := 0; c < cycles; c++ {
		offset := float64(c) * cycle
		for _, w := range windows {
			if w.Step != step {
				continue
			}
			xys = append(xys,
				plotter.XY{X: offset + w.Start, Y: base},
				plotter.XY{X: offset + w.Start, Y: high},
				plotter.XY{X: offset + w.End, Y: high},
				plotter.XY{X: offset + w.End, Y: base},
			)
		}
	}
	end := math.Max(float64(cycles)*cycle, xys[len(xys)-1].X)
	return append(xys, plotter.XY{X: end, Y: base})
}
