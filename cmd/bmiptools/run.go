package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"bmiptools/pkg/config"
	"bmiptools/pkg/optimizer"
	"bmiptools/pkg/pipeline"
	"bmiptools/pkg/plugin"
	"bmiptools/pkg/registry"
	"bmiptools/pkg/report"
	"bmiptools/pkg/stack"
)

func newInitConfigCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write a default configuration file to --config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.CreateDefaultConfigFile(*ctx.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default configuration written to %s\n", *ctx.configPath)
			return nil
		},
	}
}

func newTemplateCommand(ctx *commandContext, reg *registry.Registry) *cobra.Command {
	return &cobra.Command{
		Use:   "template <path>",
		Short: "Write the default configuration of the configured pipeline for editing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			p, err := buildPipeline(ctx, cmd, reg, cfg)
			if err != nil {
				return err
			}
			if err := p.Template(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pipeline template written to %s\n", args[0])
			return nil
		},
	}
}

func newRunCommand(ctx *commandContext, reg *registry.Registry) *cobra.Command {
	var interactive, plots bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build, initialize and apply the configured pipeline to the configured stack",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			s, err := loadStack(cfg)
			if err != nil {
				return err
			}
			p, err := buildPipeline(ctx, cmd, reg, cfg)
			if err != nil {
				return err
			}

			var src pipeline.Source
			switch {
			case interactive:
				path := filepath.Join(cfg.Pipeline.Folder, p.Name()+"_edit.json")
				src = pipeline.Interactive(cmd.InOrStdin(), cmd.OutOrStdout(), path)
			case cfg.Pipeline.ConfigurationFile != "":
				src = pipeline.FromFile(cfg.Pipeline.ConfigurationFile)
			default:
				src = pipeline.Overrides(overrides(cfg))
			}
			if err := p.Initialize(src); err != nil {
				return err
			}
			return applyAndSave(cmd, cfg, p, s, true, plots)
		},
	}
	cmd.Flags().BoolVar(&interactive, "interactive", false, "Edit the pipeline configuration file before applying")
	cmd.Flags().BoolVar(&plots, "plots", false, "Write a loss plot for every optimized step")
	return cmd
}

func newApplyCommand(ctx *commandContext, reg *registry.Registry) *cobra.Command {
	var plots bool
	cmd := &cobra.Command{
		Use:   "apply <pipeline.bin>",
		Short: "Apply a saved pipeline to the configured stack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			logger, err := ctx.loggerFor(cmd)
			if err != nil {
				return err
			}
			s, err := loadStack(cfg)
			if err != nil {
				return err
			}
			p, err := pipeline.Load(reg, args[0],
				pipeline.WithLogger(logger),
				pipeline.WithWorkers(cfg.Processing.NumCores),
				pipeline.WithProgress(progressPrinter(cmd.ErrOrStderr())))
			if err != nil {
				return err
			}
			return applyAndSave(cmd, cfg, p, s, false, plots)
		},
	}
	cmd.Flags().BoolVar(&plots, "plots", false, "Write a loss plot for every optimized step")
	return cmd
}

func buildPipeline(ctx *commandContext, cmd *cobra.Command, reg *registry.Registry, cfg *config.Config) (*pipeline.Pipeline, error) {
	logger, err := ctx.loggerFor(cmd)
	if err != nil {
		return nil, err
	}
	return pipeline.New(reg, cfg.Pipeline.Operations, cfg.Pipeline.Folder, cfg.Pipeline.Name,
		pipeline.WithLogger(logger),
		pipeline.WithWorkers(cfg.Processing.NumCores),
		pipeline.WithProgress(progressPrinter(cmd.ErrOrStderr())))
}

// progressPrinter reports parameter searches on w, about every tenth of a
// pass and once more with the winner.
func progressPrinter(w io.Writer) optimizer.ProgressCallback {
	var mu sync.Mutex
	return func(completed, total int, message string) {
		if completed%max(1, total/10) != 0 && completed != total {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "%s [%d/%d]\n", message, completed, total)
	}
}

func overrides(cfg *config.Config) map[string]plugin.Dictionary {
	out := make(map[string]plugin.Dictionary, len(cfg.Pipeline.Overrides))
	for key, d := range cfg.Pipeline.Overrides {
		out[key] = plugin.Dictionary(d)
	}
	return out
}

func loadStack(cfg *config.Config) (*stack.Stack, error) {
	if cfg.Stack.Input == "" {
		return nil, fmt.Errorf("stack.input is not set in the configuration")
	}
	if cfg.Stack.FromFolder {
		return stack.LoadFolder(cfg.Stack.Input, stack.LoadOptions{
			Slices:    cfg.Stack.Slices,
			Extension: cfg.Stack.Extension,
		})
	}
	return stack.LoadFile(cfg.Stack.Input)
}

// applyAndSave applies p to s, then writes the corrected stack and, when
// save is set, the pipeline itself.
func applyAndSave(cmd *cobra.Command, cfg *config.Config, p *pipeline.Pipeline, s *stack.Stack, save, plots bool) error {
	before := s.Statistics()
	start := time.Now()
	if err := p.Apply(cmd.Context(), s); err != nil {
		return err
	}
	elapsed := time.Since(start)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Pipeline %s (run %s) applied in %.2f seconds\n", p.Name(), p.RunID(), elapsed.Seconds())
	fmt.Fprintln(out, statisticsTable(before, s.Statistics()))

	if plots {
		if err := writeLossPlots(cmd, p); err != nil {
			return err
		}
	}

	if save {
		path, err := p.Save()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Pipeline saved to %s\n", path)
	}

	err := s.Save(cfg.Stack.OutputDir, cfg.Stack.OutputName, stack.SaveOptions{
		DataType:     stack.DType(cfg.Stack.DataType),
		Standardized: cfg.Stack.Standardized,
		Mode:         stack.SaveMode(cfg.Stack.Mode),
		SaveMetadata: true,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Corrected stack saved to %s\n", cfg.Stack.OutputDir)
	return nil
}

func writeLossPlots(cmd *cobra.Command, p *pipeline.Pipeline) error {
	for _, step := range p.Steps() {
		if step.Fit {
			continue
		}
		pl, _ := p.Plugin(step.Key)
		opt, ok := pl.(plugin.Optimizable)
		if !ok || opt.LastOptimization() == nil {
			continue
		}
		path := filepath.Join(p.Dir(), "plots", step.Key+"_loss.png")
		if err := report.SaveLossPlot(path, step.Key+" parameter search", opt.LastOptimization()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Loss plot for %s written to %s\n", step.Key, path)
	}
	return nil
}

func statisticsTable(before, after stack.Statistics) string {
	format := func(v float64) string { return strconv.FormatFloat(v, 'g', 6, 64) }
	rows := [][]string{
		{"shape", before.Shape.String(), after.Shape.String()},
		{"min", format(before.Min), format(after.Min)},
		{"max", format(before.Max), format(after.Max)},
		{"mean", format(before.Mean), format(after.Mean)},
		{"std", format(before.Std), format(after.Std)},
		{"median", format(before.Median), format(after.Median)},
		{"entropy", format(before.Entropy), format(after.Entropy)},
	}
	return renderTable([]string{"Statistic", "Input", "Output"}, rows,
		[]columnAlignment{alignLeft, alignRight, alignRight})
}
