package cmd

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/nested-progress/internal/pipeline"
	localstorage "github.com/JakeFAU/nested-progress/internal/storage/local"
	"github.com/JakeFAU/nested-progress/internal/ui"
)

func newRunCmd() *cobra.Command {
	var opts pipeline.CharacterOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Builds one character headlessly",
		Long: `Builds a character from the given macro values and exports it. Progress
is drawn on the terminal and fed to every configured run sink.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCharacter(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.Float64Var(&opts.Age, "age", 25, "age in years, 1 to 90")
	f.Float64Var(&opts.Gender, "gender", 0.5, "0 is female, 1 is male")
	f.StringVar(&opts.Race, "race", "caucasian", "one of caucasian, african, asian")
	f.StringVar(&opts.Rig, "rig", "", "skeleton rig to attach")
	f.StringVar(&opts.Hair, "hair", "", "hair proxy to fit")
	f.BoolVar(&opts.LowRes, "lowres", false, "fit the low resolution proxy mesh")
	f.StringVarP(&opts.Output, "output", "o", "character.mhx", "export file, only .mhx is supported")
	return cmd
}

func runCharacter(cmd *cobra.Command, opts pipeline.CharacterOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	cfg := appInstance.Config()
	logger := appInstance.Logger()

	dir, file := filepath.Split(opts.Output)
	if dir == "" {
		dir = "."
	}
	exports, err := localstorage.New(localstorage.Config{BaseDir: dir})
	if err != nil {
		return fmt.Errorf("prepare output directory: %w", err)
	}
	opts.Output = file

	console := ui.NewConsole(cmd.OutOrStdout())
	runner := pipeline.NewRunner(appInstance.Events(),
		pipeline.WithHost(console.Callback()),
		pipeline.WithLogger(logger.Named("runner")),
	)
	runID, err := runner.NewRunID()
	if err != nil {
		return err
	}
	build := &pipeline.CharacterBuild{
		Options:  opts,
		Output:   exports,
		Interval: cfg.Tracker.ModifierInterval,
		Logging:  cfg.Tracker.Logging,
		Timing:   cfg.Tracker.Timing,
	}
	runErr := runner.Run(cmd.Context(), runID, pipeline.CharacterRunName, build.Job())
	if err := console.Done(); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if runErr != nil {
		return runErr
	}
	logger.Info("character exported",
		zap.Stringer("run_id", runID),
		zap.String("path", filepath.Join(dir, file)),
		zap.String("sha256", build.Result().Checksum),
	)
	return nil
}
