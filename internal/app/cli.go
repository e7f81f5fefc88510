package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gowvp/skylapse/internal/conf"
	"github.com/gowvp/skylapse/internal/core/bz"
	"github.com/gowvp/skylapse/pkg/timewin"
	"github.com/ixugo/goddd/pkg/system"
	"github.com/spf13/cobra"
)

// NewRootCmd 命令行入口，不带子命令时等同于 serve
func NewRootCmd(version string) *cobra.Command {
	var configPath string
	var bc conf.Bootstrap
	var closeLog func()

	root := &cobra.Command{
		Use:           "skylapse",
		Short:         "Time-lapse resource storage and day-long video assembly",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			path := configPath
			if !filepath.IsAbs(path) {
				path = filepath.Join(system.Getwd(), path)
			}
			var err error
			if bc, err = conf.SetupConfig(path); err != nil {
				return err
			}
			bc.BuildVersion = version
			_, closeLog = SetupLog(&bc)
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if closeLog != nil {
				closeLog()
			}
		},
		RunE: func(_ *cobra.Command, _ []string) error {
			return Run(&bc)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.toml", "path to configuration file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP API and the assembly scheduler",
			RunE: func(_ *cobra.Command, _ []string) error {
				return Run(&bc)
			},
		},
		newAssembleCmd(&bc),
		newGenericCmd(&bc),
		newReindexCmd(&bc),
	)
	return root
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newAssembleCmd(bc *conf.Bootstrap) *cobra.Command {
	var number int
	var from, to string
	cmd := &cobra.Command{
		Use:   "assemble",
		Short: "Assemble day-long videos for a resource over [from, to]",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()
			engine, cleanUp, err := wireEngine(bc)
			if err != nil {
				return err
			}
			defer cleanUp()

			res, err := engine.Registry.Get(number)
			if err != nil {
				return err
			}
			start, err := time.ParseInLocation(time.DateOnly, from, res.Location)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			end := start
			if to != "" {
				if end, err = time.ParseInLocation(time.DateOnly, to, res.Location); err != nil {
					return fmt.Errorf("--to: %w", err)
				}
			}

			var failed int
			for day := start; !day.After(end); day = timewin.NextDay(day, res.Location) {
				result, err := engine.Assembler.AssembleDay(ctx, number, day)
				switch {
				case errors.Is(err, bz.ErrNoMaterial):
					slog.Info("no material", "day", day.Format(time.DateOnly))
				case err != nil:
					failed++
					slog.Error("assemble day", "day", day.Format(time.DateOnly), "err", err)
				default:
					fmt.Printf("%s segments=%d fillers=%d skipped=%d generic=%t\n",
						day.Format(time.DateOnly), result.Segments, result.Fillers, result.Skipped, result.Generic)
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d day(s) failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&number, "resource", "r", 0, "resource number")
	cmd.Flags().StringVar(&from, "from", "", "first day, 2006-01-02")
	cmd.Flags().StringVar(&to, "to", "", "last day, defaults to --from")
	_ = cmd.MarkFlagRequired("resource")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func newGenericCmd(bc *conf.Bootstrap) *cobra.Command {
	var image string
	cmd := &cobra.Command{
		Use:   "generic",
		Short: "Build the resource-independent no-data filler videos",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()
			engine, cleanUp, err := wireEngine(bc)
			if err != nil {
				return err
			}
			defer cleanUp()

			if image != "" {
				b, err := os.ReadFile(image)
				if err != nil {
					return err
				}
				if err := engine.Storage.SetGenericNoDataMediaErr(ctx, b); err != nil {
					return err
				}
			}
			if err := engine.Assembler.BuildGenericDayLong(ctx); err != nil {
				return err
			}
			layout := engine.Storage.Layout()
			fmt.Println(layout.GenericDayLong(false))
			fmt.Println(layout.GenericDayLong(true))
			return nil
		},
	}
	cmd.Flags().StringVar(&image, "image", "", "no-data still image, replaces the current one")
	return cmd
}

func newReindexCmd(bc *conf.Bootstrap) *cobra.Command {
	var number int
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Index files already on disk, all active resources when --resource is 0",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()
			engine, cleanUp, err := wireEngine(bc)
			if err != nil {
				return err
			}
			defer cleanUp()

			numbers := []int{number}
			if number == 0 {
				numbers = numbers[:0]
				for _, res := range engine.Registry.Active() {
					numbers = append(numbers, res.Number)
				}
			}
			for _, n := range numbers {
				stats, err := engine.Storage.Reindex(ctx, n)
				if err != nil {
					return err
				}
				fmt.Printf("resource %d instances=%d pairs=%d skipped=%d\n", n, stats.Instances, stats.Pairs, stats.Skipped)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&number, "resource", "r", 0, "resource number")
	return cmd
}
