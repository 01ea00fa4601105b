// Package application builds the captionset command-line tool.
package application

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/captionset/internal/admin"
	"github.com/JonMunkholm/captionset/internal/config"
	"github.com/JonMunkholm/captionset/internal/core"
	"github.com/JonMunkholm/captionset/internal/jsonx"
	"github.com/JonMunkholm/captionset/internal/logging"
	"github.com/JonMunkholm/captionset/internal/store"
)

// StoreOpener opens the image store the CLI writes to.
type StoreOpener func(ctx context.Context) (store.Store, *config.Config, error)

// App holds the CLI's I/O and dependencies.
type App struct {
	Out       io.Writer
	Err       io.Writer
	OpenStore StoreOpener

	logLevel  string
	logFormat string
	asJSON    bool
}

// NewApp returns an App writing to stdout/stderr and opening the store from
// the environment.
func NewApp() *App {
	return &App{Out: os.Stdout, Err: os.Stderr, OpenStore: openFromEnv}
}

func openFromEnv(ctx context.Context) (store.Store, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	s, err := store.Open(ctx, cfg.Database, cfg.Upload.BatchSize)
	if err != nil {
		return nil, nil, err
	}
	return s, cfg, nil
}

// RootCommand creates the command tree.
func (a *App) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "captionset",
		Short:         "Ingest COCO and CSV caption datasets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Logs go to stderr so stdout stays machine readable.
			logging.SetupWriter(a.Err, a.logLevel, a.logFormat)
		},
	}
	root.SetOut(a.Out)
	root.SetErr(a.Err)

	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "text", "Log format: text or json")
	root.PersistentFlags().BoolVar(&a.asJSON, "json", false, "Print results as JSON")

	root.AddCommand(
		a.detectCommand(),
		a.parseCommand(),
		a.loadCommand(),
		a.listCommand(),
		a.resetCommand(),
		a.migrateCommand(),
	)
	return root
}

// Execute runs the CLI and reports errors in user-facing form.
func (a *App) Execute(ctx context.Context, args []string) int {
	root := a.RootCommand()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		if core.IsUserFacing(err) {
			fmt.Fprintf(a.Err, "Error: %s\n  details: %v\n", core.FormatUserError(err), err)
		} else {
			fmt.Fprintf(a.Err, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func (a *App) detectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "detect FILE",
		Short: "Print the detected format of a dataset file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			sniffed, err := core.SniffReader(f)
			if err != nil {
				return err
			}
			if a.asJSON {
				return a.printJSON(map[string]string{"file": args[0], "format": sniffed.Format.String()})
			}
			fmt.Fprintln(a.Out, sniffed.Format)
			return nil
		},
	}
}

func (a *App) parseCommand() *cobra.Command {
	var sample int
	cmd := &cobra.Command{
		Use:   "parse FILE",
		Short: "Parse a dataset file without storing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			result, err := core.ParseUpload(cmd.Context(), f, core.WithSkipSampleSize(sample))
			if err != nil {
				return err
			}
			if a.asJSON {
				return a.printJSON(result)
			}

			fmt.Fprintf(a.Out, "format:     %s\n", result.Format)
			fmt.Fprintf(a.Out, "records:    %d\n", len(result.Records))
			fmt.Fprintf(a.Out, "skipped:    %d\n", result.Skipped.Total)
			fmt.Fprintf(a.Out, "dimensions: %d warnings\n", result.DimensionWarnings)
			for _, w := range result.Skipped.Samples {
				fmt.Fprintf(a.Out, "  skip %s\n", w)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&sample, "sample", 10, "Number of skipped records to show")
	return cmd
}

func (a *App) loadCommand() *cobra.Command {
	var datasetID string
	cmd := &cobra.Command{
		Use:   "load FILE",
		Short: "Replace a dataset's images with the contents of FILE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			s, cfg, err := a.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			svc, err := core.NewService(s, core.ServiceConfig{
				MaxFileSize:    cfg.Upload.MaxFileSize,
				MaxConcurrent:  1,
				Timeout:        cfg.Upload.Timeout,
				LockWaitTime:   cfg.Upload.LockWaitTime,
				SkipSampleSize: cfg.Upload.SkipSampleSize,
			})
			if err != nil {
				return err
			}

			result, err := svc.IngestUpload(cmd.Context(), datasetID, f)
			if err != nil {
				return err
			}
			if a.asJSON {
				return a.printJSON(result)
			}
			fmt.Fprintln(a.Out, result.Summary())
			return nil
		},
	}
	cmd.Flags().StringVarP(&datasetID, "dataset", "d", "", "Target dataset id")
	_ = cmd.MarkFlagRequired("dataset")
	return cmd
}

func (a *App) listCommand() *cobra.Command {
	var (
		datasetID     string
		limit, offset int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a dataset's stored images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 || offset < 0 {
				return fmt.Errorf("--limit and --offset must be non-negative")
			}
			s, _, err := a.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			images, err := s.ListImages(cmd.Context(), datasetID, core.Page{Limit: limit, Offset: offset})
			if err != nil {
				return err
			}
			if a.asJSON {
				return a.printJSON(images)
			}

			tw := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tKEY\tSIZE\tURL\tCAPTION")
			for _, img := range images {
				fmt.Fprintf(tw, "%d\t%s\t%dx%d\t%s\t%s\n",
					img.OrderIndex, img.ImageKey, img.Width, img.Height, img.PrimaryURL, truncate(img.Caption, 60))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&datasetID, "dataset", "d", "", "Dataset id")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum images to print (0 for all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Images to skip")
	_ = cmd.MarkFlagRequired("dataset")
	return cmd
}

func (a *App) resetCommand() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "reset DATASET...",
		Short: "Delete every image of the given datasets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("refusing to reset %s without --yes", strings.Join(args, ", "))
			}

			s, _, err := a.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			r := &admin.Resetter{Sink: s}
			if err := r.ResetAll(cmd.Context(), args...); err != nil {
				return err
			}
			fmt.Fprintf(a.Out, "reset %d datasets\n", len(args))
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "Confirm the destructive reset")
	return cmd
}

func (a *App) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := a.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.Out, "schema up to date")
			return nil
		},
	}
}

func (a *App) printJSON(v any) error {
	return jsonx.NewEncoder(a.Out).Encode(v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
