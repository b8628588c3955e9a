package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"alphabias/domain/channel"
	"alphabias/domain/run"
	"alphabias/domain/shape"
	"alphabias/internal/config"
	"alphabias/internal/container"
	"alphabias/internal/migration"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:           "alphabias",
		Short:         "Sideband background estimation and toy MC bias/pull studies",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newEstimateCmd(),
		newChannelsCmd(),
		newServeCmd(),
		newMigrateCmd(),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// studyFlags override the environment configuration of a study.
type studyFlags struct {
	trials  int
	seed    uint64
	workers int
	output  string
}

func (f *studyFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.trials, "trials", 0, "Number of toy trials (default STUDY_TRIALS)")
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "Random seed (default STUDY_SEED)")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "Concurrent trials (default STUDY_WORKERS)")
	cmd.Flags().StringVar(&f.output, "output", "", "Output directory (default OUTPUT_DIR)")
}

func (f *studyFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("trials") {
		cfg.Study.Trials = f.trials
	}
	if cmd.Flags().Changed("seed") {
		cfg.Study.Seed = f.seed
	}
	if cmd.Flags().Changed("workers") {
		cfg.Study.Workers = f.workers
	}
	if f.output != "" {
		cfg.Paths.OutputDir = f.output
	}
}

func loadContainer(ctx context.Context, cmd *cobra.Command, flags *studyFlags) (*container.Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flags != nil {
		flags.apply(cmd, cfg)
	}
	c, err := container.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func newRunCmd() *cobra.Command {
	var (
		channels []string
		all      bool
		parallel int
		flags    studyFlags
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bias/pull study of one or more channels",
		Long: `Fit the MC shapes, estimate the sideband background and run the toy study.

Results go to OUTPUT_DIR/<channel>: plots, a markdown report and an xlsx workbook.
The study record is stored in postgres when DATABASE_URL is set, in
OUTPUT_DIR/studies otherwise.

Example: alphabias run --channel XZhnnb --trials 500 --seed 7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				channels = channel.Known
			}
			if len(channels) == 0 {
				return fmt.Errorf("either --channel or --all is required")
			}
			c, err := loadContainer(cmd.Context(), cmd, &flags)
			if err != nil {
				return err
			}
			defer c.Shutdown(context.Background())

			records, runErr := c.Service.RunAll(cmd.Context(), channels, parallel)
			printRecords(cmd, records)
			return runErr
		},
	}

	cmd.Flags().StringSliceVar(&channels, "channel", nil, "Channel to study (repeatable)")
	cmd.Flags().BoolVar(&all, "all", false, "Study every known channel")
	cmd.Flags().IntVar(&parallel, "parallel", 2, "Channels studied concurrently")
	flags.register(cmd)
	return cmd
}

func printRecords(cmd *cobra.Command, records []*run.Record) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CHANNEL\tSTATUS\tTRIALS\tCONVERGED\tBIAS\tPULL MEAN\tPULL WIDTH\tSR ESTIMATE\tID")
	for _, r := range records {
		if r == nil {
			continue
		}
		s := r.Summary
		sr := "-"
		if b := r.Background; b != nil {
			sr = fmt.Sprintf("%.1f ± %.1f", b.SRYield, b.TotalErr)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%.1f%%\t%+.4f\t%+.3f\t%.3f\t%s\t%s\n",
			r.Manifest.Channel, r.Status, s.TrialsRun, 100*s.ConvergenceRate,
			s.BiasConverged.Mean, s.PullConverged.Mean, s.PullConverged.StdDev, sr, r.ID())
	}
	w.Flush()
}

func newEstimateCmd() *cobra.Command {
	var name string
	var flags studyFlags

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the signal-region background of a channel from its sidebands",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadContainer(cmd.Context(), cmd, &flags)
			if err != nil {
				return err
			}
			defer c.Shutdown(context.Background())

			p, est, plots, err := c.Service.Estimate(cmd.Context(), name)
			if err != nil {
				return err
			}
			b := est.Background
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s)\n", name, p.Channel.Summary())
			fmt.Fprintf(out, "  SR  %.2f ± %.2f (stat) ± %.2f (syst) ± %.2f (alt) = ± %.2f\n",
				b.SRYield, b.StatErr, b.SystErr, b.AltErr, b.TotalErr)
			fmt.Fprintf(out, "  VR  %.2f\n  SB  %.2f (observed %.0f)\n", b.VRYield, b.SBYield, est.ObservedSB)
			comps := make([]string, 0, len(b.SRFractions))
			for comp := range b.SRFractions {
				comps = append(comps, comp)
			}
			sort.Strings(comps)
			for _, comp := range comps {
				fmt.Fprintf(out, "  SR fraction %-5s %.4f\n", comp, b.SRFractions[comp])
			}
			for _, pl := range plots {
				fmt.Fprintf(out, "  wrote %s\n", pl)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "channel", "", "Channel to estimate")
	_ = cmd.MarkFlagRequired("channel")
	flags.register(cmd)
	return cmd
}

func newChannelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "List the known channels with their shape families",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CHANNEL\tLEPTONS\tBTAG\tVJET\tALT VJET\tVV\tTOP\tTOP SF")
			for _, name := range channel.Known {
				cfg, err := channel.Parse(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\t%s\t%.3f ± %.3f\n",
					cfg.Name, cfg.NLeptons(), cfg.NBtag,
					cfg.Families[shape.Vjet], cfg.AltVjet, cfg.Families[shape.VV], cfg.Families[shape.Top],
					cfg.TopSF, cfg.TopSFErr)
			}
			return w.Flush()
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve stored studies, study launches and metrics over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadContainer(cmd.Context(), cmd, nil)
			if err != nil {
				return err
			}
			defer c.Shutdown(context.Background())

			gin.SetMode(c.Config.Server.GinMode)
			srv := &http.Server{
				Addr:              ":" + c.Config.Server.Port,
				Handler:           c.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				log.Printf("Serving studies on %s", srv.Addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-cmd.Context().Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			log.Printf("Shutting down")
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the study tables in DATABASE_URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := strings.TrimSpace(os.Getenv("DATABASE_URL"))
			if url == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}
			db, err := container.OpenDatabase(cmd.Context(), url)
			if err != nil {
				return err
			}
			defer db.Close()
			runner := migration.NewRunner()
			if err := runner.Run(cmd.Context(), db); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %s applied\n", runner.Version())
			return nil
		},
	}
}
