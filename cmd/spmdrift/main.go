package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"

	"spmdrift/internal/logger"
	"spmdrift/pkg/config"
	"spmdrift/pkg/drift"
	"spmdrift/pkg/visualization"
)

// errUsage is returned when required flags are missing
var errUsage = errors.New("both -before and -after are required")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options holds the command line flags not covered by the configuration
type options struct {
	before, after   string
	before2, after2 string
	xreal, yreal    float64
	configPath      string
	writeConfig     string
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("spmdrift", flag.ContinueOnError)

	var opts options
	fs.StringVar(&opts.before, "before", "", "First scan image (PNG, JPEG or TIFF)")
	fs.StringVar(&opts.after, "after", "", "Second scan image of the same area")
	fs.StringVar(&opts.before2, "before2", "", "Optional second channel of the first scan")
	fs.StringVar(&opts.after2, "after2", "", "Optional second channel of the second scan")
	fs.StringVar(&opts.configPath, "config", "spmdrift.yaml", "Configuration file")
	fs.StringVar(&opts.writeConfig, "write-config", "", "Write the default configuration to this path and exit")
	fs.Float64Var(&opts.xreal, "xreal", 1e-6, "Physical width of the scans in metres")
	fs.Float64Var(&opts.yreal, "yreal", 1e-6, "Physical height of the scans in metres")

	searchWidth := fs.Int("search-width", 0, "Search area width in pixels")
	searchHeight := fs.Int("search-height", 0, "Search area height in pixels")
	offsetX := fs.Int("offset-x", 0, "Expected horizontal drift in pixels")
	offsetY := fs.Int("offset-y", 0, "Expected vertical drift in pixels")
	guessOffset := fs.Bool("guess-offset", false, "Estimate the expected drift from the scans")
	result := fs.String("result", "", "Maps to produce: all, abs, x, y, dir or score")
	output := fs.String("output", "", "Output directory")
	mask := fs.Bool("mask", true, "Write the low score mask")
	threshold := fs.Float64("threshold", 0, "Score below which pixels are masked")
	extend := fs.Bool("extend", true, "Extend the displacements into the unsearched border")
	correct := fs.Bool("correct", true, "Write the second scan corrected for the drift")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if opts.writeConfig != "" {
		if err := config.CreateDefaultConfigFile(opts.writeConfig); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Default configuration written to: %s\n", opts.writeConfig)
		return nil
	}

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}

	// explicitly set flags override the configuration file
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "search-width":
			cfg.Correlation.SearchWidth = *searchWidth
		case "search-height":
			cfg.Correlation.SearchHeight = *searchHeight
		case "offset-x":
			cfg.Correlation.SearchOffsetX = *offsetX
		case "offset-y":
			cfg.Correlation.SearchOffsetY = *offsetY
		case "guess-offset":
			cfg.Correlation.GuessOffset = *guessOffset
		case "result":
			cfg.Output.Result = *result
		case "output":
			cfg.Output.Dir = *output
		case "mask":
			cfg.Output.LowScoreMask = *mask
		case "threshold":
			cfg.Output.Threshold = *threshold
		case "extend":
			cfg.Postprocess.ExtendBorders = *extend
		case "correct":
			cfg.Postprocess.Correct = *correct
		case "log-level":
			cfg.Logging.Level = *logLevel
		}
	})

	params, err := cfg.DriftParams()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg, stdout)
	if err != nil {
		return err
	}

	if opts.before == "" || opts.after == "" {
		fs.Usage()
		return errUsage
	}
	if (opts.before2 == "") != (opts.after2 == "") {
		return errors.New("-before2 and -after2 must be given together")
	}

	log.Info().Msg("SPM drift analysis by block cross-correlation")

	pair, err := loadPair(opts.before, opts.after, opts.xreal, opts.yreal)
	if err != nil {
		return err
	}
	var second *drift.Pair
	if opts.before2 != "" {
		p, err := loadPair(opts.before2, opts.after2, opts.xreal, opts.yreal)
		if err != nil {
			return err
		}
		second = &p
	}

	analyzer := drift.NewAnalyzer(params).WithLogger(log)
	lastDecile, lastMessage := -1, ""
	analyzer.SetProgressCallback(func(completed, total int, message string) {
		if total <= 0 {
			return
		}
		if decile := completed * 10 / total; decile != lastDecile || message != lastMessage {
			lastDecile, lastMessage = decile, message
			log.Info().Int("percent", decile*10).Msg(message)
		}
	})

	startTime := time.Now()
	res, err := analyzer.Process(ctx, pair, second)
	if err != nil {
		return fmt.Errorf("drift analysis failed: %w", err)
	}
	processingTime := time.Since(startTime)

	exporter, err := visualization.NewExporter(cfg.Output.Dir, cfg.Output.Format)
	if err != nil {
		return err
	}
	paths, err := exporter.SaveAll(res.Maps())
	if err != nil {
		return fmt.Errorf("failed to save result maps: %w", err)
	}
	for _, path := range paths {
		log.Info().Str("path", path).Msg("map saved")
	}

	printSummary(stdout, res, processingTime)
	return nil
}

func newLogger(cfg *config.Config, stdout io.Writer) (zerolog.Logger, error) {
	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return zerolog.Nop(), err
	}
	if cfg.Logging.JSON {
		return logger.New(stdout, level), nil
	}
	return logger.NewConsole(stdout, level), nil
}

func loadPair(before, after string, xreal, yreal float64) (drift.Pair, error) {
	b, err := visualization.LoadField(before, xreal, yreal)
	if err != nil {
		return drift.Pair{}, fmt.Errorf("failed to load %s: %w", before, err)
	}
	a, err := visualization.LoadField(after, xreal, yreal)
	if err != nil {
		return drift.Pair{}, fmt.Errorf("failed to load %s: %w", after, err)
	}
	if err := b.CheckCompatible(a); err != nil {
		return drift.Pair{}, fmt.Errorf("%s and %s: %w", before, after, err)
	}
	return drift.Pair{Before: b, After: a}, nil
}

func printSummary(w io.Writer, res *drift.Result, elapsed time.Duration) {
	s := res.Summary
	fmt.Fprintf(w, "\nDrift analysis completed in %.2f seconds\n", elapsed.Seconds())
	fmt.Fprintf(w, "=======================================\n")
	fmt.Fprintf(w, "Search offset: %d, %d px\n", res.OffsetX, res.OffsetY)
	fmt.Fprintf(w, "Valid pixels: %d of %d\n", s.Valid, s.Total)
	if s.Valid == 0 {
		fmt.Fprintln(w, "No pixel could be matched")
		return
	}
	fmt.Fprintf(w, "Mean drift X: %.4g m (std %.4g)\n", s.MeanX, s.StdDevX)
	fmt.Fprintf(w, "Mean drift Y: %.4g m (std %.4g)\n", s.MeanY, s.StdDevY)
	fmt.Fprintf(w, "Mean score:   %.3f\n", s.MeanScore)
	if s.Covariance != nil {
		fmt.Fprintf(w, "Covariance:   [%.4g %.4g; %.4g %.4g]\n",
			s.Covariance.At(0, 0), s.Covariance.At(0, 1),
			s.Covariance.At(1, 0), s.Covariance.At(1, 1))
	}
}
