// Command mailclass-train fits a classifier on a directory of NDJSON
// training files and writes the model artifact.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/hupe1980/mailclass"
	"github.com/hupe1980/mailclass/dataset"
	"github.com/hupe1980/mailclass/persistence"
	"github.com/hupe1980/mailclass/taxonomy"
)

// Exit codes to provide meaningful status to the operating system or
// service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintln(os.Stderr, "mailclass-train:", err)
	}

	os.Exit(code)
}

func run() (int, error) {
	var (
		dataDir     = flag.String("data", "data", "directory of *.ndjson training files")
		taxPath     = flag.String("taxonomy", "taxonomy.json", "path to the taxonomy document")
		outPath     = flag.String("out", "model.mcls", "path the artifact is written to")
		epochs      = flag.Int("epochs", 3, "training passes over the dataset")
		features    = flag.Int("features", mailclass.DefaultNumFeatures, "hashed feature space width")
		compression = flag.String("compression", "zstd", "artifact compression: none, lz4 or zstd")
		verbose     = flag.Bool("verbose", false, "enable debug logging")
	)

	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}

	logger := mailclass.NewTextLogger(level)

	ct, err := parseCompression(*compression)
	if err != nil {
		return exitConfig, err
	}

	ctx := context.Background()

	tax, err := taxonomy.LoadFile(*taxPath)
	if err != nil {
		return exitConfig, fmt.Errorf("load taxonomy: %w", err)
	}

	ds, err := dataset.ReadDir(ctx, *dataDir, func(o *dataset.Options) {
		o.Logger = logger.Logger
	})
	if err != nil {
		return exitRuntime, fmt.Errorf("read dataset: %w", err)
	}

	if ds.Skipped > 0 {
		logger.Warn("skipped malformed records", "count", ds.Skipped)
	}

	logger.Info("training classifier",
		"examples", len(ds.Examples),
		"files", ds.Files,
		"epochs", *epochs,
		"features", *features,
	)

	clf, err := mailclass.FitClassifier(ctx, ds.Examples, tax,
		mailclass.WithNumFeatures(*features),
		mailclass.WithEpochs(*epochs),
		mailclass.WithCompression(ct),
		mailclass.WithLogger(logger),
	)
	if err != nil {
		return exitRuntime, fmt.Errorf("train: %w", err)
	}

	if err := clf.Save(ctx, *outPath); err != nil {
		return exitRuntime, fmt.Errorf("save artifact: %w", err)
	}

	printSummary(os.Stdout, clf.Stats())

	logger.Info("artifact written", "path", *outPath)

	return exitOK, nil
}

func parseCompression(name string) (persistence.CompressionType, error) {
	switch name {
	case "none":
		return persistence.CompressionNone, nil
	case "lz4":
		return persistence.CompressionLZ4, nil
	case "zstd":
		return persistence.CompressionZSTD, nil
	default:
		return 0, fmt.Errorf("unknown compression %q (want none, lz4 or zstd)", name)
	}
}

func printSummary(w io.Writer, stats mailclass.Stats) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	table.Append([]string{"documents", strconv.FormatInt(stats.DocCount, 10)})
	table.Append([]string{"features", strconv.Itoa(stats.NumFeatures)})

	for d := taxonomy.Dimension(0); d < taxonomy.NumDimensions; d++ {
		table.Append([]string{d.String() + " labels", strconv.Itoa(stats.HeadSizes[d])})
	}

	for i, loss := range stats.EpochLosses {
		table.Append([]string{fmt.Sprintf("epoch %d loss", i+1), strconv.FormatFloat(loss, 'f', 6, 64)})
	}

	table.Append([]string{"unknown labels", strconv.FormatInt(stats.UnknownLabels, 10)})
	table.Append([]string{"out-of-range predictions", strconv.FormatInt(stats.OutOfRangePredictions, 10)})
	table.Append([]string{"idf skips", strconv.FormatInt(stats.IDFSkips, 10)})

	table.Render()
}
