// Command gribidx builds and applies byte-range indexes for GRIB2 archives.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meigma/gribidx"
	gribidxhttp "github.com/meigma/gribidx/http"
)

var (
	flagSuffix  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:          "gribidx",
	Short:        "Byte-range indexing for GRIB2 archives from their .idx sidecars",
	SilenceUsage: true,
	Long: `gribidx reconciles GRIB2 files with their sidecar .idx files. Build a
mapping once from one representative file of a forecast horizon, then index
any number of files sharing that layout from their sidecars alone.`,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flagSuffix, "suffix", gribidx.DefaultIdxSuffix, "sidecar file suffix")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log warnings and progress to stderr")

	rootCmd.AddCommand(parseCmd(), mappingCmd(), indexCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// logger returns a stderr text logger, or a discard logger unless -v.
func logger() *slog.Logger {
	if !flagVerbose {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// sourceFor picks a source by URI scheme.
func sourceFor(uri string) gribidx.Source {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return gribidxhttp.NewSource()
	}
	return gribidx.FileSource{}
}
