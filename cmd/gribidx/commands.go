package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/gribidx"
	"github.com/meigma/gribidx/grib"
)

// parseCmd prints the parsed sidecar records for one archive as JSON lines.
func parseCmd() *cobra.Command {
	var validate bool

	cmd := &cobra.Command{
		Use:   "parse <grib-uri>",
		Short: "Parse a sidecar into offset records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uri := args[0]
			records, err := gribidx.ParseIdx(uri,
				gribidx.ParseWithSuffix(flagSuffix),
				gribidx.ParseWithValidate(validate),
				gribidx.ParseWithSource(sourceFor(uri)),
			)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, rec := range records {
				if err := enc.Encode(rec); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&validate, "validate", false, "fail when attribute strings are not unique")
	return cmd
}

// mappingCmd builds a horizon mapping from one representative archive.
func mappingCmd() *cobra.Command {
	var output string
	var noValidate bool

	cmd := &cobra.Command{
		Use:   "mapping <grib-uri>",
		Short: "Build a horizon mapping from a representative file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uri := args[0]
			src := sourceFor(uri)
			dec := grib.NewScanner(
				grib.WithSource(src),
				grib.WithLogger(logger()),
			)
			mapping, err := gribidx.BuildMapping(uri,
				gribidx.MappingWithSuffix(flagSuffix),
				gribidx.MappingWithValidate(!noValidate),
				gribidx.MappingWithSource(src),
				gribidx.MappingWithDecoder(dec),
				gribidx.MappingWithLogger(logger()),
			)
			if err != nil {
				return err
			}
			if err := gribidx.SaveMapping(mapping, output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d entries, horizon %s)\n",
				output, len(mapping.Entries), mapping.Horizon)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "mapping.json", "mapping output path (.zst compresses)")
	cmd.Flags().BoolVar(&noValidate, "no-validate", false, "skip offset cross-checking")
	return cmd
}

// indexCmd materializes per-file indexes for many archives of one horizon.
func indexCmd() *cobra.Command {
	var mappingPath string
	var runTimeArg string
	var outDir string
	var concurrency int

	cmd := &cobra.Command{
		Use:   "index -m mapping.json -t <run-time> <grib-uri>...",
		Short: "Materialize per-file indexes from a cached mapping",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mapping, err := gribidx.LoadMapping(mappingPath)
			if err != nil {
				return err
			}
			runTime, err := time.Parse(time.RFC3339, runTimeArg)
			if err != nil {
				return fmt.Errorf("parsing run time %q: %w", runTimeArg, err)
			}
			if outDir != "" {
				if err := os.MkdirAll(outDir, 0o755); err != nil {
					return err
				}
			}

			// The mapping is shared read-only; each materialization is
			// independent.
			eg := new(errgroup.Group)
			eg.SetLimit(concurrency)
			for _, uri := range args {
				eg.Go(func() error {
					return indexOne(uri, runTime, mapping, outDir)
				})
			}
			return eg.Wait()
		},
	}
	cmd.Flags().StringVarP(&mappingPath, "mapping", "m", "", "mapping file built by the mapping command")
	cmd.Flags().StringVarP(&runTimeArg, "run-time", "t", "", "forecast run time (RFC 3339)")
	cmd.Flags().StringVarP(&outDir, "out-dir", "o", "", "directory for index files (default: next to each archive)")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 4, "files indexed in parallel")
	_ = cmd.MarkFlagRequired("mapping")  //nolint:errcheck // flag exists
	_ = cmd.MarkFlagRequired("run-time") //nolint:errcheck // flag exists
	return cmd
}

func indexOne(uri string, runTime time.Time, mapping *gribidx.Mapping, outDir string) error {
	records, err := gribidx.ParseIdx(uri,
		gribidx.ParseWithSuffix(flagSuffix),
		gribidx.ParseWithSource(sourceFor(uri)),
	)
	if err != nil {
		return err
	}
	rows, err := gribidx.MapFromIndex(runTime, mapping, records,
		gribidx.MapWithLogger(logger()),
	)
	if err != nil {
		return err
	}

	out := indexPath(uri, outDir)
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o644)
}

func indexPath(uri, outDir string) string {
	base := filepath.Base(strings.TrimSuffix(uri, "/")) + ".index.json"
	if outDir == "" {
		if !strings.Contains(uri, "://") {
			return filepath.Join(filepath.Dir(uri), base)
		}
		return base
	}
	return filepath.Join(outDir, base)
}
