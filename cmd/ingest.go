package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tidbyt.dev/gtfsingest/config"
	"tidbyt.dev/gtfsingest/downloader"
	"tidbyt.dev/gtfsingest/errorstore"
	"tidbyt.dev/gtfsingest/ingest"
	"tidbyt.dev/gtfsingest/ingestlog"
)

var (
	configPath   string
	feedURL      string
	headers      []string
	cacheFile    string
	cacheTTL     time.Duration
	fetchTimeout time.Duration
)

func init() {
	loadCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")
	loadCmd.Flags().StringVarP(&feedURL, "url", "u", "", "fetch the archive from this URL instead of a local path")
	loadCmd.Flags().StringSliceVarP(&headers, "header", "H", []string{}, "HTTP header to send with --url, form <key>:<value>")
	loadCmd.Flags().StringVar(&cacheFile, "cache-file", "", "disk-backed cache file for --url fetches (defaults to no caching)")
	loadCmd.Flags().DurationVar(&cacheTTL, "cache-ttl", time.Hour, "how long a cached --url response stays fresh")
	loadCmd.Flags().DurationVar(&fetchTimeout, "timeout", 30*time.Second, "HTTP timeout for --url fetches")
	validateCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(validateCmd)
}

func newPipeline(cfg config.Config) *ingest.Pipeline {
	if cfg.Backend == "postgres" {
		return ingest.NewPostgresPipeline(cfg, ingestlog.Default())
	}
	return ingest.NewSQLitePipeline(cfg, ingestlog.Default())
}

func parseHeaders(raw []string) (map[string]string, error) {
	parsed := map[string]string{}
	for _, h := range raw {
		parts := strings.SplitN(h, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("'%s' is not on form <key>:<value>", h)
		}
		parsed[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return parsed, nil
}

var loadCmd = &cobra.Command{
	Use:   "load [archive.zip]",
	Short: "Load a GTFS archive into a fresh feed namespace",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		pipeline := newPipeline(cfg)

		var res *ingest.LoadResult
		switch {
		case feedURL != "":
			hdrs, err := parseHeaders(headers)
			if err != nil {
				return fmt.Errorf("invalid header: %w", err)
			}
			var dl downloader.Downloader
			if cacheFile != "" {
				fs, err := downloader.NewFilesystem(cacheFile)
				if err != nil {
					return fmt.Errorf("opening cache file: %w", err)
				}
				dl = fs
			} else {
				dl = downloader.NewMemory()
			}
			opts := downloader.GetOptions{Timeout: fetchTimeout, Cache: cacheFile != "", CacheTTL: cacheTTL}
			res, err = pipeline.LoadFromURL(context.Background(), dl, feedURL, hdrs, opts, nil)
			if err != nil {
				return err
			}
		case len(args) == 1:
			res, err = pipeline.Load(args[0], nil)
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("either an archive path or --url is required")
		}

		if res.FatalException != nil {
			return fmt.Errorf("load failed: %w", res.FatalException)
		}

		fmt.Printf("namespace: %s\n", res.Namespace)
		var totalErrors int64
		for _, t := range res.Tables {
			fmt.Printf("  %-24s rows=%-8d errors=%-6d bytes=%d\n", t.Table, t.RowCount, t.ErrorCount, t.ByteCount)
			totalErrors += t.ErrorCount
		}
		fmt.Printf("loaded in %dms, %d total errors\n", res.TotalTimeMillis, totalErrors)
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <namespace>",
	Short: "Run the trip-walk validation pass against a loaded feed namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		pipeline := newPipeline(cfg)

		res, err := pipeline.Validate(args[0], nil)
		if err != nil {
			return err
		}
		if res.FatalException != nil {
			return fmt.Errorf("validate failed: %w", res.FatalException)
		}

		fmt.Printf("errors: %d\n", res.ErrorCount)
		kinds := make([]string, 0, len(res.ErrorKindCounts))
		for k := range res.ErrorKindCounts {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Printf("  %-55s %d\n", errorstore.HumanMessage(k), res.ErrorKindCounts[k])
		}
		fmt.Printf("declared service: %s - %s\n", res.DeclaredStartDate, res.DeclaredEndDate)
		fmt.Printf("observed service:  %s - %s\n", res.FirstObservedDate, res.LastObservedDate)
		fmt.Printf("bounding box:          [%.5f,%.5f] - [%.5f,%.5f]\n",
			res.FullBoundingBox.MinLat, res.FullBoundingBox.MinLon, res.FullBoundingBox.MaxLat, res.FullBoundingBox.MaxLon)
		fmt.Printf("bounding box (outliers stripped): [%.5f,%.5f] - [%.5f,%.5f]\n",
			res.OutlierStrippedBBox.MinLat, res.OutlierStrippedBBox.MinLon, res.OutlierStrippedBBox.MaxLat, res.OutlierStrippedBBox.MaxLon)
		fmt.Printf("validated in %dms\n", res.ValidationTimeMillis)
		return nil
	},
}
