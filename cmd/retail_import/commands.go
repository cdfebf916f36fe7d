package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/DjordjeVuckovic/retail-ingest/internal/ingest"
	"github.com/DjordjeVuckovic/retail-ingest/internal/ingest/source"
	"github.com/DjordjeVuckovic/retail-ingest/internal/service"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	f := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "retail_import",
		Short: "Import retailer product catalogues",
		Long: `
Streams a retailer feed through parsing, validation, transformation and
persistence, optionally indexing products into Elasticsearch.

Storage is configured from the environment (STORAGE_TYPE, PG_*, ES_*).
`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	bindRootFlags(cmd, f)

	cmd.AddCommand(
		newFileCommand(f, "csv", source.KindCSV, "Import a delimited text file"),
		newFileCommand(f, "json", source.KindAuto, "Import a JSON array or JSON Lines file"),
		newAPICommand(f),
	)
	return cmd
}

func bindRootFlags(cmd *cobra.Command, f *rootFlags) {
	flags := cmd.PersistentFlags()
	flags.StringVarP(&f.retailer, "retailer", "r", "", "retailer name recorded as the batch source")
	flags.StringVar(&f.importName, "import-name", "", "human readable batch name")
	flags.StringVar(&f.encoding, "encoding", "", "text encoding of delimited files (default utf-8-sig)")
	flags.IntVar(&f.chunkSize, "chunk-size", ingest.DefaultChunkSize, "records per chunk")
	flags.IntVar(&f.maxConcurrent, "max-concurrent", ingest.DefaultMaxConcurrentChunks, "chunks processed concurrently")
	flags.IntVar(&f.maxAttempts, "max-attempts", ingest.DefaultMaxAttempts, "attempts per chunk before its records are failed")
	flags.DurationVar(&f.retryDelay, "retry-delay", ingest.DefaultRetryDelay, "base delay between chunk attempts")
	flags.IntVar(&f.memoryLimitMB, "memory-limit-mb", 0, "pause reading while resident memory exceeds this many MiB")
	flags.BoolVar(&f.monitor, "monitor", false, "serve the run monitor API while importing")
	flags.StringVar(&f.pipelineConfig, "pipeline-config", "", "YAML file with pipeline tuning")
	flags.StringVar(&f.mappingConfig, "mapping-config", "", "YAML file with field mapping")
}

func newFileCommand(f *rootFlags, use string, kind source.Kind, short string) *cobra.Command {
	var lines bool
	cmd := &cobra.Command{
		Use:   use + " <path>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			k := kind
			if lines {
				k = source.KindJSONL
			}
			return runImport(c, f, func(ctx context.Context, imp *service.Importer, cfg *ImportConfig) (*ingest.RunContext, error) {
				return imp.ImportFile(ctx, service.FileImport{
					Path:       args[0],
					Retailer:   cfg.Retailer,
					ImportName: cfg.ImportName,
					Kind:       k,
					Encoding:   cfg.Encoding,
				})
			})
		},
	}
	if kind == source.KindAuto {
		cmd.Flags().BoolVar(&lines, "lines", false, "treat the file as JSON Lines regardless of its content")
	}
	return cmd
}

func newAPICommand(f *rootFlags) *cobra.Command {
	var (
		perPage   int
		rateLimit float64
		retries   uint64
		estimated int64
		headers   []string
	)
	cmd := &cobra.Command{
		Use:   "api <endpoint>",
		Short: "Import from a paginated JSON listing",
		Long: `
Fetches GET <endpoint>?page=N&per_page=M until a page reports has_more=false.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			opts := []source.PagerOption{
				source.WithPerPage(perPage),
				source.WithRateLimit(rateLimit),
				source.WithRetries(retries, nil),
			}
			for _, h := range headers {
				key, value, ok := strings.Cut(h, ":")
				if !ok {
					return fmt.Errorf("invalid header %q, expected Key: Value", h)
				}
				opts = append(opts, source.WithHeader(strings.TrimSpace(key), strings.TrimSpace(value)))
			}
			pager, err := source.NewHTTPPager(args[0], opts...)
			if err != nil {
				return err
			}
			return runImport(c, f, func(ctx context.Context, imp *service.Importer, cfg *ImportConfig) (*ingest.RunContext, error) {
				return imp.ImportAPI(ctx, service.APIImport{
					Fetcher:          pager.Fetch,
					Retailer:         cfg.Retailer,
					ImportName:       cfg.ImportName,
					EstimatedRecords: estimated,
				})
			})
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&perPage, "per-page", 100, "records requested per page")
	flags.Float64Var(&rateLimit, "rate-limit", 0, "maximum requests per second, 0 for unlimited")
	flags.Uint64Var(&retries, "retries", 3, "retries per page on transient failures")
	flags.Int64Var(&estimated, "estimated-records", 0, "expected record count used for progress")
	flags.StringArrayVarP(&headers, "header", "H", nil, "extra request header, repeatable")
	return cmd
}

type importFunc func(context.Context, *service.Importer, *ImportConfig) (*ingest.RunContext, error)

func runImport(c *cobra.Command, f *rootFlags, start importFunc) error {
	cfg, err := loadConfig(c, f)
	if err != nil {
		return err
	}

	a, err := newApp(c.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.close()

	return a.run(c.Context(), func(ctx context.Context, imp *service.Importer) (*ingest.RunContext, error) {
		return start(ctx, imp, cfg)
	})
}
