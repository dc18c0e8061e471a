// Package main is the entry point for the tribridrag CLI: index a
// source corpus, query it with tri-brid fusion, and manage the
// learning-loop adapters.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tribridrag/tribridrag"
	"github.com/tribridrag/tribridrag/application/service"
	"github.com/tribridrag/tribridrag/internal/config"
	"github.com/tribridrag/tribridrag/internal/log"
)

// Version information set via ldflags during build.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cliFlags are the persistent flags shared by every subcommand.
type cliFlags struct {
	envFile      string
	settingsFile string
}

func rootCmd() *cobra.Command {
	flags := &cliFlags{}

	cmd := &cobra.Command{
		Use:   "tribridrag",
		Short: "Tri-brid retrieval over source-code corpora",
		Long:  `TriBridRAG indexes source-code corpora and answers queries by fusing dense vector search, sparse BM25 search, and a code-entity graph walk, with optional cross-encoder reranking.`,
	}
	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "path to a .env file (default: ./.env if present)")
	cmd.PersistentFlags().StringVar(&flags.settingsFile, "settings", "", "path to a YAML retrieval settings file")

	cmd.AddCommand(buildCmd(flags))
	cmd.AddCommand(queryCmd(flags))
	cmd.AddCommand(learnCmd(flags))
	cmd.AddCommand(promoteCmd(flags))
	cmd.AddCommand(versionCmd())

	return cmd
}

// loadConfig loads configuration from .env file and environment variables.
func loadConfig(envFile string) (config.AppConfig, error) {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return config.AppConfig{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newClient(flags *cliFlags) (*tribridrag.Client, error) {
	cfg, err := loadConfig(flags.envFile)
	if err != nil {
		return nil, err
	}
	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}
	opts = append(opts, tribridrag.WithLogger(log.NewLogger(cfg).Slog()))
	if flags.settingsFile != "" {
		settings, err := config.LoadRetrievalSettings(flags.settingsFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, tribridrag.WithRetrievalSettings(settings))
	}
	return tribridrag.New(opts...)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func buildCmd(flags *cliFlags) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "build <corpus-id> <path>",
		Short: "Index a source corpus",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(flags)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			ctx, cancel := signalContext()
			defer cancel()

			start := time.Now()
			err = client.BuildCorpusSync(ctx, args[0], args[1], force, func(p service.BuildProgress) {
				fmt.Fprintf(cmd.OutOrStdout(), "\r%s: %d/%d", p.Phase, p.Completed, p.Total)
			})
			fmt.Fprintln(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "built %s in %s\n", args[0], time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "rebuild every file even when unchanged")
	return cmd
}

func queryCmd(flags *cliFlags) *cobra.Command {
	var (
		topK       int
		noVector   bool
		noSparse   bool
		noGraph    bool
		deadlineMS int
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "query <corpus-id> <query>",
		Short: "Query a corpus with tri-brid fusion",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(flags)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			ctx, cancel := signalContext()
			defer cancel()

			result, err := client.Search.Query(ctx, service.RetrievalRequest{
				Query:         args[1],
				CorpusID:      args[0],
				TopK:          topK,
				IncludeVector: !noVector,
				IncludeSparse: !noSparse,
				IncludeGraph:  !noGraph,
				Deadline:      time.Duration(deadlineMS) * time.Millisecond,
			})
			if err != nil {
				return err
			}

			if asJSON {
				return printResultJSON(cmd, result)
			}
			for i, m := range result.Matches {
				fmt.Fprintf(cmd.OutOrStdout(), "%2d. %s  score=%.4f  source=%s\n", i+1, m.ChunkID(), m.Score(), m.Source())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "fusion=%s reranker=%s latency=%dms\n",
				result.FusionMethod, result.RerankerMode, result.LatencyMS)
			return nil
		},
	}
	cmd.Flags().IntVar(&topK, "top-k", 10, "number of results")
	cmd.Flags().BoolVar(&noVector, "no-vector", false, "disable the dense retriever")
	cmd.Flags().BoolVar(&noSparse, "no-sparse", false, "disable the lexical retriever")
	cmd.Flags().BoolVar(&noGraph, "no-graph", false, "disable the graph retriever")
	cmd.Flags().IntVar(&deadlineMS, "deadline-ms", 5000, "overall query deadline")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	return cmd
}

func printResultJSON(cmd *cobra.Command, result service.RetrievalResult) error {
	type matchOut struct {
		ChunkID string  `json:"chunk_id"`
		Score   float64 `json:"score"`
		Source  string  `json:"source"`
	}
	out := struct {
		Matches      []matchOut `json:"matches"`
		FusionMethod string     `json:"fusion_method"`
		RerankerMode string     `json:"reranker_mode"`
		LatencyMS    int64      `json:"latency_ms"`
	}{
		FusionMethod: result.FusionMethod,
		RerankerMode: result.RerankerMode,
		LatencyMS:    result.LatencyMS,
	}
	for _, m := range result.Matches {
		out.Matches = append(out.Matches, matchOut{ChunkID: m.ChunkID(), Score: m.Score(), Source: string(m.Source())})
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func learnCmd(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "learn",
		Short: "Run one learning-loop pass (mine triplets, train an adapter)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(flags)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			ctx, cancel := signalContext()
			defer cancel()

			artifact, err := client.Learning.RunOnce(ctx)
			if err != nil {
				return err
			}
			if artifact.RunID == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "not enough new triplets; no training run")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "trained run %s  metric=%.4f  triplets=%d\n",
				artifact.RunID, artifact.Metric, artifact.TripletsUsed)
			return nil
		},
	}
}

func promoteCmd(flags *cliFlags) *cobra.Command {
	var adapter string

	cmd := &cobra.Command{
		Use:   "promote <run-id>",
		Short: "Promote a trained adapter if it beats the baseline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(flags)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			ctx, cancel := signalContext()
			defer cancel()

			if err := client.PromoteAdapter(ctx, args[0], adapter); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "promote queued for run %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&adapter, "adapter", "default", "adapter name to promote into")
	return cmd
}
