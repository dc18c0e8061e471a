package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tribridrag/tribridrag"
	"github.com/tribridrag/tribridrag/infrastructure/provider"
	"github.com/tribridrag/tribridrag/internal/config"
)

// clientOptions returns the tribridrag.Option slice derived from the
// shared parts of AppConfig: database storage, embedding provider, and
// chat provider. Callers append entrypoint-specific options before
// passing the full slice to tribridrag.New.
func clientOptions(cfg config.AppConfig) ([]tribridrag.Option, error) {
	var opts []tribridrag.Option

	opts = append(opts, storageOptions(cfg)...)
	opts = append(opts, tribridrag.WithDataDir(cfg.DataDir()))
	opts = append(opts, tribridrag.WithWorkerCount(cfg.WorkerCount()))
	opts = append(opts, tribridrag.WithPeriodicSync(cfg.PeriodicSync()))

	embOpts, err := embeddingOptions(cfg)
	if err != nil {
		return nil, fmt.Errorf("embedding config: %w", err)
	}
	opts = append(opts, embOpts...)

	chatOpts, err := chatOptions(cfg)
	if err != nil {
		return nil, fmt.Errorf("chat config: %w", err)
	}
	opts = append(opts, chatOpts...)

	return opts, nil
}

// storageOptions returns the option for the configured database backend.
func storageOptions(cfg config.AppConfig) []tribridrag.Option {
	dbURL := cfg.DBURL()

	if dbURL != "" && !isSQLite(dbURL) {
		return []tribridrag.Option{tribridrag.WithPostgres(dbURL)}
	}

	dbPath := cfg.DataDir() + "/tribridrag.db"
	if dbURL != "" && isSQLite(dbURL) {
		dbPath = strings.TrimPrefix(dbURL, "sqlite:///")
		if dbPath == dbURL {
			dbPath = strings.TrimPrefix(dbURL, "sqlite:")
		}
	}

	return []tribridrag.Option{tribridrag.WithSQLite(dbPath)}
}

// embeddingOptions returns the embedding provider option when the
// embedding endpoint is fully configured, or an empty slice otherwise
// (the client falls back to the built-in local model).
func embeddingOptions(cfg config.AppConfig) ([]tribridrag.Option, error) {
	endpoint := cfg.EmbeddingEndpoint()
	if endpoint == nil || endpoint.BaseURL() == "" || endpoint.APIKey() == "" {
		return nil, nil
	}

	openaiCfg := provider.OpenAIConfig{
		APIKey:         endpoint.APIKey(),
		BaseURL:        endpoint.BaseURL(),
		EmbeddingModel: endpoint.Model(),
		Timeout:        endpoint.Timeout(),
		MaxRetries:     endpoint.MaxRetries(),
	}
	if cacheDir := cfg.HTTPCacheDir(); cacheDir != "" {
		openaiCfg.HTTPClient = &http.Client{
			Timeout:   endpoint.Timeout(),
			Transport: provider.NewCachingTransport(cacheDir, nil),
		}
	}
	p := provider.NewOpenAIProviderFromConfig(openaiCfg)

	return []tribridrag.Option{tribridrag.WithEmbeddingProvider(p)}, nil
}

// chatOptions returns the chat model option (semantic graph extraction
// and community summaries) when the enrichment endpoint is configured.
func chatOptions(cfg config.AppConfig) ([]tribridrag.Option, error) {
	endpoint := cfg.EnrichmentEndpoint()
	if endpoint == nil || endpoint.BaseURL() == "" || endpoint.APIKey() == "" {
		return nil, nil
	}

	chatCfg := provider.OpenAIConfig{
		APIKey:     endpoint.APIKey(),
		BaseURL:    endpoint.BaseURL(),
		ChatModel:  endpoint.Model(),
		Timeout:    endpoint.Timeout(),
		MaxRetries: endpoint.MaxRetries(),
	}
	if cacheDir := cfg.HTTPCacheDir(); cacheDir != "" {
		chatCfg.HTTPClient = &http.Client{
			Timeout:   endpoint.Timeout(),
			Transport: provider.NewCachingTransport(cacheDir, nil),
		}
	}
	p := provider.NewOpenAIProviderFromConfig(chatCfg)

	return []tribridrag.Option{tribridrag.WithChatModel(p)}, nil
}

// isSQLite checks if the database URL is for SQLite.
func isSQLite(url string) bool {
	return strings.HasPrefix(url, "sqlite:")
}
