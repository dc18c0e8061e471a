package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tribridrag/tribridrag/domain/chunk"
	"github.com/tribridrag/tribridrag/domain/errkind"
	"github.com/tribridrag/tribridrag/infrastructure/resilience"
)

// Cloud sends (query, documents) to an external /v1/rerank endpoint,
// subject to the configured timeout and the resilience executor's retry
// and breaker policy.
type Cloud struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
	resolver DocumentResolver
	executor *resilience.Executor
	config   Config
}

// NewCloud creates the cloud-mode reranker.
func NewCloud(resolver DocumentResolver, apiKey string, config Config) *Cloud {
	if config.TopN <= 0 {
		config.TopN = DefaultConfig().TopN
	}
	timeout := time.Duration(config.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(DefaultConfig().TimeoutSec) * time.Second
	}
	return &Cloud{
		endpoint: config.CloudEndpoint,
		model:    config.CloudModel,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		resolver: resolver,
		executor: resilience.NewExecutor(resilience.DefaultConfig()),
		config:   config,
	}
}

// rerankRequest matches the /v1/rerank endpoint format.
type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"relevance_score"`
}

type rerankResponse struct {
	Model   string         `json:"model"`
	Results []rerankResult `json:"results"`
}

// Rerank scores the fused matches through the external endpoint.
func (c *Cloud) Rerank(ctx context.Context, query string, matches []chunk.Match) ([]chunk.Match, error) {
	if len(matches) == 0 {
		return matches, nil
	}

	documents, err := c.resolver(ctx, matches)
	if err != nil {
		return nil, errkind.Wrap(errkind.UpstreamFailure, "resolve rerank documents", err)
	}
	if len(documents) != len(matches) {
		return nil, errkind.New(errkind.UpstreamFailure,
			fmt.Sprintf("resolved %d documents for %d matches", len(documents), len(matches)))
	}
	for i := range documents {
		documents[i] = truncateRunes(documents[i], c.config.MaxLength)
	}

	var resp rerankResponse
	err = c.executor.Execute(ctx, "rerank.cloud", func(ctx context.Context) error {
		var callErr error
		resp, callErr = c.call(ctx, query, documents)
		return callErr
	}, resilience.DefaultClassifier)
	if err != nil {
		return nil, err
	}

	// The endpoint returns (index, score) pairs; missing indexes keep a
	// floor score so the output set stays exactly the input set.
	scores := make([]float64, len(matches))
	floor := 0.0
	for _, r := range resp.Results {
		if r.Score < floor {
			floor = r.Score
		}
	}
	for i := range scores {
		scores[i] = floor - 1
	}
	for _, r := range resp.Results {
		if r.Index >= 0 && r.Index < len(scores) {
			scores[r.Index] = r.Score
		}
	}
	return rescoreAndSort(matches, scores, c.config.TopN, resp.Model), nil
}

func (c *Cloud) call(ctx context.Context, query string, documents []string) (rerankResponse, error) {
	body, err := json.Marshal(rerankRequest{
		Model:     c.model,
		Query:     query,
		Documents: documents,
	})
	if err != nil {
		return rerankResponse{}, errkind.Wrap(errkind.UpstreamFailure, "encode rerank request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return rerankResponse{}, errkind.Wrap(errkind.UpstreamFailure, "create rerank request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.client.Do(req)
	if err != nil {
		return rerankResponse{}, errkind.Wrap(errkind.UpstreamTimeout, "rerank endpoint", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return rerankResponse{}, errkind.Wrap(errkind.UpstreamFailure, "read rerank response", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		kind := errkind.UpstreamFailure
		switch httpResp.StatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			kind = errkind.UpstreamTimeout
		}
		return rerankResponse{}, errkind.New(kind,
			fmt.Sprintf("rerank endpoint returned %d: %s", httpResp.StatusCode, truncateRunes(string(raw), 200)))
	}

	var resp rerankResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return rerankResponse{}, errkind.Wrap(errkind.UpstreamFailure, "decode rerank response", err)
	}
	return resp, nil
}
