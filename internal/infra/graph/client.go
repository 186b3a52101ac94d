// Package graph reads event records from a GraphQL indexer and listens for
// new-data announcements over its websocket endpoint.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/vietddude/facilitator/internal/core/domain"
	"github.com/vietddude/facilitator/internal/indexing/metrics"
	"github.com/vietddude/facilitator/internal/indexing/pipeline"
)

// Config configures a Client for one chain side.
type Config struct {
	Side              domain.ChainSide
	URL               string
	FallbackURLs      []string // tried in turn when URL fails
	SubscriptionURL   string   // empty disables subscriptions
	RequestsPerSecond float64
	Timeout           time.Duration
	Fields            map[domain.EntityType][]string // overrides DefaultFields
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// Client implements pipeline.Source against a GraphQL indexer.
type Client struct {
	cfg       Config
	http      *http.Client
	endpoints *endpoints
	limiter   *rate.Limiter
	logger    *slog.Logger
}

var _ pipeline.Source = (*Client)(nil)

// NewClient creates a new indexer client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:       cfg,
		http:      httpClient,
		endpoints: newEndpoints(cfg.URL, cfg.FallbackURLs),
		limiter:   rate.NewLimiter(limit, 1),
		logger:    logger.With("component", "graph", "side", string(cfg.Side)),
	}
}

type graphRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Fetch returns records of one stream newer than req.Since, oldest first.
func (c *Client) Fetch(ctx context.Context, req pipeline.FetchRequest) (records []domain.EventRecord, err error) {
	start := time.Now()
	side := string(c.cfg.Side)
	defer func() {
		result := "success"
		if err != nil {
			result = "error"
		}
		metrics.SourceQueriesTotal.WithLabelValues(side, result).Inc()
		metrics.SourceLatency.WithLabelValues(side).Observe(time.Since(start).Seconds())
	}()

	query, err := c.query(req.EntityType)
	if err != nil {
		return nil, err
	}
	body, err := c.post(ctx, graphRequest{
		Query: query,
		Variables: map[string]any{
			"contract": strings.ToLower(req.Contract.Hex()),
			"since":    fmt.Sprintf("%d", req.Since),
			"skip":     req.Skip,
			"first":    req.Limit,
		},
	})
	if err != nil {
		return nil, err
	}
	return parseRecords(body)
}

func (c *Client) query(entity domain.EntityType) (string, error) {
	fields, ok := c.cfg.Fields[entity]
	if !ok {
		fields, ok = DefaultFields[entity]
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	selection := strings.Join(append(append([]string{}, commonFields...), fields...), " ")
	return fmt.Sprintf(
		`query Fetch($contract: Bytes!, $since: BigInt!, $skip: Int!, $first: Int!) { `+
			`records: %s(skip: $skip, first: $first, orderBy: uts, orderDirection: asc, `+
			`where: {contractAddress: $contract, uts_gt: $since}) { %s } }`,
		entity, selection,
	), nil
}

// post sends q to the current endpoint, failing over through the rest.
func (c *Client) post(ctx context.Context, q graphRequest) ([]byte, error) {
	if c.endpoints.len() == 0 {
		return nil, ErrNoEndpoint
	}
	data, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	var lastErr error
	for range c.endpoints.len() {
		url, index := c.endpoints.current()
		body, err := c.send(ctx, url, data)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !shouldFailover(ctx, err) || c.endpoints.len() == 1 {
			break
		}
		c.endpoints.rotate(index)
		c.logger.Warn("Indexer endpoint failed, switching", "endpoint", url, "error", err)
	}
	return nil, lastErr
}

func (c *Client) send(ctx context.Context, url string, data []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graphql query: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{
			Code:       resp.StatusCode,
			RetryAfter: resp.Header.Get("Retry-After"),
			Body:       string(body),
		}
	}
	return body, nil
}

// parseRecords extracts data.records from a GraphQL answer.
func parseRecords(body []byte) ([]domain.EventRecord, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: response is not json", ErrQuery)
	}
	if errs := gjson.GetBytes(body, "errors"); errs.Exists() && len(errs.Array()) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrQuery, errs.Get("0.message").String())
	}
	rows := gjson.GetBytes(body, "data.records")
	if !rows.IsArray() {
		return nil, fmt.Errorf("%w: missing data.records", ErrQuery)
	}

	var records []domain.EventRecord
	for _, row := range rows.Array() {
		rec := make(domain.EventRecord)
		row.ForEach(func(key, value gjson.Result) bool {
			switch value.Type {
			case gjson.String:
				rec[key.String()] = domain.String(value.Str)
			case gjson.Number:
				rec[key.String()] = domain.Number(value.Raw)
			case gjson.True, gjson.False:
				rec[key.String()] = domain.Bool(value.Bool())
			}
			return true
		})
		records = append(records, rec)
	}
	return records, nil
}
