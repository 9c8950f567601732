// Package mgmt talks to the management plane: it fetches producer and
// consumer configuration documents over HTTPS and caches them behind a
// retry + circuit-breaker guard.
package mgmt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dataferry/ferry/pkg/errdefs"
	"github.com/dataferry/ferry/pkg/log"
	"github.com/dataferry/ferry/pkg/metrics"
	"github.com/dataferry/ferry/pkg/token"
	"github.com/dataferry/ferry/pkg/types"
)

// HandlerConfig holds the management-plane endpoints and timeouts
type HandlerConfig struct {
	BaseURL string

	// ClientID narrows the producer/consumer endpoints to one tenant
	// when set; otherwise the plain collection endpoints are used.
	ClientID string

	// ManagementNodeID selects the identity used for bearer tokens
	ManagementNodeID string

	RequestTimeout      time.Duration
	ConnectivityTimeout time.Duration

	// ProducerPath and ConsumerPath default to /producer and /consumer
	ProducerPath string
	ConsumerPath string
}

// NodeDataHandler issues the HTTP requests against one management node
type NodeDataHandler struct {
	cfg    HandlerConfig
	http   *http.Client
	tokens token.Service
}

// NewNodeDataHandler creates a handler for the configured node
func NewNodeDataHandler(cfg HandlerConfig, tokens token.Service) *NodeDataHandler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.ConnectivityTimeout <= 0 {
		cfg.ConnectivityTimeout = 5 * time.Second
	}
	if cfg.ProducerPath == "" {
		cfg.ProducerPath = "/producer"
	}
	if cfg.ConsumerPath == "" {
		cfg.ConsumerPath = "/consumer"
	}
	return &NodeDataHandler{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		tokens: tokens,
	}
}

// FetchProducerConfiguration fetches the producer projection
func (h *NodeDataHandler) FetchProducerConfiguration(ctx context.Context) (*types.ProducerConfig, error) {
	var cfg types.ProducerConfig
	if err := h.get(ctx, h.endpoint(h.cfg.ProducerPath), &cfg); err != nil {
		metrics.ConfigFetchesTotal.WithLabelValues("producer", "error").Inc()
		return nil, err
	}
	metrics.ConfigFetchesTotal.WithLabelValues("producer", "ok").Inc()
	return &cfg, nil
}

// FetchConsumerConfiguration fetches the consumer projection
func (h *NodeDataHandler) FetchConsumerConfiguration(ctx context.Context) (*types.ConsumerConfig, error) {
	var cfg types.ConsumerConfig
	if err := h.get(ctx, h.endpoint(h.cfg.ConsumerPath), &cfg); err != nil {
		metrics.ConfigFetchesTotal.WithLabelValues("consumer", "error").Inc()
		return nil, err
	}
	metrics.ConfigFetchesTotal.WithLabelValues("consumer", "ok").Inc()
	return &cfg, nil
}

// Connectivity probes the base URL with a HEAD request under the
// connectivity timeout. The result is informational only.
func (h *NodeDataHandler) Connectivity(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.ConnectivityTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.cfg.BaseURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build probe request: %w", err)
	}
	resp, err := h.http.Do(req)
	if err != nil {
		return fmt.Errorf("management node unreachable: %w", err)
	}
	resp.Body.Close()
	return nil
}

func (h *NodeDataHandler) endpoint(path string) string {
	if h.cfg.ClientID != "" {
		return h.cfg.BaseURL + path + "/" + h.cfg.ClientID
	}
	return h.cfg.BaseURL + path
}

// get issues an authenticated GET and decodes the JSON body into out.
// A 401 invalidates the cached token and retries once with a fresh one.
func (h *NodeDataHandler) get(ctx context.Context, url string, out interface{}) error {
	retriedAuth := false
	for {
		bearer, err := h.tokens.FetchToken(ctx, h.cfg.ManagementNodeID)
		if err != nil {
			return err
		}

		status, err := h.doGet(ctx, url, bearer, out)
		if err == nil {
			return nil
		}

		if status == http.StatusUnauthorized && !retriedAuth {
			retriedAuth = true
			logger := log.WithComponent("mgmt")
			logger.Warn().Str("url", url).
				Msg("management node rejected token, refreshing and retrying")
			if ierr := h.tokens.Invalidate(ctx, h.cfg.ManagementNodeID); ierr != nil {
				log.Errorf("failed to invalidate token", ierr)
			}
			continue
		}
		return err
	}
}

// doGet returns the HTTP status alongside the mapped error so the caller
// can special-case 401.
func (h *NodeDataHandler) doGet(ctx context.Context, url, bearer string, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")

	resp, err := h.http.Do(req)
	if err != nil {
		// Timeouts and transport failures are worth retrying
		return 0, errdefs.Retryable(fmt.Errorf("management node request failed: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, errdefs.Retryable(fmt.Errorf("failed to decode response: %w", err))
		}
		return resp.StatusCode, nil

	case resp.StatusCode == http.StatusUnauthorized:
		return resp.StatusCode, errdefs.Auth("management node returned 401", nil)

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, errdefs.Fatal(fmt.Errorf("management node returned %d: %s", resp.StatusCode, body))

	default:
		return resp.StatusCode, errdefs.Retryable(fmt.Errorf("management node returned %d", resp.StatusCode))
	}
}
