package mgmt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/dataferry/ferry/pkg/log"
	"github.com/dataferry/ferry/pkg/metrics"
	"github.com/dataferry/ferry/pkg/types"
)

// ConfigFetchError wraps any failure of the guarded fetch path
type ConfigFetchError struct {
	Err error
}

func (e *ConfigFetchError) Error() string {
	return fmt.Sprintf("failed to fetch configuration: %v", e.Err)
}

func (e *ConfigFetchError) Unwrap() error { return e.Err }

// Resilience tunes the retry and circuit-breaker guard around fetches
type Resilience struct {
	RetryMaxAttempts uint
	RetryInitialWait time.Duration

	BreakerWindow           time.Duration
	BreakerMinimumCalls     uint32
	BreakerFailureThreshold float64
	BreakerOpenWait         time.Duration
	BreakerHalfOpenCalls    uint32
}

// DefaultResilience matches the documented defaults: 3 attempts starting
// at 1 s, breaker opening at 50 % failures over a 10-call window, 30 s in
// open state.
func DefaultResilience() Resilience {
	return Resilience{
		RetryMaxAttempts:        3,
		RetryInitialWait:        time.Second,
		BreakerWindow:           time.Minute,
		BreakerMinimumCalls:     10,
		BreakerFailureThreshold: 0.5,
		BreakerOpenWait:         30 * time.Second,
		BreakerHalfOpenCalls:    1,
	}
}

// Service is a typed read-through cache over one management-plane
// endpoint. A cache hit never contacts the management plane; a miss
// triggers exactly one guarded upstream fetch per key.
type Service[T any] struct {
	name      string
	keyPrefix string
	clientID  string
	fetch     func(ctx context.Context) (*T, error)
	breaker   *gobreaker.CircuitBreaker
	res       Resilience

	mu     sync.RWMutex
	cache  map[string]*T
	flight singleflight.Group
}

func newService[T any](name, keyPrefix, clientID string, res Resilience, fetch func(ctx context.Context) (*T, error)) *Service[T] {
	s := &Service[T]{
		name:      name,
		keyPrefix: keyPrefix,
		clientID:  clientID,
		fetch:     fetch,
		res:       res,
		cache:     make(map[string]*T),
	}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: res.BreakerHalfOpenCalls,
		Interval:    res.BreakerWindow,
		Timeout:     res.BreakerOpenWait,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < res.BreakerMinimumCalls {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= res.BreakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger := log.WithComponent("mgmt")
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
			metrics.BreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})

	return s
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

// cacheKey returns keyPrefix + (clientID or "default")
func (s *Service[T]) cacheKey() string {
	id := s.clientID
	if id == "" {
		id = types.DefaultManagementNodeID
	}
	return s.keyPrefix + id
}

// GetConfiguration returns the cached document when present, otherwise
// fetches it under the retry + circuit-breaker guard and caches the
// result.
func (s *Service[T]) GetConfiguration(ctx context.Context) (*T, error) {
	key := s.cacheKey()

	s.mu.RLock()
	if cfg, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return cfg, nil
	}
	s.mu.RUnlock()

	val, err, _ := s.flight.Do(key, func() (interface{}, error) {
		s.mu.RLock()
		if cfg, ok := s.cache[key]; ok {
			s.mu.RUnlock()
			return cfg, nil
		}
		s.mu.RUnlock()

		cfg, err := s.guardedFetch(ctx)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.cache[key] = cfg
		s.mu.Unlock()
		return cfg, nil
	})
	if err != nil {
		return nil, err
	}
	return val.(*T), nil
}

// GetCachedConfiguration returns the cached document or nil, without
// ever contacting the management plane.
func (s *Service[T]) GetCachedConfiguration() *T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache[s.cacheKey()]
}

// RefreshConfigurations refetches the document and replaces the cached
// value. Readers observe either the old document or the new one, never a
// partial state.
func (s *Service[T]) RefreshConfigurations(ctx context.Context) error {
	cfg, err := s.guardedFetch(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cache[s.cacheKey()] = cfg
	s.mu.Unlock()
	return nil
}

// ClearCache drops all cached documents
func (s *Service[T]) ClearCache() {
	s.mu.Lock()
	s.cache = make(map[string]*T)
	s.mu.Unlock()
}

// guardedFetch runs the fetcher under the breaker, retrying each pass up
// to the configured attempts with exponential backoff. While the breaker
// is open the fetcher is never invoked.
func (s *Service[T]) guardedFetch(ctx context.Context) (*T, error) {
	val, err := s.breaker.Execute(func() (interface{}, error) {
		var cfg *T
		rerr := retry.Do(
			func() error {
				c, err := s.fetch(ctx)
				if err != nil {
					return err
				}
				cfg = c
				return nil
			},
			retry.Attempts(s.res.RetryMaxAttempts),
			retry.Delay(s.res.RetryInitialWait),
			retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
			retry.MaxJitter(s.res.RetryInitialWait/2),
			retry.LastErrorOnly(true),
			retry.Context(ctx),
		)
		if rerr != nil {
			return nil, rerr
		}
		return cfg, nil
	})
	if err != nil {
		return nil, &ConfigFetchError{Err: err}
	}
	return val.(*T), nil
}

// ConsumerConfigService caches the consumer projection
type ConsumerConfigService = Service[types.ConsumerConfig]

// ProducerConfigService caches the producer projection
type ProducerConfigService = Service[types.ProducerConfig]

// NewConsumerConfigService builds the consumer-side service over a node
// data handler
func NewConsumerConfigService(h *NodeDataHandler, clientID string, res Resilience) *ConsumerConfigService {
	return newService("consumer-config", "consumer_configuration_", clientID, res, h.FetchConsumerConfiguration)
}

// NewProducerConfigService builds the producer-side service over a node
// data handler
func NewProducerConfigService(h *NodeDataHandler, clientID string, res Resilience) *ProducerConfigService {
	return newService("producer-config", "producer_configuration_", clientID, res, h.FetchProducerConfiguration)
}
