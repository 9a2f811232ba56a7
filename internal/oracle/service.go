// Package oracle supplies USD prices for asset symbols. A streaming
// connection keeps a local quote table warm; a REST endpoint serves cold
// lookups. The service is injected into the core with an explicit
// Start/Stop lifecycle owned by the process bootstrap.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/rebalancerbot/internal/domain"
)

// Config holds oracle endpoints and freshness policy.
type Config struct {
	StreamURL      string
	HTTPURL        string
	RequestsPerSec float64
	// StaleAfter is how old a cached quote may be before a cold lookup is
	// forced.
	StaleAfter time.Duration
	// MinConfidence rejects quotes whose confidence interval (as a fraction
	// of price) exceeds the limit. Zero disables the check.
	MinConfidence float64
}

// Service implements domain.PriceOracle. Quotes arrive over the stream and
// land in the local table and the shared price cache; GetPrice falls back to
// the REST endpoint when the table is cold or stale.
type Service struct {
	cfg    Config
	http   *httpClient
	cache  domain.PriceCache
	logger *slog.Logger

	limiter *rate.Limiter

	mu     sync.RWMutex
	feeds  map[string]string // symbol -> feed ID
	latest map[string]domain.PriceQuote

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates an oracle Service. cache may be nil, in which case
// quotes are only held in process memory.
func NewService(cfg Config, cache domain.PriceCache, logger *slog.Logger) *Service {
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 5
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 60 * time.Second
	}
	return &Service{
		cfg:     cfg,
		http:    newHTTPClient(cfg.HTTPURL),
		cache:   cache,
		logger:  logger.With(slog.String("component", "oracle")),
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)),
		feeds:   make(map[string]string),
		latest:  make(map[string]domain.PriceQuote),
	}
}

// RegisterFeeds maps asset symbols to oracle feed identifiers. Called at
// bootstrap from the asset catalog and again whenever assets change.
func (s *Service) RegisterFeeds(feeds map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for symbol, feedID := range feeds {
		s.feeds[symbol] = feedID
	}
}

// Start opens the streaming connection and begins updating the quote table.
// It returns immediately; the stream runs until Stop. Safe to call with an
// empty StreamURL, in which case only REST lookups are available.
func (s *Service) Start(ctx context.Context) error {
	if s.cfg.StreamURL == "" {
		s.logger.Info("no stream endpoint configured, REST lookups only")
		return nil
	}
	if s.cancel != nil {
		return fmt.Errorf("oracle: already started")
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.runStream(streamCtx)
	return nil
}

// Stop closes the streaming connection and waits for the read loop to exit.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}

// GetPrice returns the freshest quote for a symbol. Order of preference:
// stream table, shared cache, REST endpoint. It returns
// domain.ErrPriceUnavailable when no source has a usable quote.
func (s *Service) GetPrice(ctx context.Context, symbol string) (domain.PriceQuote, error) {
	if q, ok := s.fresh(symbol); ok {
		return q, nil
	}

	if s.cache != nil {
		price, ts, err := s.cache.GetPrice(ctx, symbol)
		if err == nil && time.Since(ts) < s.cfg.StaleAfter {
			return domain.PriceQuote{Price: price, Timestamp: ts}, nil
		}
	}

	q, err := s.fetch(ctx, symbol)
	if err != nil {
		return domain.PriceQuote{}, err
	}
	s.store(ctx, symbol, q)
	return q, nil
}

// fresh returns the stream-table quote when it exists, is recent enough, and
// passes the confidence filter.
func (s *Service) fresh(symbol string) (domain.PriceQuote, bool) {
	s.mu.RLock()
	q, ok := s.latest[symbol]
	s.mu.RUnlock()
	if !ok {
		return domain.PriceQuote{}, false
	}
	if time.Since(q.Timestamp) >= s.cfg.StaleAfter {
		return domain.PriceQuote{}, false
	}
	if !s.acceptable(q) {
		return domain.PriceQuote{}, false
	}
	return q, true
}

// acceptable applies the confidence filter.
func (s *Service) acceptable(q domain.PriceQuote) bool {
	if q.Price <= 0 {
		return false
	}
	if s.cfg.MinConfidence <= 0 || q.Confidence == 0 {
		return true
	}
	return q.Confidence/q.Price <= s.cfg.MinConfidence
}

// fetch performs a rate-limited REST lookup.
func (s *Service) fetch(ctx context.Context, symbol string) (domain.PriceQuote, error) {
	s.mu.RLock()
	feedID, ok := s.feeds[symbol]
	s.mu.RUnlock()
	if !ok {
		return domain.PriceQuote{}, fmt.Errorf("oracle: no feed for %s: %w", symbol, domain.ErrPriceUnavailable)
	}
	if s.cfg.HTTPURL == "" {
		return domain.PriceQuote{}, fmt.Errorf("oracle: %s: %w", symbol, domain.ErrPriceUnavailable)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return domain.PriceQuote{}, err
	}

	q, err := s.http.latestPrice(ctx, feedID)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("oracle: fetch %s: %w", symbol, err)
	}
	if !s.acceptable(q) {
		return domain.PriceQuote{}, fmt.Errorf("oracle: %s quote rejected: %w", symbol, domain.ErrPriceUnavailable)
	}
	return q, nil
}

// store records a quote in the stream table and the shared cache.
func (s *Service) store(ctx context.Context, symbol string, q domain.PriceQuote) {
	s.mu.Lock()
	s.latest[symbol] = q
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.SetPrice(ctx, symbol, q.Price, q.Timestamp); err != nil {
			s.logger.Warn("price cache write failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

// symbolForFeed reverse-maps a feed ID to its symbol.
func (s *Service) symbolForFeed(feedID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for sym, id := range s.feeds {
		if id == feedID {
			return sym, true
		}
	}
	return "", false
}

// feedIDs returns the currently registered feed identifiers.
func (s *Service) feedIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.feeds))
	for _, id := range s.feeds {
		ids = append(ids, id)
	}
	return ids
}

// Compile-time interface check.
var _ domain.PriceOracle = (*Service)(nil)
