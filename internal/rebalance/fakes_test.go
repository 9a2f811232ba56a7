package rebalance

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/rebalancerbot/internal/domain"
)

var (
	_ domain.AssetStore        = (*memAssetStore)(nil)
	_ domain.PortfolioStore    = (*memPortfolioStore)(nil)
	_ domain.AllocationStore   = (*memAllocationStore)(nil)
	_ domain.RebalanceJobStore = (*memJobStore)(nil)
	_ domain.PriceOracle       = (*fakeOracle)(nil)
	_ domain.ChainReader       = (*fakeChain)(nil)
	_ domain.SwapVenue         = (*fakeVenue)(nil)
	_ domain.TxConfirmer       = (*fakeConfirmer)(nil)
	_ domain.EventBus          = (*fakeBus)(nil)
	_ Alerter                  = (*fakeAlerter)(nil)
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memAssetStore struct {
	mu     sync.Mutex
	assets map[string]domain.Asset
}

func newMemAssetStore(assets ...domain.Asset) *memAssetStore {
	s := &memAssetStore{assets: make(map[string]domain.Asset)}
	for _, a := range assets {
		s.assets[a.ID] = a
	}
	return s
}

func (s *memAssetStore) Create(_ context.Context, a domain.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[a.ID] = a
	return nil
}

func (s *memAssetStore) GetByID(_ context.Context, id string) (domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[id]
	if !ok {
		return domain.Asset{}, domain.ErrNotFound
	}
	return a, nil
}

func (s *memAssetStore) GetBySymbol(_ context.Context, symbol string) (domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assets {
		if a.Symbol == symbol {
			return a, nil
		}
	}
	return domain.Asset{}, domain.ErrNotFound
}

func (s *memAssetStore) ListActive(_ context.Context) ([]domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Asset
	for _, a := range s.assets {
		if a.IsActive {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memAssetStore) SetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.IsActive = active
	s.assets[id] = a
	return nil
}

type memPortfolioStore struct {
	mu         sync.Mutex
	portfolios map[string]domain.Portfolio
}

func newMemPortfolioStore(portfolios ...domain.Portfolio) *memPortfolioStore {
	s := &memPortfolioStore{portfolios: make(map[string]domain.Portfolio)}
	for _, p := range portfolios {
		s.portfolios[p.ID] = p
	}
	return s
}

func (s *memPortfolioStore) Create(_ context.Context, p domain.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.portfolios[p.ID] = p
	return nil
}

func (s *memPortfolioStore) GetByID(_ context.Context, id string) (domain.Portfolio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.portfolios[id]
	if !ok {
		return domain.Portfolio{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memPortfolioStore) ListActive(_ context.Context, _ domain.ListOpts) ([]domain.Portfolio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Portfolio
	for _, p := range s.portfolios {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memPortfolioStore) Update(_ context.Context, p domain.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.portfolios[p.ID]; !ok {
		return domain.ErrNotFound
	}
	s.portfolios[p.ID] = p
	return nil
}

func (s *memPortfolioStore) UpdateObservation(_ context.Context, id string, totalValueUSD float64, observedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.portfolios[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.TotalValueUSD = totalValueUSD
	p.LastObservedAt = &observedAt
	s.portfolios[id] = p
	return nil
}

func (s *memPortfolioStore) MarkRebalanced(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.portfolios[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.LastRebalanceAt = &at
	s.portfolios[id] = p
	return nil
}

func (s *memPortfolioStore) SetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.portfolios[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.IsActive = active
	s.portfolios[id] = p
	return nil
}

type memAllocationStore struct {
	mu     sync.Mutex
	allocs map[string]domain.Allocation
}

func newMemAllocationStore(allocs ...domain.Allocation) *memAllocationStore {
	s := &memAllocationStore{allocs: make(map[string]domain.Allocation)}
	for _, a := range allocs {
		s.allocs[a.ID] = a
	}
	return s
}

func (s *memAllocationStore) Create(_ context.Context, a domain.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allocs[a.ID] = a
	return nil
}

func (s *memAllocationStore) ListByPortfolio(_ context.Context, portfolioID string) ([]domain.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Allocation
	for _, a := range s.allocs {
		if a.PortfolioID == portfolioID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memAllocationStore) ReplaceTargets(_ context.Context, portfolioID string, allocs []domain.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.allocs {
		if a.PortfolioID == portfolioID {
			delete(s.allocs, id)
		}
	}
	for _, a := range allocs {
		s.allocs[a.ID] = a
	}
	return nil
}

func (s *memAllocationStore) UpdateObservation(_ context.Context, id, balanceRaw string, valueUSD, percentage float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.allocs[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.CurrentBalance = balanceRaw
	a.CurrentValueUSD = valueUSD
	a.CurrentPercentage = percentage
	s.allocs[id] = a
	return nil
}

type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]domain.RebalanceJob
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]domain.RebalanceJob)}
}

func (s *memJobStore) Create(_ context.Context, job domain.RebalanceJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *memJobStore) UpdateStatus(_ context.Context, id string, status domain.JobStatus, errMsg string, txHashes []string, completedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	job.Status = status
	job.Error = errMsg
	job.TxHashes = txHashes
	job.CompletedAt = completedAt
	s.jobs[id] = job
	return nil
}

func (s *memJobStore) GetByID(_ context.Context, id string) (domain.RebalanceJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.RebalanceJob{}, domain.ErrNotFound
	}
	return job, nil
}

func (s *memJobStore) ListByPortfolio(_ context.Context, portfolioID string, _ domain.ListOpts) ([]domain.RebalanceJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RebalanceJob
	for _, job := range s.jobs {
		if job.PortfolioID == portfolioID {
			out = append(out, job)
		}
	}
	return out, nil
}

func (s *memJobStore) single() (domain.RebalanceJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		return job, true
	}
	return domain.RebalanceJob{}, false
}

// fakeOracle serves fixed prices per symbol.
type fakeOracle struct {
	prices map[string]float64
}

func (o *fakeOracle) GetPrice(_ context.Context, symbol string) (domain.PriceQuote, error) {
	price, ok := o.prices[symbol]
	if !ok {
		return domain.PriceQuote{}, domain.ErrPriceUnavailable
	}
	return domain.PriceQuote{Price: price, Timestamp: time.Now()}, nil
}

// fakeChain serves fixed balances per asset address and can fail per address.
type fakeChain struct {
	balances map[string]domain.TokenBalance
	failFor  map[string]error
}

func (c *fakeChain) GetTokenBalance(_ context.Context, _, assetAddress string, _ int) (domain.TokenBalance, error) {
	if err, ok := c.failFor[assetAddress]; ok {
		return domain.TokenBalance{}, err
	}
	b, ok := c.balances[assetAddress]
	if !ok {
		return domain.TokenBalance{Raw: "0"}, nil
	}
	return b, nil
}

// fakeVenue records calls and can be programmed to fail a given swap index.
type fakeVenue struct {
	mu           sync.Mutex
	approved     map[string]bool
	executed     []domain.SwapRequest
	failAtIndex  int // -1 means never fail
	failErr      error
	quoteOutMult float64 // expected out = minOut * mult, default 1
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{approved: make(map[string]bool), failAtIndex: -1, quoteOutMult: 1}
}

func (v *fakeVenue) HasApproval(_ context.Context, _, token string, _ float64) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.approved[token], nil
}

func (v *fakeVenue) Approve(_ context.Context, _, token string, _ float64) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.approved[token] = true
	return "0xapprove-" + token, nil
}

func (v *fakeVenue) QuoteSwap(_ context.Context, req domain.SwapRequest) (domain.SwapQuote, error) {
	return domain.SwapQuote{ExpectedOut: req.MinAmountOut * v.quoteOutMult}, nil
}

func (v *fakeVenue) ExecuteSwap(_ context.Context, req domain.SwapRequest) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	idx := len(v.executed)
	if v.failAtIndex >= 0 && idx == v.failAtIndex {
		return "", v.failErr
	}
	v.executed = append(v.executed, req)
	return fmt.Sprintf("0xswap-%d", idx), nil
}

// fakeConfirmer confirms instantly or fails named hashes.
type fakeConfirmer struct {
	failHashes map[string]error
}

func (c *fakeConfirmer) WaitConfirmed(_ context.Context, txHash string, _, _ time.Duration) error {
	if err, ok := c.failHashes[txHash]; ok {
		return err
	}
	return nil
}

type fakeBus struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, channel)
	b.payloads = append(b.payloads, payload)
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

type fakeAlerter struct {
	mu     sync.Mutex
	events []string
}

func (a *fakeAlerter) Notify(_ context.Context, event, _, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}
