package valuation

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RateRecord is one cached exchange rate versus the reporting currency.
// Records are append-only: once fetched for a (date, currency) key they are
// never overwritten.
type RateRecord struct {
	Date       Date
	Currency   string
	Rate       decimal.Decimal // units of Currency per one reporting unit
	FetchedAt  time.Time
	Source     string
	Provenance string // e.g. the symbol batch requested together
}

// Key returns the cache key of the record.
func (r RateRecord) Key() string { return r.Date.String() + "/" + r.Currency }

// RateProvider is the network boundary to an external exchange-rate
// service. Fetch returns the currency→rate map for one historical date.
type RateProvider interface {
	Fetch(ctx context.Context, day Date, base string, symbols []string) (map[string]decimal.Decimal, error)
	Name() string
}

// RateStore is the persistent side of the rate cache.
type RateStore interface {
	SaveRates(records []RateRecord) error
	LoadRate(day Date, currency string) (*RateRecord, error)
}

// RateResolver resolves and caches exchange rates per (date, currency).
// It is the only network-bound component of the valuation core: fetches are
// retried with exponential backoff and degrade to a missing-coverage signal,
// never to a hard error.
type RateResolver struct {
	base     string // reporting currency
	provider RateProvider
	store    RateStore
	log      *zap.Logger

	attempts     int
	initialDelay time.Duration
	timeout      time.Duration

	mu    sync.Mutex
	cache map[string]RateRecord
	locks map[string]*sync.Mutex // single writer per date
}

// NewRateResolver creates a resolver for the given reporting currency.
func NewRateResolver(log *zap.Logger, base string, provider RateProvider, store RateStore, cfg FXConfig) *RateResolver {
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := cfg.InitialDelay
	if delay <= 0 {
		delay = time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RateResolver{
		base:         NormalizeCurrency(base),
		provider:     provider,
		store:        store,
		log:          log,
		attempts:     attempts,
		initialDelay: delay,
		timeout:      timeout,
		cache:        make(map[string]RateRecord),
		locks:        make(map[string]*sync.Mutex),
	}
}

// EnsureRates makes sure every (date, currency) pair is cached, fetching the
// missing ones. The returned map holds the resolved rates per date; a date
// whose fetch failed after all retries maps to an empty map. That is a soft
// failure: callers must treat missing rates as a coverage gap.
func (r *RateResolver) EnsureRates(ctx context.Context, dates []Date, currencies []string) map[string]map[string]decimal.Decimal {
	result := make(map[string]map[string]decimal.Decimal, len(dates))
	for _, day := range dates {
		result[day.String()] = r.ensureDay(ctx, day, currencies)
	}
	return result
}

// ensureDay resolves all currencies for one date, fetching only the missing
// ones. The per-date lock serializes writers for that date's keys so
// concurrent callers never trigger duplicate network calls.
func (r *RateResolver) ensureDay(ctx context.Context, day Date, currencies []string) map[string]decimal.Decimal {
	lock := r.dayLock(day)
	lock.Lock()
	defer lock.Unlock()

	resolved := make(map[string]decimal.Decimal)
	var missing []string
	for _, cur := range currencies {
		cur = NormalizeCurrency(cur)
		if cur == "" || cur == r.base {
			continue
		}
		if rec, ok := r.lookup(day, cur); ok {
			resolved[cur] = rec.Rate
			continue
		}
		missing = append(missing, cur)
	}
	if len(missing) == 0 {
		return resolved
	}
	sort.Strings(missing)

	fetched := r.fetchWithRetry(ctx, day, missing)
	if len(fetched) == 0 {
		// Soft failure by contract: an empty map, not an error.
		return resolved
	}

	now := time.Now().UTC()
	provenance := strings.Join(missing, ",")
	var records []RateRecord
	for cur, rate := range fetched {
		rec := RateRecord{
			Date:       day,
			Currency:   NormalizeCurrency(cur),
			Rate:       rate,
			FetchedAt:  now,
			Source:     r.provider.Name(),
			Provenance: provenance,
		}
		records = append(records, rec)
		resolved[rec.Currency] = rate
	}
	if err := r.store.SaveRates(records); err != nil {
		r.log.Warn("failed to persist fetched rates",
			zap.String("date", day.String()),
			zap.Error(err))
	}
	r.mu.Lock()
	for _, rec := range records {
		r.cache[rec.Key()] = rec
	}
	r.mu.Unlock()
	return resolved
}

// fetchWithRetry calls the provider with bounded retries and exponential
// backoff. All provider errors are swallowed into an empty result.
func (r *RateResolver) fetchWithRetry(ctx context.Context, day Date, symbols []string) map[string]decimal.Decimal {
	delay := r.initialDelay
	for attempt := 1; attempt <= r.attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		rates, err := r.provider.Fetch(attemptCtx, day, r.base, symbols)
		cancel()
		if err == nil && len(rates) > 0 {
			return rates
		}
		if err != nil {
			r.log.Debug("rate fetch attempt failed",
				zap.String("date", day.String()),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		if attempt == r.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
	}
	r.log.Warn("no exchange rates after exhausting retries",
		zap.String("date", day.String()),
		zap.Strings("symbols", symbols),
		zap.Int("attempts", r.attempts))
	return nil
}

// LoadRate is a cache-only lookup, it never hits the network.
func (r *RateResolver) LoadRate(day Date, currency string) (*RateRecord, bool) {
	rec, ok := r.lookup(day, NormalizeCurrency(currency))
	if !ok {
		return nil, false
	}
	return &rec, true
}

// lookup consults the memory cache and then the store.
func (r *RateResolver) lookup(day Date, currency string) (RateRecord, bool) {
	key := day.String() + "/" + currency
	r.mu.Lock()
	rec, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return rec, true
	}
	stored, err := r.store.LoadRate(day, currency)
	if err != nil {
		r.log.Warn("rate cache read failed", zap.String("key", key), zap.Error(err))
		return RateRecord{}, false
	}
	if stored == nil {
		return RateRecord{}, false
	}
	r.mu.Lock()
	r.cache[stored.Key()] = *stored
	r.mu.Unlock()
	return *stored, true
}

// dayLock returns the writer lock of one date.
func (r *RateResolver) dayLock(day Date) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := day.String()
	lock, ok := r.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	return lock
}

// DiscoverActiveCurrencies scans the ledger for currencies that need FX
// coverage: currencies of positive-quantity holdings and of accounts,
// excluding the reporting currency. The result is sorted and deduplicated.
func (r *RateResolver) DiscoverActiveCurrencies(ledger Ledger) []string {
	seen := make(map[string]bool)
	for _, holding := range ledger.Holdings() {
		if holding.Shares <= 0 {
			continue
		}
		if sec := securityByID(ledger, holding.SecurityID); sec != nil {
			seen[NormalizeCurrency(sec.Currency)] = true
		}
	}
	for _, acc := range ledger.Accounts() {
		seen[NormalizeCurrency(acc.Currency)] = true
	}
	delete(seen, r.base)
	delete(seen, "")

	currencies := make([]string, 0, len(seen))
	for cur := range seen {
		currencies = append(currencies, cur)
	}
	sort.Strings(currencies)
	return currencies
}
