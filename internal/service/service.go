package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"crypto-price-alerts/internal/alerting"
	"crypto-price-alerts/internal/fetcher"
	"crypto-price-alerts/internal/metrics"
	"crypto-price-alerts/internal/pricecache"
	"crypto-price-alerts/internal/scheduler"
	"crypto-price-alerts/internal/storage"
)

// Service orchestrates one poll cycle: refresh the cache, pre-warm
// favorites, evaluate alert rules, dispatch and retire what fired.
type Service struct {
	cache     *pricecache.Cache
	quotes    fetcher.QuotesFetcher
	rules     storage.AlertRuleStore
	favorites storage.FavoriteStore
	audit     storage.FiredAlertStore
	locker    storage.AdvisoryLocker
	notifier  alerting.Notifier
	recorder  *metrics.Recorder
	logger    zerolog.Logger

	convert string
	lockKey int64
}

// Options wire the service's collaborators. Store-backed fields may be nil
// when persistence is not configured; the corresponding steps are skipped.
type Options struct {
	Cache     *pricecache.Cache
	Quotes    fetcher.QuotesFetcher
	Rules     storage.AlertRuleStore
	Favorites storage.FavoriteStore
	Audit     storage.FiredAlertStore
	Locker    storage.AdvisoryLocker
	Notifier  alerting.Notifier
	Recorder  *metrics.Recorder
	Convert   string
	LockKey   int64
}

// New constructs the polling service.
func New(opts Options, logger zerolog.Logger) *Service {
	return &Service{
		cache:     opts.Cache,
		quotes:    opts.Quotes,
		rules:     opts.Rules,
		favorites: opts.Favorites,
		audit:     opts.Audit,
		locker:    opts.Locker,
		notifier:  opts.Notifier,
		recorder:  opts.Recorder,
		logger:    logger.With().Str("component", "service").Logger(),
		convert:   opts.Convert,
		lockKey:   opts.LockKey,
	}
}

// HandleSignal is the poller's refresh callback.
func (s *Service) HandleSignal(ctx context.Context, sig scheduler.Signal) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("scheduled", sig.ScheduledTime).Msg("skip slot, advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	if s.recorder != nil {
		s.recorder.RecordSlotFired(float64(sig.FiredTime.Unix()))
	}

	return s.runCycle(ctx, sig)
}

func (s *Service) runCycle(ctx context.Context, sig scheduler.Signal) error {
	started := time.Now()

	if err := s.cache.Refresh(ctx); err != nil {
		if s.recorder != nil {
			s.recorder.RecordRefresh("error", time.Since(started).Seconds())
			s.recorder.RecordFetchError("listings")
		}
		// The cache keeps its previous snapshot; the next slot retries.
		return fmt.Errorf("refresh price cache: %w", err)
	}

	s.prewarmFavorites(ctx)

	fired, err := s.evaluateRules(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("alert evaluation failed")
	}

	if s.recorder != nil {
		s.recorder.RecordRefresh("ok", time.Since(started).Seconds())
		s.recorder.RecordCacheSize(s.cache.Len())
		s.recorder.RecordAlertsFired(len(fired))
	}

	s.logger.Info().
		Time("scheduled", sig.ScheduledTime).
		Int("window", sig.WindowIndex).
		Int("assets", s.cache.Len()).
		Int("alerts_fired", len(fired)).
		Dur("since_last", sig.SinceLast).
		Msg("poll cycle complete")
	return nil
}

// prewarmFavorites upserts user-favorited symbols the bulk listing may not
// include, without replacing fresher listing data.
func (s *Service) prewarmFavorites(ctx context.Context) {
	if s.favorites == nil || s.quotes == nil {
		return
	}

	symbols, err := s.favorites.ListFavoriteSymbols(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list favorite symbols")
		return
	}

	missing := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if _, ok, err := s.cache.Get(ctx, sym); err == nil && !ok {
			missing = append(missing, sym)
		}
	}
	if len(missing) == 0 {
		return
	}

	quotes, err := s.quotes.FetchQuotes(ctx, missing, s.convert)
	if err != nil {
		if s.recorder != nil {
			s.recorder.RecordFetchError("quotes")
		}
		s.logger.Error().Err(err).Strs("symbols", missing).Msg("favorite pre-warm fetch failed")
		return
	}

	entries := make([]fetcher.Listing, 0, len(quotes))
	for _, listing := range quotes {
		entries = append(entries, listing)
	}
	s.cache.Upsert(entries, false)
	s.logger.Debug().Int("prewarmed", len(entries)).Msg("favorites pre-warmed into cache")
}

func (s *Service) evaluateRules(ctx context.Context) ([]alerting.Fired, error) {
	if s.rules == nil {
		return nil, nil
	}

	rules, err := s.rules.ListActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	if len(rules) == 0 {
		return nil, nil
	}

	fired, err := alerting.Evaluate(ctx, rules, s.cache)
	if err != nil {
		return nil, fmt.Errorf("evaluate rules: %w", err)
	}

	for _, f := range fired {
		s.dispatch(ctx, f)
	}
	return fired, nil
}

// dispatch notifies the owner and, on success, audits and retires the
// rule. A failed delivery leaves the rule active so the next cycle retries
// it; level-check semantics make that safe.
func (s *Service) dispatch(ctx context.Context, f alerting.Fired) {
	firedAt := time.Now().UTC()

	if s.notifier != nil {
		note := alerting.Notification{
			Fired:   f,
			FiredAt: firedAt,
			ChatID:  fmt.Sprintf("%d", f.Rule.UserID),
		}
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Int64("rule_id", f.Rule.ID).Msg("alert dispatch failed, rule stays active")
			return
		}
	}

	if s.audit != nil {
		rec := storage.FiredAlert{
			RuleID:    f.Rule.ID,
			UserID:    f.Rule.UserID,
			Symbol:    f.Record.Symbol,
			Price:     f.Record.Price,
			Threshold: f.Rule.Threshold,
			Direction: f.Rule.Direction,
			FiredAt:   firedAt,
		}
		if _, err := s.audit.InsertFiredAlert(ctx, rec); err != nil {
			s.logger.Error().Err(err).Int64("rule_id", f.Rule.ID).Msg("failed to audit fired alert")
		}
	}

	if s.rules != nil {
		if err := s.rules.DeactivateRule(ctx, f.Rule.ID); err != nil {
			s.logger.Error().Err(err).Int64("rule_id", f.Rule.ID).Msg("failed to deactivate fired rule")
		}
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
