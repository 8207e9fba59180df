package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/daviddyess/iptoasn/internal/fetcher"
	"github.com/daviddyess/iptoasn/internal/history"
	"github.com/daviddyess/iptoasn/internal/parser"
	"github.com/daviddyess/iptoasn/internal/store"
	"github.com/daviddyess/iptoasn/internal/updater"
)

// ForceUpdateTimeout bounds how long an HTTP caller waits on ForceUpdate.
// The check itself keeps running after the wait is abandoned.
var ForceUpdateTimeout = 2 * time.Minute

// HistoryTimeout bounds a single history write from the refresh path.
var HistoryTimeout = 5 * time.Second

// Service is the IP to ASN lookup engine. Each Service owns its own store,
// fetcher and updater; nothing is shared between instances.
type Service struct {
	store   *store.Store
	fetcher *fetcher.Fetcher
	updater *updater.Updater
	history history.Recorder
	log     *slog.Logger
}

// NewService validates opts and builds an unloaded Service. Lookups answer
// announced=false until Load succeeds.
func NewService(opts Options) (*Service, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Source == "" {
		opts.Source = DefaultSourceURL
	}
	if opts.CacheDir == "" {
		opts.CacheDir = DefaultCacheDir
	}

	f, err := fetcher.New(fetcher.Config{
		Source:   opts.Source,
		CacheDir: opts.CacheDir,
		Timeout:  opts.HTTPTimeout,
		MaxSize:  opts.MaxDownloadSize,
		Client:   opts.HTTPClient,
		Logger:   log,
	})
	if err != nil {
		return nil, fmt.Errorf("create fetcher: %w", err)
	}

	s := &Service{
		store: store.New(
			store.WithLogger(log),
			store.WithRetireHook(func(meta store.Metadata) {
				log.Debug("dataset generation released", "generation", meta.Generation)
			}),
		),
		fetcher: f,
		history: opts.History,
		log:     log,
	}
	if s.history == nil {
		s.history = history.NewMemory(history.DefaultCapacity)
	}

	s.updater = updater.New(updater.Config{
		Source: f,
		Store:  s.store,
		Parse: parser.Options{
			Malformed:   opts.Malformed,
			MaxWarnings: opts.MaxWarnings,
			Logger:      log,
		},
		Logger:   log,
		OnReport: s.recordReport,
	})
	return s, nil
}

// Load performs the initial fetch, parse and publish. It fails only when no
// data can be obtained at all; a stale cache is acceptable.
func (s *Service) Load(ctx context.Context) error {
	return s.updater.Load(ctx)
}

// Lookup resolves one IPv4 or IPv6 address. Malformed input returns
// ErrInvalidInput; an address outside every known range is announced=false.
func (s *Service) Lookup(ip string) (AsnResult, error) {
	r, err := s.store.Lookup(ip)
	if err != nil {
		return AsnResult{}, err
	}
	return newAsnResult(r), nil
}

// Stats reports the published record count and publish time.
func (s *Service) Stats() DatabaseStats {
	st := s.store.Stats()
	ds := DatabaseStats{RecordCount: st.RecordCount}
	if st.LastUpdate != nil {
		ts := st.LastUpdate.Unix()
		ds.LastUpdateTimestamp = &ts
	}
	return ds
}

// StartAutoUpdate schedules a refresh check every intervalMinutes. Calling
// it again changes the interval of the running schedule.
func (s *Service) StartAutoUpdate(intervalMinutes int) error {
	return s.startAutoUpdate(time.Duration(intervalMinutes) * time.Minute)
}

func (s *Service) startAutoUpdate(interval time.Duration) error {
	return s.updater.Start(interval)
}

// StopAutoUpdate cancels future scheduled checks. A check in flight still
// completes and publishes.
func (s *Service) StopAutoUpdate() {
	s.updater.Stop()
}

// ForceUpdate runs a refresh check now, or joins the one in flight, and
// reports whether a new dataset was published. On failure the published
// dataset is left untouched and the error is returned.
func (s *Service) ForceUpdate(ctx context.Context) (bool, error) {
	return s.updater.ForceUpdate(ctx)
}

// Status returns the extended monitoring view.
func (s *Service) Status() Status {
	meta := s.store.Current().Metadata()
	return Status{
		DatabaseStats: s.Stats(),
		Generation:    meta.Generation,
		Source:        s.fetcher.Source(),
		ETag:          meta.SourceETag,
		Format:        meta.Format,
		Skipped:       meta.Skipped,
		CacheFile:     s.fetcher.CachePath(),
		Updater:       s.updater.Status(),
	}
}

// History returns up to limit refresh events, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]history.Event, error) {
	events, err := s.history.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return events, nil
}

// Close stops the schedule, waits for an in-flight check until ctx is done
// and closes the history recorder.
func (s *Service) Close(ctx context.Context) error {
	s.updater.Stop()
	err := s.updater.WaitIdle(ctx)
	s.history.Close()
	if err != nil {
		return fmt.Errorf("wait for refresh: %w", err)
	}
	return nil
}
