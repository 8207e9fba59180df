// Package store serves lookups from the currently published snapshot.
//
// Lookups are lock free: each one takes a reference on the current snapshot,
// searches it and releases it. Publishing a new snapshot is a single atomic
// pointer swap, so a lookup always sees one complete generation.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"sync/atomic"
	"time"
)

// ErrInvalidInput is returned for text that is not an IP address.
var ErrInvalidInput = errors.New("invalid input")

// Result is the outcome of one lookup. Only IP and Announced are meaningful
// when Announced is false.
type Result struct {
	IP          string
	Announced   bool
	FirstIP     string
	LastIP      string
	ASNumber    uint32
	CountryCode string
	Description string
}

// Stats summarizes the published snapshot.
type Stats struct {
	RecordCount int
	LastUpdate  *time.Time
	Generation  uint64
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for publish and retire events.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithRetireHook registers fn to run once for each snapshot whose last
// reference is released after it has been replaced.
func WithRetireHook(fn func(Metadata)) Option {
	return func(s *Store) { s.retireHook = fn }
}

// Store holds exactly one current snapshot.
type Store struct {
	current    atomic.Pointer[Snapshot]
	generation atomic.Uint64

	log        *slog.Logger
	retireHook func(Metadata)
	now        func() time.Time
}

// New returns a store serving an empty generation 0 snapshot, so every
// lookup reports announced=false until the first Publish.
func New(opts ...Option) *Store {
	s := &Store{
		log: slog.Default(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	empty := emptySnapshot()
	empty.onRetire = s.retired
	empty.refs.Store(1)
	s.current.Store(empty)
	return s
}

func (s *Store) retired(snap *Snapshot) {
	meta := snap.Metadata()
	s.log.Debug("snapshot retired",
		"generation", meta.Generation,
		"records", meta.RecordCount,
	)
	if s.retireHook != nil {
		s.retireHook(meta)
	}
}

// Acquire returns the current snapshot with a reference held. The caller
// must call Release on it exactly once.
func (s *Store) Acquire() *Snapshot {
	for {
		snap := s.current.Load()
		if !snap.tryAcquire() {
			// Lost a race with Publish; the slot already points elsewhere.
			continue
		}
		if s.current.Load() == snap {
			return snap
		}
		snap.Release()
	}
}

// Current returns the published snapshot without taking a reference. It is
// meant for identity checks and metadata reads, not for lookups.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Publish makes snap the current snapshot and returns the one it replaced.
// The previous snapshot stays valid for lookups that already hold it and is
// retired when they finish. snap must not have been published before.
func (s *Store) Publish(snap *Snapshot) *Snapshot {
	if snap.refs.Load() != 0 || snap.Retired() {
		panic("store: snapshot published twice")
	}

	snap.meta.Generation = s.generation.Add(1)
	if snap.meta.PublishedAt.IsZero() {
		snap.meta.PublishedAt = s.now()
	}
	snap.onRetire = s.retired
	snap.refs.Store(1) // held by the current slot

	prev := s.current.Swap(snap)
	s.log.Info("snapshot published",
		"generation", snap.meta.Generation,
		"records", snap.meta.RecordCount,
		"previous_records", prev.meta.RecordCount,
	)
	prev.Release()
	return prev
}

// ParseIP validates ip text the way Lookup does.
func ParseIP(ip string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %q is not an IP address", ErrInvalidInput, ip)
	}
	return addr.WithZone(""), nil
}

// Lookup resolves ip against the current snapshot. Malformed input fails
// with ErrInvalidInput before any snapshot is touched. An address outside
// every known range is not an error.
func (s *Store) Lookup(ip string) (Result, error) {
	addr, err := ParseIP(ip)
	if err != nil {
		return Result{}, err
	}

	snap := s.Acquire()
	defer snap.Release()
	return snap.Lookup(strings.TrimSpace(ip), addr), nil
}

// Stats reports the record count and publish time of the current snapshot.
func (s *Store) Stats() Stats {
	snap := s.Acquire()
	defer snap.Release()

	meta := snap.Metadata()
	st := Stats{
		RecordCount: meta.RecordCount,
		Generation:  meta.Generation,
	}
	if meta.Generation > 0 {
		t := meta.PublishedAt
		st.LastUpdate = &t
	}
	return st
}
