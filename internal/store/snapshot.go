package store

import (
	"iter"
	"net/netip"
	"sort"
	"sync/atomic"
	"time"

	"github.com/daviddyess/iptoasn/internal/parser"
	"lukechampine.com/uint128"
)

// Metadata describes where a snapshot came from.
type Metadata struct {
	SourceETag   string    `json:"source_etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
	RecordCount  int       `json:"record_count"`

	PublishedAt time.Time `json:"published_at"`
	Generation  uint64    `json:"generation"`
	Checksum    uint64    `json:"checksum,omitempty"`
	Skipped     int       `json:"skipped,omitempty"`
	Format      string    `json:"format,omitempty"`
}

// Snapshot is one immutable generation of the lookup dataset.
//
// Records are sorted by First and never change once the snapshot exists.
// A snapshot is reference counted: the store's current slot holds one
// reference and every in-flight lookup holds another. When the count drops
// to zero after the snapshot has been replaced it is retired exactly once.
type Snapshot struct {
	records []parser.Record
	pool    *parser.Pool
	meta    Metadata

	refs     atomic.Int64
	retired  atomic.Bool
	onRetire func(*Snapshot)
}

// NewSnapshot wraps a parsed candidate. The candidate must not be touched
// afterwards. RecordCount is taken from the candidate.
func NewSnapshot(c *parser.Candidate, meta Metadata) *Snapshot {
	pool := c.Pool
	if !pool.Frozen() {
		pool.Freeze()
	}
	meta.RecordCount = len(c.Records)
	meta.Skipped = c.Skipped
	if meta.Format == "" {
		meta.Format = c.Format
	}
	return &Snapshot{
		records: c.Records,
		pool:    pool,
		meta:    meta,
	}
}

func emptySnapshot() *Snapshot {
	pool := parser.NewPool(1)
	pool.Freeze()
	return &Snapshot{pool: pool}
}

// Metadata returns a copy of the snapshot's metadata.
func (s *Snapshot) Metadata() Metadata {
	return s.meta
}

// Len returns the number of records.
func (s *Snapshot) Len() int {
	return len(s.records)
}

// Refs returns the current reference count.
func (s *Snapshot) Refs() int64 {
	return s.refs.Load()
}

// Retired reports whether the last reference has been released.
func (s *Snapshot) Retired() bool {
	return s.retired.Load()
}

// All iterates the records in address order.
func (s *Snapshot) All() iter.Seq[parser.Record] {
	return func(yield func(parser.Record) bool) {
		for _, r := range s.records {
			if !yield(r) {
				return
			}
		}
	}
}

// Text resolves an interned handle from this snapshot's pool.
func (s *Snapshot) Text(h parser.Handle) string {
	return s.pool.Value(h)
}

// tryAcquire takes a reference unless the snapshot is already retiring.
func (s *Snapshot) tryAcquire() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops one reference. The caller must not use s afterwards.
func (s *Snapshot) Release() {
	n := s.refs.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic("store: snapshot released more times than acquired")
	}
	if s.retired.CompareAndSwap(false, true) && s.onRetire != nil {
		s.onRetire(s)
	}
}

// Find returns the record containing k, if any. It binary searches for the
// rightmost record whose First is <= k and then checks its Last bound.
func (s *Snapshot) Find(k uint128.Uint128) (parser.Record, bool) {
	i := sort.Search(len(s.records), func(i int) bool {
		return s.records[i].First.Cmp(k) > 0
	})
	if i == 0 {
		return parser.Record{}, false
	}
	r := s.records[i-1]
	if k.Cmp(r.Last) > 0 {
		return parser.Record{}, false
	}
	return r, true
}

// Lookup resolves addr against this snapshot. ip is echoed into the result.
func (s *Snapshot) Lookup(ip string, addr netip.Addr) Result {
	r, ok := s.Find(parser.Key(addr))
	if !ok || !r.Announced() {
		return Result{IP: ip}
	}
	return Result{
		IP:          ip,
		Announced:   true,
		FirstIP:     parser.AddrFromKey(r.First).String(),
		LastIP:      parser.AddrFromKey(r.Last).String(),
		ASNumber:    r.ASN,
		CountryCode: s.pool.Value(r.Country),
		Description: s.pool.Value(r.Description),
	}
}
