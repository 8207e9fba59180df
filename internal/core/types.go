package core

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/daviddyess/iptoasn/internal/fetcher"
	"github.com/daviddyess/iptoasn/internal/history"
	"github.com/daviddyess/iptoasn/internal/parser"
	"github.com/daviddyess/iptoasn/internal/store"
	"github.com/daviddyess/iptoasn/internal/updater"
)

// Sentinel errors, re-exported so callers only import core.
var (
	ErrInvalidInput         = store.ErrInvalidInput
	ErrInvalidSource        = fetcher.ErrInvalidSource
	ErrNetworkFailure       = fetcher.ErrNetworkFailure
	ErrDecompressionFailure = fetcher.ErrDecompressionFailure
	ErrCacheIO              = fetcher.ErrCacheIO
	ErrParseFailure         = parser.ErrParseFailure
	ErrInvalidInterval      = updater.ErrInvalidInterval
)

// DefaultSourceURL is the combined IPv4+IPv6 table published by iptoasn.com.
const DefaultSourceURL = "https://iptoasn.com/data/ip2asn-combined.tsv.gz"

// DefaultCacheDir is used when Options.CacheDir is empty.
const DefaultCacheDir = "./cache"

// Options configures a Service. Zero values select the defaults.
type Options struct {
	Source   string // http(s):// or file:// URL, or a local path
	CacheDir string

	HTTPTimeout     time.Duration
	MaxDownloadSize int64
	HTTPClient      *http.Client

	Malformed   parser.MalformedPolicy
	MaxWarnings int

	// History receives one event per refresh check. Defaults to an
	// in-memory ring of history.DefaultCapacity events.
	History history.Recorder

	Logger *slog.Logger
}

// AsnResult is the answer to one lookup. The optional fields are set only
// when Announced is true.
type AsnResult struct {
	IP            string  `json:"ip"`
	Announced     bool    `json:"announced"`
	FirstIP       *string `json:"first_ip,omitempty"`
	LastIP        *string `json:"last_ip,omitempty"`
	ASNumber      *uint32 `json:"as_number,omitempty"`
	ASCountryCode *string `json:"as_country_code,omitempty"`
	ASDescription *string `json:"as_description,omitempty"`
}

// DatabaseStats describes the published dataset.
type DatabaseStats struct {
	RecordCount int `json:"record_count"`
	// LastUpdateTimestamp is the publish time in unix seconds, nil before
	// the first successful load.
	LastUpdateTimestamp *int64 `json:"last_update_timestamp,omitempty"`
}

// Status is the extended monitoring view used by the status page and
// /api/stats?verbose=1.
type Status struct {
	DatabaseStats
	Generation uint64         `json:"generation"`
	Source     string         `json:"source"`
	ETag       string         `json:"etag,omitempty"`
	Format     string         `json:"format,omitempty"`
	Skipped    int            `json:"skipped_rows"`
	CacheFile  string         `json:"cache_file,omitempty"`
	Updater    updater.Status `json:"updater"`
}

func newAsnResult(r store.Result) AsnResult {
	res := AsnResult{IP: r.IP, Announced: r.Announced}
	if !r.Announced {
		return res
	}
	res.FirstIP = &r.FirstIP
	res.LastIP = &r.LastIP
	res.ASNumber = &r.ASNumber
	res.ASCountryCode = &r.CountryCode
	res.ASDescription = &r.Description
	return res
}
