// Package fetcher retrieves the raw ip2asn table from a local file or an
// HTTP(S) URL.
//
// Remote sources are cached on disk next to a small JSON metadata record
// holding the ETag and Last-Modified validators of the cached copy. Later
// fetches send them as a conditional request; a 304 reuses the cached bytes.
// When the network is unavailable the cached copy is served as stale data
// rather than failing.
package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/gzip"

	"github.com/daviddyess/iptoasn/internal/version"
)

var (
	// ErrInvalidSource covers unsupported schemes and unreadable local paths.
	ErrInvalidSource = errors.New("invalid source")
	// ErrNetworkFailure is returned when the source is unreachable and no
	// cached copy exists. With a cached copy it is only a Result.Warning.
	ErrNetworkFailure = errors.New("network failure")
	// ErrDecompressionFailure is returned for corrupt or oversized gzip data.
	ErrDecompressionFailure = errors.New("decompression failure")
	// ErrCacheIO reports an unusable cache directory. Fetches keep working
	// from memory, so it only ever appears as a Result.Warning.
	ErrCacheIO = errors.New("cache io failure")
)

// DefaultTimeout bounds a single HTTP fetch.
const DefaultTimeout = 60 * time.Second

// DefaultMaxSize caps the decompressed table size.
const DefaultMaxSize int64 = 512 << 20

// Config configures a Fetcher.
type Config struct {
	// Source is a file:// URL, an http(s):// URL or a plain local path.
	Source   string
	CacheDir string

	Timeout   time.Duration
	MaxSize   int64
	UserAgent string

	// Client overrides the HTTP client; Timeout is ignored when set.
	Client *http.Client
	Logger *slog.Logger
}

// Result is the outcome of one Fetch.
type Result struct {
	Data         []byte
	ETag         string
	LastModified string
	FetchedAt    time.Time
	Checksum     uint64

	// NotModified is set when the server answered 304 and Data is the
	// cached copy.
	NotModified bool
	// Stale is set when the source was unreachable and Data is the cached
	// copy from FetchedAt.
	Stale bool
	// Warning carries a non-fatal problem: ErrNetworkFailure for stale
	// data, ErrCacheIO when the cache could not be written.
	Warning error
}

// FromCache reports whether Data came from the cache instead of a download.
func (r *Result) FromCache() bool {
	return r.NotModified || r.Stale
}

// Fetcher fetches one source. It is safe for concurrent use, although the
// updater serializes calls.
type Fetcher struct {
	source    string
	localPath string // set for file sources
	cacheDir  string
	dataPath  string
	metaPath  string

	client    *http.Client
	userAgent string
	maxSize   int64
	log       *slog.Logger

	mu       sync.Mutex
	cacheErr error        // non-nil once the cache directory proved unusable
	memory   *memoryEntry // cached copy when the directory is unusable
	now      func() time.Time
}

type memoryEntry struct {
	data []byte
	meta CacheMetadata
}

// New validates the source and prepares the cache directory. An unusable
// cache directory is not an error; the Fetcher falls back to memory.
func New(cfg Config) (*Fetcher, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	f := &Fetcher{
		source:    strings.TrimSpace(cfg.Source),
		cacheDir:  cfg.CacheDir,
		userAgent: cfg.UserAgent,
		maxSize:   cfg.MaxSize,
		client:    cfg.Client,
		log:       log.With("source", cfg.Source),
		now:       time.Now,
	}
	if f.source == "" {
		return nil, fmt.Errorf("%w: empty source", ErrInvalidSource)
	}
	if f.userAgent == "" {
		f.userAgent = version.UserAgent()
	}
	if f.maxSize <= 0 {
		f.maxSize = DefaultMaxSize
	}
	if f.client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		f.client = &http.Client{Timeout: timeout}
	}

	u, err := url.Parse(f.source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return nil, fmt.Errorf("%w: %q has no host", ErrInvalidSource, f.source)
		}
	case "file":
		f.localPath = u.Path
		if u.Host != "" && u.Host != "localhost" {
			// file://relative/path
			f.localPath = u.Host + u.Path
		}
		if f.localPath == "" {
			return nil, fmt.Errorf("%w: %q has no path", ErrInvalidSource, f.source)
		}
		return f, nil
	case "":
		f.localPath = f.source
		return f, nil
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidSource, u.Scheme)
	}

	if f.cacheDir == "" {
		f.cacheDir = "."
	}
	base := CacheBaseName(f.source)
	f.dataPath = filepath.Join(f.cacheDir, base+".tsv")
	f.metaPath = filepath.Join(f.cacheDir, base+".meta.json")

	if err := os.MkdirAll(f.cacheDir, 0o755); err != nil {
		f.disableCache(err)
	}
	return f, nil
}

// CacheBaseName derives the cache file prefix for a source URL, so several
// sources can share one cache directory.
func CacheBaseName(source string) string {
	return fmt.Sprintf("ip2asn-%016x", xxhash.Sum64String(source))
}

// Source returns the configured source.
func (f *Fetcher) Source() string { return f.source }

// Remote reports whether the source is fetched over HTTP.
func (f *Fetcher) Remote() bool { return f.localPath == "" }

// CachePath returns the decompressed cache file path ("" for local sources).
func (f *Fetcher) CachePath() string { return f.dataPath }

// MetadataPath returns the metadata side-record path ("" for local sources).
func (f *Fetcher) MetadataPath() string { return f.metaPath }

// Fetch retrieves the table. Local sources are read directly; remote
// sources go through the conditional cache described in the package doc.
func (f *Fetcher) Fetch(ctx context.Context) (*Result, error) {
	if !f.Remote() {
		return f.fetchLocal()
	}
	return f.fetchRemote(ctx)
}

func (f *Fetcher) fetchLocal() (*Result, error) {
	raw, err := os.ReadFile(f.localPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidSource, f.localPath, err)
	}

	data := raw
	if isGzip(raw) {
		data, err = f.decompress(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
	}

	f.log.Info("read local table", "path", f.localPath, "bytes", len(data))
	return &Result{
		Data:      data,
		FetchedAt: f.now(),
		Checksum:  xxhash.Sum64(data),
	}, nil
}

func (f *Fetcher) decompress(r io.Reader) ([]byte, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressionFailure, err)
	}
	defer zr.Close()

	data, err := io.ReadAll(io.LimitReader(zr, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressionFailure, err)
	}
	if int64(len(data)) > f.maxSize {
		return nil, fmt.Errorf("%w: table exceeds %d bytes", ErrDecompressionFailure, f.maxSize)
	}
	return data, nil
}

func (f *Fetcher) fetchRemote(ctx context.Context) (*Result, error) {
	meta, haveCache := f.cachedMetadata()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.source, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	if haveCache {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	f.log.Info("fetching table", "conditional", haveCache)
	resp, err := f.client.Do(req)
	if err != nil {
		return f.fallback(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified && haveCache:
		data, err := f.readCache()
		if err != nil {
			return f.fallback(err)
		}
		f.log.Info("table unchanged", "etag", meta.ETag)
		return &Result{
			Data:         data,
			ETag:         meta.ETag,
			LastModified: meta.LastModified,
			FetchedAt:    meta.DownloadTimestamp,
			Checksum:     xxhash.Sum64(data),
			NotModified:  true,
		}, nil
	case resp.StatusCode != http.StatusOK:
		return f.fallback(fmt.Errorf("unexpected status %s", resp.Status))
	}

	return f.download(resp)
}

// download streams a 200 response into memory and, when possible, into a
// temp file that is renamed over the cache once complete.
func (f *Fetcher) download(resp *http.Response) (*Result, error) {
	body := &trackingReader{r: resp.Body}
	br := bufio.NewReader(body)

	var src io.Reader = br
	gzipped := false
	if magic, _ := br.Peek(2); isGzip(magic) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			if body.err != nil {
				return f.fallback(body.err)
			}
			return nil, fmt.Errorf("%w: %v", ErrDecompressionFailure, err)
		}
		defer zr.Close()
		src = zr
		gzipped = true
	}

	var buf bytes.Buffer
	if resp.ContentLength > 0 && !gzipped && resp.ContentLength <= f.maxSize {
		buf.Grow(int(resp.ContentLength))
	}
	digest := xxhash.New()
	tmp := f.openTemp()

	w := io.MultiWriter(&buf, digest, tmp)
	n, err := io.Copy(w, io.LimitReader(src, f.maxSize+1))
	if err != nil {
		tmp.discard()
		if body.err != nil {
			return f.fallback(body.err)
		}
		if gzipped {
			return nil, fmt.Errorf("%w: %v", ErrDecompressionFailure, err)
		}
		return f.fallback(err)
	}
	if n > f.maxSize {
		tmp.discard()
		return nil, fmt.Errorf("%w: table exceeds %d bytes", ErrDecompressionFailure, f.maxSize)
	}

	meta := CacheMetadata{
		ETag:              resp.Header.Get("ETag"),
		LastModified:      resp.Header.Get("Last-Modified"),
		DownloadTimestamp: f.now().UTC(),
		LocalFilePath:     f.dataPath,
		SourceURL:         f.source,
		Checksum:          digest.Sum64(),
	}
	data := buf.Bytes()

	res := &Result{
		Data:         data,
		ETag:         meta.ETag,
		LastModified: meta.LastModified,
		FetchedAt:    meta.DownloadTimestamp,
		Checksum:     meta.Checksum,
	}

	if err := f.commit(tmp, meta); err != nil {
		f.disableCache(err)
		f.remember(data, meta)
		res.Warning = fmt.Errorf("%w: %v", ErrCacheIO, err)
	}

	f.log.Info("table downloaded",
		"bytes", len(data),
		"gzip", gzipped,
		"etag", meta.ETag,
		"last_modified", meta.LastModified,
	)
	return res, nil
}

// fallback serves the cached copy after a network problem.
func (f *Fetcher) fallback(cause error) (*Result, error) {
	meta, ok := f.cachedMetadata()
	if !ok {
		f.log.Error("fetch failed and no cached copy exists", "error", cause)
		return nil, fmt.Errorf("%w: %v", ErrNetworkFailure, cause)
	}
	data, err := f.readCache()
	if err != nil {
		f.log.Error("fetch failed and cached copy is unreadable", "error", cause, "cache_error", err)
		return nil, fmt.Errorf("%w: %v", ErrNetworkFailure, cause)
	}

	warning := fmt.Errorf("%w: %v (serving cached copy from %s)",
		ErrNetworkFailure, cause, meta.DownloadTimestamp.Format(time.RFC3339))
	f.log.Warn("fetch failed, serving stale cache", "error", cause, "cached_at", meta.DownloadTimestamp)

	return &Result{
		Data:         data,
		ETag:         meta.ETag,
		LastModified: meta.LastModified,
		FetchedAt:    meta.DownloadTimestamp,
		Checksum:     xxhash.Sum64(data),
		Stale:        true,
		Warning:      warning,
	}, nil
}

func (f *Fetcher) disableCache(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cacheErr == nil {
		f.log.Warn("cache directory unusable, keeping table in memory only",
			"dir", f.cacheDir,
			"error", err,
		)
		f.cacheErr = err
	}
}

func (f *Fetcher) cacheError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cacheErr
}

func (f *Fetcher) remember(data []byte, meta CacheMetadata) {
	meta.LocalFilePath = ""
	f.mu.Lock()
	f.memory = &memoryEntry{data: data, meta: meta}
	f.mu.Unlock()
}

// trackingReader records the first non-EOF error from the network body so
// transport failures can be told apart from gzip corruption.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}

func isGzip(b []byte) bool {
	return len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b
}
