package fetcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// CacheMetadata is the JSON side-record stored next to a cached table.
type CacheMetadata struct {
	ETag              string    `json:"etag,omitempty"`
	LastModified      string    `json:"last_modified,omitempty"`
	DownloadTimestamp time.Time `json:"download_timestamp"`
	LocalFilePath     string    `json:"local_file_path,omitempty"`
	SourceURL         string    `json:"source_url,omitempty"`
	Checksum          uint64    `json:"checksum,omitempty"`
}

// cachedMetadata returns the validators of the cached copy. ok is false
// when there is no cached table at all, in which case no conditional
// request may be sent. A cached table with missing or corrupt metadata is
// still usable as a stale fallback but carries no validators.
func (f *Fetcher) cachedMetadata() (meta CacheMetadata, ok bool) {
	f.mu.Lock()
	mem := f.memory
	f.mu.Unlock()
	if mem != nil {
		return mem.meta, true
	}

	info, err := os.Stat(f.dataPath)
	if err != nil || !info.Mode().IsRegular() {
		return CacheMetadata{}, false
	}

	raw, err := os.ReadFile(f.metaPath)
	if err == nil {
		err = json.Unmarshal(raw, &meta)
	}
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			f.log.Warn("ignoring unreadable cache metadata", "path", f.metaPath, "error", err)
		}
		return CacheMetadata{
			DownloadTimestamp: info.ModTime().UTC(),
			LocalFilePath:     f.dataPath,
			SourceURL:         f.source,
		}, true
	}
	if meta.SourceURL != "" && meta.SourceURL != f.source {
		// Hash collision or a hand-copied file; the validators belong to
		// someone else.
		f.log.Warn("cache metadata belongs to another source", "path", f.metaPath, "other", meta.SourceURL)
		meta.ETag, meta.LastModified = "", ""
	}
	return meta, true
}

func (f *Fetcher) readCache() ([]byte, error) {
	f.mu.Lock()
	mem := f.memory
	f.mu.Unlock()
	if mem != nil {
		return mem.data, nil
	}
	return os.ReadFile(f.dataPath)
}

// tempFile receives the download stream. Write errors are recorded rather
// than returned so the in-memory copy keeps streaming when the disk fails.
type tempFile struct {
	file *os.File
	err  error
}

func (f *Fetcher) openTemp() *tempFile {
	if err := f.cacheError(); err != nil {
		return &tempFile{err: err}
	}
	file, err := os.CreateTemp(f.cacheDir, ".ip2asn-*.tmp")
	if err != nil {
		return &tempFile{err: err}
	}
	return &tempFile{file: file}
}

func (t *tempFile) Write(p []byte) (int, error) {
	if t.file != nil && t.err == nil {
		if _, err := t.file.Write(p); err != nil {
			t.err = err
		}
	}
	return len(p), nil
}

func (t *tempFile) discard() {
	if t.file != nil {
		t.file.Close()
		os.Remove(t.file.Name())
		t.file = nil
	}
}

// commit makes the downloaded temp file the cache and then persists meta.
// The rename is atomic, so readers never see a partial table.
func (f *Fetcher) commit(tmp *tempFile, meta CacheMetadata) error {
	if tmp.err != nil {
		tmp.discard()
		return tmp.err
	}
	name := tmp.file.Name()
	if err := tmp.file.Sync(); err != nil {
		tmp.discard()
		return err
	}
	if err := tmp.file.Close(); err != nil {
		os.Remove(name)
		return err
	}
	tmp.file = nil
	if err := os.Rename(name, f.dataPath); err != nil {
		os.Remove(name)
		return err
	}

	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(f.metaPath, raw); err != nil {
		// Stale validators would pair the new table with an old ETag.
		os.Remove(f.metaPath)
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".meta-*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}
