// Package parser turns a raw ip2asn table into a sorted, interned record set
// ready to be published as a snapshot.
//
// Parsing is pure and CPU bound: no file or network IO happens here. The
// dominant cost is the final sort; interning is a single map lookup per field.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"strconv"
	"strings"

	"go4.org/netipx"
	"lukechampine.com/uint128"
)

// ErrParseFailure is returned when the input cannot produce a usable record
// set, or when a malformed row is found under MalformedAbort.
var ErrParseFailure = errors.New("parse failure")

// Formats reported in Candidate.Format.
const (
	FormatTSV  = "tsv"
	FormatMMDB = "mmdb"
)

// DefaultMaxWarnings bounds how many malformed rows are logged one by one.
// The rest are only counted.
const DefaultMaxWarnings = 10

// MalformedPolicy decides what happens to a row that cannot be parsed.
type MalformedPolicy int

const (
	// MalformedSkip drops the row, counts it and keeps going.
	MalformedSkip MalformedPolicy = iota
	// MalformedAbort fails the whole parse on the first bad row.
	MalformedAbort
)

func (p MalformedPolicy) String() string {
	switch p {
	case MalformedSkip:
		return "skip"
	case MalformedAbort:
		return "abort"
	default:
		return fmt.Sprintf("MalformedPolicy(%d)", int(p))
	}
}

// ParseMalformedPolicy reads "skip" or "abort" (case-insensitive).
func ParseMalformedPolicy(s string) (MalformedPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "skip":
		return MalformedSkip, nil
	case "abort":
		return MalformedAbort, nil
	default:
		return MalformedSkip, fmt.Errorf("unknown malformed row policy %q (want skip or abort)", s)
	}
}

// Options configures Parse.
type Options struct {
	Malformed   MalformedPolicy
	MaxWarnings int
	Logger      *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o Options) maxWarnings() int {
	if o.MaxWarnings > 0 {
		return o.MaxWarnings
	}
	return DefaultMaxWarnings
}

// Record is one address range of the table. First and Last are normalized
// by Key; Country and Description are handles into the owning Pool.
type Record struct {
	First       uint128.Uint128
	Last        uint128.Uint128
	ASN         uint32
	Country     Handle
	Description Handle
}

// Announced reports whether the range is routed. ASN 0 marks "not routed"
// rows, which are kept so lookups inside them resolve deterministically.
func (r Record) Announced() bool {
	return r.ASN != 0
}

// Contains reports whether k falls inside the record's range.
func (r Record) Contains(k uint128.Uint128) bool {
	return r.First.Cmp(k) <= 0 && k.Cmp(r.Last) <= 0
}

// Candidate is a fully built record set that has not been published yet.
type Candidate struct {
	Records []Record
	Pool    *Pool
	Skipped int
	Format  string
}

// Parse builds a Candidate from raw table bytes. MaxMind ASN databases are
// detected by their metadata marker; everything else is read as the
// tab-separated ip2asn format:
//
//	range_start  range_end  AS_number  country_code  AS_description
func Parse(data []byte, opts Options) (*Candidate, error) {
	if IsMMDB(data) {
		return parseMMDB(data, opts)
	}
	return parseTSV(data, opts)
}

// rowError describes why a single row was rejected.
type rowError struct {
	line   int
	reason string
}

func (e *rowError) Error() string {
	return fmt.Sprintf("line %d: %s", e.line, e.reason)
}

// malformedTracker applies the malformed row policy and counts skips.
type malformedTracker struct {
	opts    Options
	log     *slog.Logger
	skipped int
}

// reject handles one bad row. A non-nil return aborts the parse.
func (m *malformedTracker) reject(e *rowError) error {
	if m.opts.Malformed == MalformedAbort {
		return fmt.Errorf("%w: %s", ErrParseFailure, e.Error())
	}
	m.skipped++
	if m.skipped <= m.opts.maxWarnings() {
		m.log.Warn("skipping malformed row", "line", e.line, "reason", e.reason)
	}
	return nil
}

func (m *malformedTracker) summary(format string, records int) {
	if m.skipped > 0 {
		m.log.Warn("malformed rows skipped",
			"format", format,
			"skipped", m.skipped,
			"records", records,
		)
	}
}

const maxFields = 5

func parseTSV(data []byte, opts Options) (*Candidate, error) {
	log := opts.logger()
	tracker := &malformedTracker{opts: opts, log: log}

	// ~40 bytes per row is typical for ip2asn-combined.
	records := make([]Record, 0, len(data)/40+1)
	pool := NewPool(4096)

	var fields [maxFields + 1][]byte
	lineNo := 0
	headerChecked := false

	for rest := data; len(rest) > 0; {
		var line []byte
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			line, rest = rest[:i], rest[i+1:]
		} else {
			line, rest = rest, nil
		}
		lineNo++

		line = bytes.TrimSuffix(line, []byte{'\r'})
		if len(bytes.TrimSpace(line)) == 0 || line[0] == '#' {
			continue
		}

		n := splitTabs(line, &fields)
		if !headerChecked {
			headerChecked = true
			if isHeader(fields[0]) {
				continue
			}
		}

		rec, rerr := parseRow(fields[:n], lineNo, pool)
		if rerr != nil {
			if err := tracker.reject(rerr); err != nil {
				return nil, err
			}
			continue
		}
		records = append(records, rec)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no valid records in %d lines", ErrParseFailure, lineNo)
	}

	return finish(records, pool, tracker, FormatTSV), nil
}

// finish sorts, freezes and wraps the parsed records.
func finish(records []Record, pool *Pool, tracker *malformedTracker, format string) *Candidate {
	slices.SortFunc(records, compareRecords)
	pool.Freeze()
	tracker.summary(format, len(records))

	tracker.log.Info("table parsed",
		"format", format,
		"records", len(records),
		"interned", pool.Len(),
		"skipped", tracker.skipped,
	)

	return &Candidate{
		Records: slices.Clip(records),
		Pool:    pool,
		Skipped: tracker.skipped,
		Format:  format,
	}
}

func compareRecords(a, b Record) int {
	if c := a.First.Cmp(b.First); c != 0 {
		return c
	}
	return a.Last.Cmp(b.Last)
}

// splitTabs splits line on tabs into dst and returns the field count.
// More than maxFields fields reports maxFields+1.
func splitTabs(line []byte, dst *[maxFields + 1][]byte) int {
	n := 0
	for {
		i := bytes.IndexByte(line, '\t')
		if i < 0 {
			dst[n] = line
			return n + 1
		}
		dst[n] = line[:i]
		line = line[i+1:]
		n++
		if n == maxFields {
			dst[n] = line
			return maxFields + 1
		}
	}
}

var headerNames = []string{"range_start", "start", "ip_start", "first_ip", "start_ip"}

func isHeader(first []byte) bool {
	f := strings.ToLower(string(bytes.TrimSpace(first)))
	return slices.Contains(headerNames, f)
}

func parseRow(fields [][]byte, lineNo int, pool *Pool) (Record, *rowError) {
	if len(fields) < 3 || len(fields) > maxFields {
		return Record{}, &rowError{lineNo, fmt.Sprintf("expected 3 to %d fields, got %d", maxFields, len(fields))}
	}

	first, err := parseAddr(fields[0])
	if err != nil {
		return Record{}, &rowError{lineNo, "invalid range start: " + err.Error()}
	}
	last, err := parseAddr(fields[1])
	if err != nil {
		return Record{}, &rowError{lineNo, "invalid range end: " + err.Error()}
	}
	if !netipx.IPRangeFrom(first, last).IsValid() {
		return Record{}, &rowError{lineNo, fmt.Sprintf("invalid range %s-%s", first, last)}
	}

	asn, err := strconv.ParseUint(string(bytes.TrimSpace(fields[2])), 10, 32)
	if err != nil {
		return Record{}, &rowError{lineNo, fmt.Sprintf("invalid AS number %q", fields[2])}
	}

	rec := Record{
		First: Key(first),
		Last:  Key(last),
		ASN:   uint32(asn),
	}
	if len(fields) > 3 {
		rec.Country = pool.InternBytes(bytes.TrimSpace(fields[3]))
	}
	if len(fields) > 4 {
		rec.Description = pool.InternBytes(bytes.TrimSpace(fields[4]))
	}
	return rec, nil
}

func parseAddr(field []byte) (netip.Addr, error) {
	addr, err := netip.ParseAddr(string(bytes.TrimSpace(field)))
	if err != nil {
		return netip.Addr{}, err
	}
	if addr.Zone() != "" {
		return netip.Addr{}, fmt.Errorf("zoned address %s", addr)
	}
	return addr.Unmap(), nil
}
