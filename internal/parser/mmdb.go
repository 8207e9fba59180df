package parser

import (
	"bytes"
	"fmt"

	"github.com/oschwald/maxminddb-golang"
	"go4.org/netipx"
)

// mmdbMarker starts the metadata section of every MaxMind DB file.
var mmdbMarker = []byte("\xab\xcd\xefMaxMind.com")

// mmdbTail is how far from the end the metadata section may start.
const mmdbTail = 128 * 1024

// IsMMDB reports whether data looks like a MaxMind DB file.
func IsMMDB(data []byte) bool {
	tail := data
	if len(tail) > mmdbTail {
		tail = tail[len(tail)-mmdbTail:]
	}
	return bytes.Contains(tail, mmdbMarker)
}

// asnEntry is the GeoLite2-ASN / GeoIP2-ISP record shape.
type asnEntry struct {
	AutonomousSystemNumber       uint   `maxminddb:"autonomous_system_number"`
	AutonomousSystemOrganization string `maxminddb:"autonomous_system_organization"`
	Country                      struct {
		IsoCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// parseMMDB flattens every network of a MaxMind ASN database into ranges.
// Networks without data are not present in the tree and become gaps.
func parseMMDB(data []byte, opts Options) (*Candidate, error) {
	log := opts.logger()
	tracker := &malformedTracker{opts: opts, log: log}

	reader, err := maxminddb.FromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%w: open mmdb: %v", ErrParseFailure, err)
	}
	defer reader.Close()

	log.Debug("reading mmdb",
		"database_type", reader.Metadata.DatabaseType,
		"ip_version", reader.Metadata.IPVersion,
		"build_epoch", reader.Metadata.BuildEpoch,
	)

	pool := NewPool(4096)
	records := make([]Record, 0, reader.Metadata.NodeCount/2+1)

	networks := reader.Networks(maxminddb.SkipAliasedNetworks)
	n := 0
	for networks.Next() {
		n++
		var entry asnEntry
		ipNet, err := networks.Network(&entry)
		if err != nil {
			if err := tracker.reject(&rowError{n, "decode network: " + err.Error()}); err != nil {
				return nil, err
			}
			continue
		}

		prefix, ok := netipx.FromStdIPNet(ipNet)
		if !ok {
			if err := tracker.reject(&rowError{n, fmt.Sprintf("invalid network %v", ipNet)}); err != nil {
				return nil, err
			}
			continue
		}
		rng := netipx.RangeOfPrefix(prefix.Masked())

		records = append(records, Record{
			First:       Key(rng.From()),
			Last:        Key(rng.To()),
			ASN:         uint32(entry.AutonomousSystemNumber),
			Country:     pool.Intern(entry.Country.IsoCode),
			Description: pool.Intern(entry.AutonomousSystemOrganization),
		})
	}
	if err := networks.Err(); err != nil {
		return nil, fmt.Errorf("%w: walk mmdb: %v", ErrParseFailure, err)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: mmdb contains no networks", ErrParseFailure)
	}

	return finish(records, pool, tracker, FormatMMDB), nil
}
