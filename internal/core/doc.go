// Package core provides the IP to ASN lookup service.
//
// This package is the only surface the HTTP server, the DNS frontend and the
// CLI use. It ties the fetcher, parser, store and updater together behind a
// single owned [Service]; there is no package-level state, so several
// services with different sources can run in one process.
//
// # Architecture
//
// The package is organized around several key concepts:
//
//   - Fetcher: downloads the range table with conditional requests and keeps
//     a decompressed copy in the cache directory.
//   - Parser: turns the table into sorted records with interned strings.
//   - Store: serves lock-free lookups from one immutable snapshot.
//   - Updater: refreshes on a schedule or on demand and publishes new
//     snapshots with a single atomic swap.
//
// # Lifecycle
//
//	svc, err := core.NewService(core.Options{CacheDir: "./cache"})
//	if err != nil { ... }
//	if err := svc.Load(ctx); err != nil { ... } // no data at all
//	svc.StartAutoUpdate(60)
//	res, err := svc.Lookup("8.8.8.8")
//
// Load fails only when neither the source nor the cache can provide data.
// After that, refresh failures are logged and recorded in the history but
// never replace the data being served.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - LKP001-LKP002: Lookup input errors
//   - SRC001-SRC004: Source errors (invalid source, network, corrupt data, cache)
//   - PRS001: Parse errors
//   - UPD001-UPD003: Update scheduling and waiting
//   - DB001-DB002: History database errors
//
// # Refresh History
//
// Every check (load, scheduled or forced) is recorded as a [history.Event]
// with its outcome. Events are kept in memory by default or in Postgres when
// a database is configured.
package core
