package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// ============================================================================
// Lookup Benchmarks
// ============================================================================

// benchService loads a synthetic table of n consecutive /24 ranges.
func benchService(b *testing.B, n int) *Service {
	b.Helper()

	var sb strings.Builder
	for i := 0; i < n; i++ {
		a, c := byte(i>>8), byte(i)
		fmt.Fprintf(&sb, "10.%d.%d.0\t10.%d.%d.255\t%d\tUS\tAS-%d\n", a, c, a, c, 64512+i%1000, i%1000)
	}
	path := filepath.Join(b.TempDir(), "table.tsv")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		b.Fatal(err)
	}

	svc, err := NewService(Options{Source: path, CacheDir: b.TempDir(), Logger: quietLogger()})
	if err != nil {
		b.Fatal(err)
	}
	if err := svc.Load(context.Background()); err != nil {
		b.Fatal(err)
	}
	return svc
}

// BenchmarkLookup measures a hit through the full facade, including address
// parsing and result construction. This is the hot path for every request.
func BenchmarkLookup(b *testing.B) {
	svc := benchService(b, 50000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := svc.Lookup("10.100.7.42"); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkLookup_Miss measures an address outside every range.
func BenchmarkLookup_Miss(b *testing.B) {
	svc := benchService(b, 50000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		svc.Lookup("203.0.113.1")
	}
}

// BenchmarkLookup_Parallel measures lock-free lookups from many goroutines.
func BenchmarkLookup_Parallel(b *testing.B) {
	svc := benchService(b, 50000)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			svc.Lookup("10.42.42.42")
		}
	})
}
