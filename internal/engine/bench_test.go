package engine

import (
	"context"
	"fmt"
	"testing"
)

func BenchmarkScanSources(b *testing.B) {
	for _, n := range []int{16, 64} {
		b.Run(fmt.Sprintf("files_%d", n), func(b *testing.B) {
			files := make(map[string][]byte, n)
			size := 0
			for i := 0; i < n; i++ {
				files[fmt.Sprintf("app/f%d.php", i)] = []byte(vulnerablePHP)
				size += len(vulnerablePHP)
			}
			b.ReportAllocs()
			b.SetBytes(int64(size))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := ScanSources(context.Background(), Config{Threads: 4}, files); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
