// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package snapshot

import (
	"path/filepath"
	"testing"
	"time"
)

func benchmarkRecordCoil(b *testing.B, storage Storage) {
	store, err := NewStore(storage)
	if err != nil {
		b.Fatalf("Failed to load storage: %v", err)
	}
	defer store.Close()

	now := time.Now()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := store.RecordCoil(1, i%8+1, i%2 == 0, now); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMemoryStorage_RecordCoil(b *testing.B) {
	benchmarkRecordCoil(b, NewMemoryStorage())
}

func BenchmarkFileStorage_RecordCoil(b *testing.B) {
	benchmarkRecordCoil(b, NewFileStorage(filepath.Join(b.TempDir(), "bench_file.bin")))
}

// BenchmarkMmapStorage_RecordCoil measures msync per change.
func BenchmarkMmapStorage_RecordCoil(b *testing.B) {
	benchmarkRecordCoil(b, NewMmapStorage(filepath.Join(b.TempDir(), "bench_mmap.bin")))
}
