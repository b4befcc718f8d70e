package storage

import (
	"fmt"
	"testing"
	"time"
)

func populate(b *testing.B, s *MemoryStorage, n int) {
	b.Helper()
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key%d", i)
		value := fmt.Sprintf("value%d", i)
		if err := s.Set(key, []byte(value), nil); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMemoryGet(b *testing.B) {
	s := NewMemory()
	defer s.Close()
	populate(b, s, 1000)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			s.Get(fmt.Sprintf("key%d", i%1000))
			i++
		}
	})
}

func BenchmarkMemorySet(b *testing.B) {
	s := NewMemory()
	defer s.Close()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			key := fmt.Sprintf("key%d", i)
			s.Set(key, []byte("value"), nil)
			i++
		}
	})
}

func BenchmarkMemorySetWithExpiry(b *testing.B) {
	s := NewMemory()
	defer s.Close()
	expiry := time.Now().Add(time.Hour)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			key := fmt.Sprintf("key%d", i)
			s.Set(key, []byte("value"), &expiry)
			i++
		}
	})
}

// 95% reads, 5% writes
func BenchmarkMemoryMixedReadHeavy(b *testing.B) {
	s := NewMemory()
	defer s.Close()
	populate(b, s, 1000)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if i%20 == 0 {
				key := fmt.Sprintf("newkey%d", i)
				s.Set(key, []byte("newvalue"), nil)
			} else {
				s.Get(fmt.Sprintf("key%d", i%1000))
			}
			i++
		}
	})
}

// 50% reads, 50% writes
func BenchmarkMemoryMixedWriteHeavy(b *testing.B) {
	s := NewMemory()
	defer s.Close()
	populate(b, s, 1000)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if i%2 == 0 {
				key := fmt.Sprintf("key%d", i%1000)
				s.Set(key, []byte("updated"), nil)
			} else {
				s.Get(fmt.Sprintf("key%d", i%1000))
			}
			i++
		}
	})
}

func BenchmarkMemoryShardCounts(b *testing.B) {
	for _, shards := range []int{1, 4, 16, 64} {
		b.Run(fmt.Sprintf("shards-%d", shards), func(b *testing.B) {
			s := NewMemory(WithShardCount(shards))
			defer s.Close()
			populate(b, s, 1000)

			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				i := 0
				for pb.Next() {
					if i%10 == 0 {
						s.Set(fmt.Sprintf("key%d", i%1000), []byte("v"), nil)
					} else {
						s.Get(fmt.Sprintf("key%d", i%1000))
					}
					i++
				}
			})
		})
	}
}

func BenchmarkMemoryKeys(b *testing.B) {
	s := NewMemory()
	defer s.Close()
	populate(b, s, 1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Keys("key1*")
	}
}

func BenchmarkMemoryPTTL(b *testing.B) {
	s := NewMemory()
	defer s.Close()
	expiry := time.Now().Add(time.Hour)
	s.Set("expiring", []byte("v"), &expiry)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.PTTL("expiring")
	}
}
