package buffer

import (
	"testing"
)

// bufferpool's free-list is the only consumer of this package, and it
// always sizes the buffer to port_max with DropNewest (a port slot is
// never silently dropped out from under a live allocation). These
// benchmarks cover that shape plus plain Read/Write throughput; the
// generic package's original suite benchmarked a much wider surface
// (ReadBatch, Peek, multiple generic element types, drop callbacks,
// capacity scaling curves) this domain never exercises.

// BenchmarkBufferWrite benchmarks Write at a free-list-sized capacity
// under the overflow policy graphd actually uses.
func BenchmarkBufferWrite(b *testing.B) {
	buffer, err := NewCircularBuffer[int](1024, WithOverflowPolicy[int](DropNewest))
	if err != nil {
		b.Fatal(err)
	}
	defer buffer.Close()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			buffer.Write(i)
			i++
		}
	})
}

// BenchmarkBufferRead benchmarks Read against a pre-populated buffer.
func BenchmarkBufferRead(b *testing.B) {
	buffer, err := NewCircularBuffer[int](1024, WithOverflowPolicy[int](DropNewest))
	if err != nil {
		b.Fatal(err)
	}
	defer buffer.Close()

	for i := 0; i < buffer.Capacity(); i++ {
		buffer.Write(i)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			buffer.Read()
		}
	})
}

// BenchmarkBufferConcurrentAccess mirrors the free-list's actual access
// pattern: concurrent Write (port release) and Read (port allocation).
func BenchmarkBufferConcurrentAccess(b *testing.B) {
	buffer, err := NewCircularBuffer[int](1024, WithOverflowPolicy[int](DropNewest))
	if err != nil {
		b.Fatal(err)
	}
	defer buffer.Close()

	for i := 0; i < buffer.Capacity(); i++ {
		_ = buffer.Write(i)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			buffer.Read()
			_ = buffer.Write(i)
			i++
		}
	})
}
