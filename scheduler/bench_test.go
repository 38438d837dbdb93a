package scheduler

import (
	"context"
	"strconv"
	"testing"
)

func BenchmarkEnqueueFlush(b *testing.B) {
	s := New(Config{})
	noop := func(context.Context) {}

	b.ReportAllocs()
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		for i := range 64 {
			_, _ = s.Schedule(Priority(i%numPriorities), "", noop)
		}
		_ = s.RunUntilIdle()
	}
}

func BenchmarkEnqueueCollapse(b *testing.B) {
	s := New(Config{})
	noop := func(context.Context) {}
	keys := make([]string, 16)
	for i := range keys {
		keys[i] = "sub-" + strconv.Itoa(i)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		for i := range 256 {
			_, _ = s.Schedule(Normal, keys[i%len(keys)], noop)
		}
		_ = s.RunUntilIdle()
	}
}
