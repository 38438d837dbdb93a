package dedup_test

import (
	"context"
	"fmt"

	"github.com/jonwraymond/swrcache/cache"
	"github.com/jonwraymond/swrcache/dedup"
)

func ExampleDeduplicator_Fetch() {
	d := dedup.New()
	key := cache.MustKey("user", 7)
	release := make(chan struct{})
	calls := 0

	fetch := func(ctx context.Context, k cache.Key) (any, error) {
		calls++
		<-release
		return "user 7", nil
	}

	a := d.Fetch(context.Background(), key, fetch)
	b := d.Fetch(context.Background(), key, fetch)
	close(release)

	first, _ := a.Wait(context.Background())
	second, _ := b.Wait(context.Background())
	fmt.Println(first, "/", second, calls)
	// Output: user 7 / user 7 1
}
