// Package swrcache is a reactive data cache with stale-while-revalidate
// semantics and a prioritized update scheduler.
//
// A Client owns one cache, one request deduplicator, one scheduler loop,
// one revalidator and one notifier:
//
//	cfg := swrcache.DefaultConfig()
//	cfg.StaleTime = 30 * time.Second
//	client, err := swrcache.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	go client.Run(ctx)
//
//	unsubscribe, err := client.Subscribe("posts", swrcache.Normal,
//	    func(e swrcache.Entry) { render(e) },
//	    swrcache.WithFetcher(fetchPosts),
//	)
//
// Subscribers see cached data immediately (when there is any) and then the
// revalidated value. Every callback runs on the scheduler loop, ordered by
// priority: Urgent work runs first and can interrupt Normal and Transition
// work at yield points.
//
// Keys are strings or ordered tuples: "posts", []any{"post", 42} and
// cache.MustKey("post", 42) are all accepted. A nil key disables the
// subscription (conditional fetching).
package swrcache
