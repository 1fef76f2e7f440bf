// Package cache provides the tiered cache for trading data.
//
// A Manager fronts three tiers:
//
//   - L1: a bounded in-process LRU with per-entry TTL
//   - L2: a shared Store, normally Redis (RedisStore)
//   - L3: an edge Store, NopStore unless a CDN client is plugged in
//
// Every value belongs to a data type registered in a Registry. The data type
// fixes the key prefix, the default TTL, the deepest tier it is written to and
// the write strategy:
//
//   - cache-aside and write-through write every configured tier synchronously
//   - write-behind writes L1 immediately and queues the lower tiers; a flush
//     loop writes queued batches with exponential backoff and dead-letters
//     items that exceed their attempts
//
// Reads probe L1 first and then each lower tier the data type uses, promoting
// hits upwards. Store failures never surface to callers: they are counted,
// logged and degraded to a miss (reads) or false (writes). Only configuration
// errors such as ErrUnknownDataType are returned.
//
// # Basic Usage
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//
//	manager, err := cache.NewManager(cache.DefaultManagerConfig(cache.NewRedisStore(client)))
//	if err != nil {
//		return err
//	}
//	manager.Start()
//	defer manager.Close(context.Background())
//
//	manager.Set(ctx, "BTC-USD", quote, cache.TypeMarketData, 0)
//
//	q, found, err := cache.GetAs[Quote](ctx, manager, "BTC-USD", cache.TypeMarketData)
//
// # Metrics
//
// The package registers Prometheus collectors prefixed tradecache_cache_ and
// tradecache_write_behind_ on the default registry.
package cache
