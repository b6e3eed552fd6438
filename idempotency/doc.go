// Package idempotency provides the replay guard used by the payment gateway.
//
// # Overview
//
// Processors deliver webhooks at least once, and the confirmation page can
// race a webhook for the same transaction. The guard remembers which
// transaction ids were already applied for a replay window (one hour by
// default) and limits how many webhook requests a single source may send per
// fixed window (30 per minute by default).
//
// The guard is a fast path. The order store's conditional paid transition is
// what keeps completion at most once; the guard keeps duplicates from
// reaching the processor and the store at all.
//
// # Stores
//
// InMemoryStore suits a single instance. RedisStore shares state across
// instances behind a load balancer:
//
//	guard := idempotency.NewRedisStore(redisClient,
//	    idempotency.WithReplayTTL(time.Hour),
//	    idempotency.WithRateLimit(30, time.Minute),
//	)
//
// # How It Works
//
// 1. IsDuplicate atomically checks and marks a transaction id
// 2. A marked id answers true until the replay window expires
// 3. Forget drops a mark when a delivery was rejected after being marked
// 4. CheckRateLimit counts a request against its source's current window
//
// Requests rejected by the rate limit are not counted.
package idempotency
