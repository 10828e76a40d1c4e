// Package redis provides the Redis-backed stores for the access-control
// pipeline: the rate-limit counter store and progressive blocker, the
// permission cache, the token revocation store, and the device/IP anomaly
// stores.
//
// All mutations that race under concurrent requests (counter increments,
// block transitions, recent-set eviction) are implemented as single atomic
// Redis operations, using Lua scripts where a plain command is not enough.
// Every call takes a context and inherits the client's read/write timeouts,
// so no operation in the access-control path can block indefinitely.
package redis
