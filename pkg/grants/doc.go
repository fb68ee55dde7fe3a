// Package grants implements the Permission Store: a durable mapping from
// normalized email to the pages and features explicitly granted to it.
//
// Backends:
//
//   - MemoryStore: in-process, for tests and single-node development.
//   - SQLStore: the user_grants table on Postgres (lib/pq) or SQLite.
//   - S3Store: one JSON object per email, <prefix>/<email>.json.
//
// Wrappers compose in front of a backend:
//
//	var store grants.Store = grants.NewSQLStore(db)
//	store = grants.NewInstrumentedStore(store, "postgres", logger, metrics)
//	store = grants.NewRedisCache(store, redisClient, ttl, logger, metrics)
//	store = grants.NewCachedStore(store, 1024, time.Minute, metrics)
//
// Every backend returns (nil, nil) for a missing document. Writes are full
// replacements and the last write wins.
package grants
