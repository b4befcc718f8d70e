// Package storage provides the concurrent in-memory keyspace the server
// executes commands against.
//
// The implementation shards keys across independently locked maps using
// xxhash, so the single most contended resource in the system degrades into
// 64 lightly contended ones. Expiration is lazy: a read that touches an
// expired entry treats it as absent and evicts it. A background sampling
// sweep reclaims memory for keys that are never read again; it is an
// optimization only and does not change observable behavior.
package storage
