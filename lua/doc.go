// Package lua executes Redis-compatible Lua scripts against a keyspace.
//
// The Engine backs the EVAL, EVALSHA and SCRIPT LOAD|EXISTS|FLUSH server
// commands: each evaluation runs in a fresh gopher-lua state, and loaded
// script bodies are cached by their SHA1 for EVALSHA lookup.
//
// Inside a script, redis.call and redis.pcall dispatch to the storage
// layer directly — GET, SET (with the PX and EX expiry options), DEL,
// EXISTS, TYPE, TTL and PTTL — and the KEYS and ARGV arrays carry the
// caller's arguments. Return values convert between Lua and RESP
// conventions (false for a missing key, tables for arrays).
package lua
