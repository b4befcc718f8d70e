// Package redisserver provides an in-memory Redis-compatible server
// with master/replica replication.
//
// A node runs either as a master, accepting writes from clients and
// streaming them to connected replicas, or as a replica that performs a
// full synchronization against its master and then applies the command
// stream in real time.
//
// Basic usage:
//
//	node, err := redisserver.New(
//		redisserver.WithListenAddr(":6379"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer node.Close()
//
//	if err := node.Start(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//
// Starting a replica of an existing master:
//
//	replica, err := redisserver.New(
//		redisserver.WithListenAddr(":6380"),
//		redisserver.WithReplicaOf("localhost:6379"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer replica.Close()
//
//	if err := replica.Start(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//
//	// Block until the initial sync has loaded the keyspace
//	if err := replica.WaitForSync(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//
// The library supports:
//
//   - RESP protocol parsing and serialization
//   - Sharded in-memory keyspace with millisecond expiration
//   - PSYNC full resynchronization with RDB snapshots
//   - Real-time command propagation to replicas
//   - WAIT-based replication acknowledgment tracking
//   - Lua scripting via EVAL and EVALSHA
//
// For more examples and advanced usage, see the examples/ directory.
package redisserver
