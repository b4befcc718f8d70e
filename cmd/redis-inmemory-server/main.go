// Command redis-inmemory-server runs a standalone Redis-compatible server.
//
// Run a master:
//
//	redis-inmemory-server --port 6379
//
// Run a replica of an existing master:
//
//	redis-inmemory-server --port 6380 --replicaof "localhost 6379"
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	redisserver "github.com/raniellyferreira/redis-inmemory-server"
)

func main() {
	var (
		port      = flag.Int("port", 6379, "port to listen on")
		replicaOf = flag.String("replicaof", "", "master to replicate, as \"host port\" or \"host:port\"")
		password  = flag.String("requirepass", "", "password required from clients")
	)
	flag.Parse()

	opts := []redisserver.Option{
		redisserver.WithListenAddr(fmt.Sprintf(":%d", *port)),
	}
	if *replicaOf != "" {
		masterAddr, err := parseMasterAddr(*replicaOf)
		if err != nil {
			log.Fatal(err)
		}
		opts = append(opts, redisserver.WithReplicaOf(masterAddr))
	}
	if *password != "" {
		opts = append(opts, redisserver.WithPassword(*password))
	}

	node, err := redisserver.New(opts...)
	if err != nil {
		log.Fatal("Failed to create node:", err)
	}
	defer node.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := node.Start(ctx); err != nil {
		log.Fatal("Failed to start node:", err)
	}
	log.Printf("Listening on %s as %s", node.Addr(), node.Role())

	node.OnSyncComplete(func() {
		log.Println("Initial synchronization completed")
	})

	if node.Role().String() != "master" {
		syncCtx, syncCancel := context.WithTimeout(ctx, 60*time.Second)
		defer syncCancel()
		if err := node.WaitForSync(syncCtx); err != nil {
			log.Fatal("Failed to sync with master:", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
}

// parseMasterAddr accepts "host port" (Redis CLI style) or "host:port"
func parseMasterAddr(value string) (string, error) {
	if fields := strings.Fields(value); len(fields) == 2 {
		return fields[0] + ":" + fields[1], nil
	}
	if strings.Count(value, ":") == 1 {
		return value, nil
	}
	return "", fmt.Errorf("invalid --replicaof value %q: want \"host port\" or \"host:port\"", value)
}
