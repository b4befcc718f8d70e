// Command repl-diff compares replication state between a master and a
// replica endpoint and reports lag.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// ReplicationStats holds the fields of the INFO replication section
type ReplicationStats struct {
	Role   string
	ReplID string
	Offset int64
	Slaves int64
}

func main() {
	var masterAddr = flag.String("master", "", "Master endpoint (host:port)")
	var replicaAddr = flag.String("replica", "", "Replica endpoint (host:port)")
	var maxLag = flag.Int64("max-lag", 0, "Maximum acceptable offset lag in bytes (0 = exact match required)")
	var helpFlag = flag.Bool("help", false, "Show help message")

	flag.Parse()

	if *helpFlag || *masterAddr == "" || *replicaAddr == "" {
		fmt.Println("Replication Comparison Tool")
		fmt.Println("===========================")
		fmt.Println("Usage: repl-diff --master=host:port --replica=host:port [--max-lag=1024]")
		fmt.Println("")
		fmt.Println("Flags:")
		fmt.Println("  --master   Master endpoint (e.g., localhost:6379)")
		fmt.Println("  --replica  Replica endpoint (e.g., localhost:6380)")
		fmt.Println("  --max-lag  Maximum acceptable offset lag in bytes")
		fmt.Println("  --help     Show this help message")
		os.Exit(0)
	}

	fmt.Printf("Comparing replication state:\n")
	fmt.Printf("  Master:  %s\n", *masterAddr)
	fmt.Printf("  Replica: %s\n", *replicaAddr)
	fmt.Println()

	masterStats, err := getReplicationStats(*masterAddr)
	if err != nil {
		log.Fatalf("Failed to get replication info from master %s: %v", *masterAddr, err)
	}

	replicaStats, err := getReplicationStats(*replicaAddr)
	if err != nil {
		log.Fatalf("Failed to get replication info from replica %s: %v", *replicaAddr, err)
	}

	compareReplicationStats(masterStats, replicaStats, *maxLag)
}

// getReplicationStats connects to an endpoint and extracts the INFO
// replication section
func getReplicationStats(addr string) (*ReplicationStats, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	_, err = conn.Write([]byte("*2\r\n$4\r\nINFO\r\n$11\r\nreplication\r\n"))
	if err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	reader := bufio.NewReader(conn)
	header, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, "$") {
		return nil, fmt.Errorf("unexpected reply %q", header)
	}
	length, err := strconv.Atoi(header[1:])
	if err != nil || length < 0 {
		return nil, fmt.Errorf("bad bulk length %q", header)
	}

	payload := make([]byte, length+2)
	if _, err := io.ReadFull(reader, payload); err != nil {
		return nil, fmt.Errorf("failed to read response content: %w", err)
	}

	return parseReplicationStats(string(payload[:length])), nil
}

// parseReplicationStats extracts replication fields from the INFO payload
func parseReplicationStats(payload string) *ReplicationStats {
	stats := &ReplicationStats{}
	for _, line := range strings.Split(payload, "\n") {
		line = strings.TrimSpace(line)
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch key {
		case "role":
			stats.Role = value
		case "master_replid":
			stats.ReplID = value
		case "master_repl_offset":
			stats.Offset, _ = strconv.ParseInt(value, 10, 64)
		case "connected_slaves":
			stats.Slaves, _ = strconv.ParseInt(value, 10, 64)
		}
	}
	return stats
}

// compareReplicationStats reports differences and exits non-zero when the
// pair is unhealthy
func compareReplicationStats(master, replica *ReplicationStats, maxLag int64) {
	fmt.Println("Replication Comparison Results:")
	fmt.Println("===============================")

	problems := 0

	if master.Role != "master" {
		fmt.Printf("  ❌ Expected role master at master endpoint, got %q\n", master.Role)
		problems++
	}
	if replica.Role != "slave" {
		fmt.Printf("  ❌ Expected role slave at replica endpoint, got %q\n", replica.Role)
		problems++
	}

	if master.Slaves < 1 {
		fmt.Printf("  ⚠️  Master reports no connected replicas\n")
	}

	lag := master.Offset - replica.Offset
	if lag < 0 {
		fmt.Printf("  ❌ Replica offset %d is ahead of master offset %d\n", replica.Offset, master.Offset)
		problems++
	} else if lag > maxLag {
		fmt.Printf("  ❌ Offset lag %d exceeds maximum %d (master=%d, replica=%d)\n",
			lag, maxLag, master.Offset, replica.Offset)
		problems++
	} else {
		fmt.Printf("  ✅ Offsets within tolerance: master=%d, replica=%d, lag=%d\n",
			master.Offset, replica.Offset, lag)
	}

	fmt.Println()
	if problems == 0 {
		fmt.Println("🎉 SUCCESS: Replication pair is healthy")
	} else {
		fmt.Printf("❌ FAILURE: %d problems found\n", problems)
		os.Exit(1)
	}
}
