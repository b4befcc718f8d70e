package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/lua"
	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/replication"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// Logger interface for server logging
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, fields ...interface{}) {}
func (noopLogger) Info(msg string, fields ...interface{})  {}
func (noopLogger) Error(msg string, fields ...interface{}) {}

// Server accepts Redis protocol clients and dispatches their commands
// against storage. On masters it also terminates replica handshakes and
// hands streaming connections over to the replication registry.
type Server struct {
	storage storage.Storage
	lua     *lua.Engine
	state   *replication.State
	master  *replication.Master
	logger  Logger

	addr     string
	password string

	listener net.Listener
	clients  sync.Map // map[net.Conn]*Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connCount    int64
	commandCount int64
	errorCount   int64
	mu           sync.RWMutex
}

// Client represents a connected Redis client
type Client struct {
	conn   net.Conn
	writer *protocol.Writer
	server *Server

	session       *replication.Session
	replica       *replication.ReplicaConn
	authenticated bool
	lastCmd       time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a Redis protocol server. The replication state drives
// the INFO replication section and role checks; masters additionally get
// a replica registry via SetMaster.
func NewServer(addr string, stor storage.Storage, state *replication.State) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		storage: stor,
		lua:     lua.NewEngine(stor),
		state:   state,
		logger:  noopLogger{},
		addr:    addr,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetMaster attaches the replica registry; only master nodes have one
func (s *Server) SetMaster(master *replication.Master) {
	s.master = master
}

// SetLogger sets the logger
func (s *Server) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetPassword sets the authentication password for the server
func (s *Server) SetPassword(password string) {
	s.password = password
}

// Start starts listening for clients
func (s *Server) Start() error {
	var err error
	s.listener, err = net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.logger.Info("server listening", "addr", s.listener.Addr().String(), "role", s.state.Role().String())

	s.wg.Add(1)
	go s.acceptConnections()

	return nil
}

// Stop stops the server and closes all client connections
func (s *Server) Stop() error {
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.clients.Range(func(key, value interface{}) bool {
		if client, ok := value.(*Client); ok {
			client.Close()
		}
		return true
	})

	s.wg.Wait()
	return nil
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Port returns the listening port
func (s *Server) Port() string {
	_, port, err := net.SplitHostPort(s.Addr())
	if err != nil {
		return ""
	}
	return port
}

// Stats returns server statistics
func (s *Server) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clientCount := 0
	s.clients.Range(func(key, value interface{}) bool {
		clientCount++
		return true
	})

	return map[string]interface{}{
		"connected_clients": clientCount,
		"total_commands":    s.commandCount,
		"total_errors":      s.errorCount,
		"total_connections": s.connCount,
	}
}

// acceptConnections accepts new client connections
func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return // Server is shutting down
			}
			continue
		}

		s.handleNewClient(conn)
	}
}

// handleNewClient handles a new client connection
func (s *Server) handleNewClient(conn net.Conn) {
	s.mu.Lock()
	s.connCount++
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(s.ctx)
	client := &Client{
		conn:          conn,
		writer:        protocol.NewWriter(conn),
		server:        s,
		session:       replication.NewSession(),
		authenticated: s.password == "", // Auto-authenticated if no password
		lastCmd:       time.Now(),
		ctx:           ctx,
		cancel:        cancel,
	}

	s.clients.Store(conn, client)

	s.wg.Add(1)
	go client.handle()
}

// Close closes the client connection
func (c *Client) Close() {
	c.cancel()
	if c.replica != nil {
		c.replica.Close()
	}
	c.conn.Close()
	c.server.clients.Delete(c.conn)
}

// handle reads and dispatches client frames. Input is buffered and decoded
// frame by frame so pipelined commands are answered in order; an incomplete
// frame just waits for more bytes, a malformed one ends the connection.
func (c *Client) handle() {
	defer c.server.wg.Done()
	defer c.Close()

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)

	for {
		for len(buf) > 0 {
			value, consumed, err := protocol.Decode(buf)
			if errors.Is(err, protocol.ErrIncomplete) {
				break
			}
			var malformed *protocol.MalformedError
			if errors.As(err, &malformed) {
				c.writeError(fmt.Sprintf("ERR Protocol error: %s", malformed.Message))
				return
			}
			if err != nil {
				c.writeError(fmt.Sprintf("ERR Protocol error: %v", err))
				return
			}
			buf = buf[consumed:]

			cmd, err := protocol.ParseCommand(value)
			if err != nil {
				c.writeError(fmt.Sprintf("ERR Protocol error: %v", err))
				continue
			}

			c.lastCmd = time.Now()
			c.executeCommand(cmd)

			// After PSYNC the connection belongs to the replication
			// stream; the rest of the inbound bytes are ACKs.
			if c.replica != nil {
				c.serveReplicaAcks(buf)
				return
			}
		}

		select {
		case <-c.ctx.Done():
			return
		default:
		}

		n, err := c.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if err == io.EOF || c.ctx.Err() != nil {
				return
			}
			return
		}
	}
}

// serveReplicaAcks consumes REPLCONF ACK frames from a replica connection
// after the PSYNC takeover. Everything else on the wire is ignored; writes
// to the connection are owned by the replication registry from here on.
func (c *Client) serveReplicaAcks(rest []byte) {
	buf := append([]byte(nil), rest...)
	chunk := make([]byte, 4096)

	for {
		for len(buf) > 0 {
			value, consumed, err := protocol.Decode(buf)
			if errors.Is(err, protocol.ErrIncomplete) {
				break
			}
			if err != nil {
				c.server.logger.Error("replica stream error", "error", err)
				return
			}
			buf = buf[consumed:]

			cmd, err := protocol.ParseCommand(value)
			if err != nil {
				continue
			}
			if cmd.Name == "REPLCONF" && len(cmd.Args) == 2 &&
				strings.EqualFold(string(cmd.Args[0]), "ACK") {
				if offset, err := strconv.ParseInt(string(cmd.Args[1]), 10, 64); err == nil {
					c.replica.RecordAck(offset)
				}
			}
		}

		select {
		case <-c.ctx.Done():
			return
		default:
		}

		n, err := c.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			return
		}
	}
}

// executeCommand executes a Redis command
func (c *Client) executeCommand(cmd *protocol.Command) {
	c.server.mu.Lock()
	c.server.commandCount++
	c.server.mu.Unlock()

	// Check authentication first
	if !c.authenticated && cmd.Name != "AUTH" {
		c.writeError("NOAUTH Authentication required")
		return
	}

	switch cmd.Name {
	case "AUTH":
		c.handleAuth(cmd)
	case "PING":
		c.handlePing(cmd)
	case "ECHO":
		c.handleEcho(cmd)
	case "GET":
		c.handleGet(cmd)
	case "SET":
		c.handleSet(cmd)
	case "DEL":
		c.handleDel(cmd)
	case "EXISTS":
		c.handleExists(cmd)
	case "TYPE":
		c.handleType(cmd)
	case "KEYS":
		c.handleKeys(cmd)
	case "TTL":
		c.handleTTL(cmd, time.Second)
	case "PTTL":
		c.handleTTL(cmd, time.Millisecond)
	case "FLUSHALL":
		c.handleFlushAll(cmd)
	case "INFO":
		c.handleInfo(cmd)
	case "COMMAND":
		c.writeString("OK")
	case "SELECT":
		c.handleSelect(cmd)
	case "REPLCONF":
		c.handleReplConf(cmd)
	case "PSYNC":
		c.handlePsync(cmd)
	case "WAIT":
		c.handleWait(cmd)
	case "EVAL":
		c.handleEval(cmd)
	case "EVALSHA":
		c.handleEvalSHA(cmd)
	case "SCRIPT":
		c.handleScript(cmd)
	case "QUIT":
		c.writeString("OK")
		c.Close()
	default:
		c.writeError(fmt.Sprintf("ERR unknown command '%s'", cmd.Name))
	}
}

// applyWrite runs a keyspace mutation and, on masters, propagates its
// frame to streaming replicas. The registry lock covers both so the
// stream order always matches the keyspace apply order.
func (c *Client) applyWrite(cmd *protocol.Command, apply func() error) error {
	if c.server.master != nil {
		return c.server.master.Apply(cmd.Value(), apply)
	}
	return apply()
}

// rejectWriteOnReplica answers writes on replica nodes; replicas only
// apply writes that arrive over the replication stream.
func (c *Client) rejectWriteOnReplica() bool {
	if c.server.state.Role() == replication.RoleReplica {
		c.writeError("READONLY You can't write against a read only replica.")
		return true
	}
	return false
}

// Command handlers

func (c *Client) handleAuth(cmd *protocol.Command) {
	if len(cmd.Args) != 1 {
		c.writeError("ERR wrong number of arguments for 'auth' command")
		return
	}

	if c.server.password == "" {
		c.writeError("ERR Client sent AUTH, but no password is set")
		return
	}

	if string(cmd.Args[0]) == c.server.password {
		c.authenticated = true
		c.writeString("OK")
	} else {
		c.writeError("ERR invalid password")
	}
}

func (c *Client) handlePing(cmd *protocol.Command) {
	if len(cmd.Args) == 0 {
		c.writeString("PONG")
	} else if len(cmd.Args) == 1 {
		c.writeBulkString(cmd.Args[0])
	} else {
		c.writeError("ERR wrong number of arguments for 'ping' command")
	}
}

func (c *Client) handleEcho(cmd *protocol.Command) {
	if len(cmd.Args) != 1 {
		c.writeError("ERR wrong number of arguments for 'echo' command")
		return
	}
	c.writeBulkString(cmd.Args[0])
}

func (c *Client) handleGet(cmd *protocol.Command) {
	if len(cmd.Args) != 1 {
		c.writeError("ERR wrong number of arguments for 'get' command")
		return
	}

	value, exists := c.server.storage.Get(string(cmd.Args[0]))
	if !exists {
		c.writeNull()
	} else {
		c.writeBulkString(value)
	}
}

func (c *Client) handleSet(cmd *protocol.Command) {
	if len(cmd.Args) < 2 {
		c.writeError("ERR wrong number of arguments for 'set' command")
		return
	}
	if c.rejectWriteOnReplica() {
		return
	}

	expiry, err := parseSetExpiry(cmd.Args[2:])
	if err != nil {
		c.writeError(err.Error())
		return
	}

	err = c.applyWrite(cmd, func() error {
		return c.server.storage.Set(string(cmd.Args[0]), cmd.Args[1], expiry)
	})
	if err != nil {
		c.writeError(fmt.Sprintf("ERR %v", err))
		return
	}

	c.writeString("OK")
}

// parseSetExpiry handles the PX and EX options of SET. A syntax error
// leaves the store untouched because it is raised before the write.
func parseSetExpiry(opts [][]byte) (*time.Time, error) {
	var expiry *time.Time
	for i := 0; i < len(opts); i++ {
		switch strings.ToUpper(string(opts[i])) {
		case "PX", "EX":
			if i+1 >= len(opts) {
				return nil, fmt.Errorf("ERR syntax error")
			}
			n, err := strconv.ParseInt(string(opts[i+1]), 10, 64)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("ERR invalid expire time in 'set' command")
			}
			unit := time.Millisecond
			if strings.EqualFold(string(opts[i]), "EX") {
				unit = time.Second
			}
			t := time.Now().Add(time.Duration(n) * unit)
			expiry = &t
			i++
		default:
			return nil, fmt.Errorf("ERR syntax error")
		}
	}
	return expiry, nil
}

func (c *Client) handleDel(cmd *protocol.Command) {
	if len(cmd.Args) == 0 {
		c.writeError("ERR wrong number of arguments for 'del' command")
		return
	}
	if c.rejectWriteOnReplica() {
		return
	}

	keys := make([]string, len(cmd.Args))
	for i, arg := range cmd.Args {
		keys[i] = string(arg)
	}

	var deleted int64
	c.applyWrite(cmd, func() error {
		deleted = c.server.storage.Del(keys...)
		return nil
	})
	c.writeInteger(deleted)
}

func (c *Client) handleExists(cmd *protocol.Command) {
	if len(cmd.Args) == 0 {
		c.writeError("ERR wrong number of arguments for 'exists' command")
		return
	}

	keys := make([]string, len(cmd.Args))
	for i, arg := range cmd.Args {
		keys[i] = string(arg)
	}

	c.writeInteger(c.server.storage.Exists(keys...))
}

func (c *Client) handleType(cmd *protocol.Command) {
	if len(cmd.Args) != 1 {
		c.writeError("ERR wrong number of arguments for 'type' command")
		return
	}
	c.writeString(c.server.storage.Type(string(cmd.Args[0])))
}

func (c *Client) handleKeys(cmd *protocol.Command) {
	if len(cmd.Args) != 1 {
		c.writeError("ERR wrong number of arguments for 'keys' command")
		return
	}

	keys := c.server.storage.Keys(string(cmd.Args[0]))
	values := make([]protocol.Value, len(keys))
	for i, key := range keys {
		values[i] = protocol.Value{Type: protocol.TypeBulkString, Data: []byte(key)}
	}
	c.writer.WriteArray(values)
	c.writer.Flush()
}

// handleTTL serves both TTL and PTTL; unit selects the reply granularity
func (c *Client) handleTTL(cmd *protocol.Command, unit time.Duration) {
	if len(cmd.Args) != 1 {
		c.writeError("ERR wrong number of arguments for 'ttl' command")
		return
	}

	ttl := c.server.storage.PTTL(string(cmd.Args[0]))
	switch ttl {
	case storage.TTLMissing:
		c.writeInteger(-2)
	case storage.TTLPersistent:
		c.writeInteger(-1)
	default:
		// Round up so a key about to expire never reports 0 while alive
		c.writeInteger(int64((ttl + unit - 1) / unit))
	}
}

func (c *Client) handleFlushAll(cmd *protocol.Command) {
	if c.rejectWriteOnReplica() {
		return
	}
	err := c.applyWrite(cmd, func() error {
		return c.server.storage.FlushAll()
	})
	if err != nil {
		c.writeError(fmt.Sprintf("ERR %v", err))
		return
	}
	c.writeString("OK")
}

func (c *Client) handleInfo(cmd *protocol.Command) {
	section := ""
	if len(cmd.Args) > 0 {
		section = strings.ToLower(string(cmd.Args[0]))
	}

	var sb strings.Builder
	if section == "" || section == "server" {
		sb.WriteString("# Server\r\n")
		sb.WriteString("redis_mode:standalone\r\n")
		sb.WriteString(fmt.Sprintf("tcp_port:%s\r\n", c.server.Port()))
		sb.WriteString("\r\n")
	}
	if section == "" || section == "replication" {
		sb.WriteString(c.server.state.InfoReplication())
		if c.server.master != nil {
			sb.WriteString(fmt.Sprintf("connected_slaves:%d\r\n", c.server.master.ReplicaCount()))
		}
	}

	c.writeBulkString([]byte(sb.String()))
}

func (c *Client) handleSelect(cmd *protocol.Command) {
	if len(cmd.Args) != 1 {
		c.writeError("ERR wrong number of arguments for 'select' command")
		return
	}

	db, err := strconv.Atoi(string(cmd.Args[0]))
	if err != nil {
		c.writeError("ERR invalid DB index")
		return
	}
	// Single-database keyspace
	if db != 0 {
		c.writeError("ERR DB index is out of range")
		return
	}
	c.writeString("OK")
}

func (c *Client) handleReplConf(cmd *protocol.Command) {
	if c.server.master == nil {
		c.writeError("ERR REPLCONF is only accepted by a master")
		return
	}
	if err := c.session.HandleReplConf(cmd.Args); err != nil {
		c.writeError(fmt.Sprintf("ERR %v", err))
		return
	}
	c.writeString("OK")
}

func (c *Client) handlePsync(cmd *protocol.Command) {
	if c.server.master == nil {
		c.writeError("ERR PSYNC is only accepted by a master")
		return
	}
	if err := c.session.HandlePsync(cmd.Args); err != nil {
		c.writeError(fmt.Sprintf("ERR %v", err))
		return
	}

	replica, err := c.server.master.Register(c.conn, c.conn.RemoteAddr().String())
	if err != nil {
		c.server.logger.Error("replica registration failed", "error", err)
		c.writeError(fmt.Sprintf("ERR %v", err))
		return
	}
	c.replica = replica
}

// handleWait reports how many replicas acknowledged the current offset,
// polling until enough did or the timeout expires. With no pending writes
// it answers immediately with the replica count.
func (c *Client) handleWait(cmd *protocol.Command) {
	if len(cmd.Args) != 2 {
		c.writeError("ERR wrong number of arguments for 'wait' command")
		return
	}
	if c.server.master == nil {
		c.writeInteger(0)
		return
	}

	needed, err1 := strconv.Atoi(string(cmd.Args[0]))
	timeoutMs, err2 := strconv.ParseInt(string(cmd.Args[1]), 10, 64)
	if err1 != nil || err2 != nil || needed < 0 || timeoutMs < 0 {
		c.writeError("ERR value is not an integer or out of range")
		return
	}

	target := c.server.state.Offset()
	if target == 0 {
		c.writeInteger(int64(c.server.master.ReplicaCount()))
		return
	}

	c.server.master.RequestAcks()

	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	for {
		acked := c.server.master.AckedReplicas(target)
		if acked >= needed || (timeoutMs > 0 && !time.Now().Before(deadline)) {
			c.writeInteger(int64(acked))
			return
		}
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (c *Client) handleEval(cmd *protocol.Command) {
	if len(cmd.Args) < 2 {
		c.writeError("ERR wrong number of arguments for 'eval' command")
		return
	}
	if c.rejectWriteOnReplica() {
		return
	}

	script := string(cmd.Args[0])
	keys, args, ok := c.splitScriptArgs(cmd)
	if !ok {
		return
	}

	result, err := c.server.lua.Eval(script, keys, args)
	if err != nil {
		c.writeError(fmt.Sprintf("ERR %v", err))
		return
	}

	c.writeResult(result)
}

func (c *Client) handleEvalSHA(cmd *protocol.Command) {
	if len(cmd.Args) < 2 {
		c.writeError("ERR wrong number of arguments for 'evalsha' command")
		return
	}
	if c.rejectWriteOnReplica() {
		return
	}

	sha := string(cmd.Args[0])
	keys, args, ok := c.splitScriptArgs(cmd)
	if !ok {
		return
	}

	result, err := c.server.lua.EvalSHA(sha, keys, args)
	if err != nil {
		c.writeError(fmt.Sprintf("%v", err))
		return
	}

	c.writeResult(result)
}

// splitScriptArgs splits EVAL/EVALSHA arguments into KEYS and ARGV
func (c *Client) splitScriptArgs(cmd *protocol.Command) (keys, args []string, ok bool) {
	numKeys, err := strconv.Atoi(string(cmd.Args[1]))
	if err != nil {
		c.writeError("ERR value is not an integer or out of range")
		return nil, nil, false
	}

	if numKeys < 0 || len(cmd.Args) < 2+numKeys {
		c.writeError("ERR Number of keys can't be negative or greater than args")
		return nil, nil, false
	}

	keys = make([]string, numKeys)
	for i := 0; i < numKeys; i++ {
		keys[i] = string(cmd.Args[2+i])
	}

	args = make([]string, len(cmd.Args)-2-numKeys)
	for i := 0; i < len(args); i++ {
		args[i] = string(cmd.Args[2+numKeys+i])
	}
	return keys, args, true
}

func (c *Client) handleScript(cmd *protocol.Command) {
	if len(cmd.Args) == 0 {
		c.writeError("ERR wrong number of arguments for 'script' command")
		return
	}

	subCmd := strings.ToUpper(string(cmd.Args[0]))

	switch subCmd {
	case "LOAD":
		if len(cmd.Args) != 2 {
			c.writeError("ERR wrong number of arguments for 'script load' command")
			return
		}
		sha := c.server.lua.LoadScript(string(cmd.Args[1]))
		c.writeBulkString([]byte(sha))

	case "EXISTS":
		if len(cmd.Args) < 2 {
			c.writeError("ERR wrong number of arguments for 'script exists' command")
			return
		}
		hashes := make([]string, len(cmd.Args)-1)
		for i := 1; i < len(cmd.Args); i++ {
			hashes[i-1] = string(cmd.Args[i])
		}
		results := c.server.lua.ScriptExists(hashes)

		array := make([]interface{}, len(results))
		for i, exists := range results {
			if exists {
				array[i] = int64(1)
			} else {
				array[i] = int64(0)
			}
		}
		c.writeArray(array)

	case "FLUSH":
		if len(cmd.Args) != 1 {
			c.writeError("ERR wrong number of arguments for 'script flush' command")
			return
		}
		c.server.lua.ScriptFlush()
		c.writeString("OK")

	default:
		c.writeError(fmt.Sprintf("ERR unknown SCRIPT subcommand '%s'", subCmd))
	}
}

// Response writers

func (c *Client) writeString(s string) {
	c.writer.WriteSimpleString(s)
	c.writer.Flush()
}

func (c *Client) writeError(s string) {
	c.server.mu.Lock()
	c.server.errorCount++
	c.server.mu.Unlock()
	// Strip newlines which would break RESP framing
	cleanMsg := strings.ReplaceAll(s, "\n", " ")
	cleanMsg = strings.ReplaceAll(cleanMsg, "\r", " ")
	c.writer.WriteError(cleanMsg)
	c.writer.Flush()
}

func (c *Client) writeBulkString(data []byte) {
	c.writer.WriteBulkString(data)
	c.writer.Flush()
}

func (c *Client) writeNull() {
	c.writer.WriteNullBulkString()
	c.writer.Flush()
}

func (c *Client) writeInteger(i int64) {
	c.writer.WriteInteger(i)
	c.writer.Flush()
}

func (c *Client) writeArray(array []interface{}) {
	values := make([]protocol.Value, len(array))
	for i, item := range array {
		values[i] = c.convertToValue(item)
	}
	c.writer.WriteArray(values)
	c.writer.Flush()
}

func (c *Client) convertToValue(item interface{}) protocol.Value {
	switch v := item.(type) {
	case nil:
		return protocol.Value{Type: protocol.TypeBulkString, IsNull: true}
	case string:
		return protocol.Value{Type: protocol.TypeBulkString, Data: []byte(v)}
	case int64:
		return protocol.Value{Type: protocol.TypeInteger, Integer: v}
	case int:
		return protocol.Value{Type: protocol.TypeInteger, Integer: int64(v)}
	case bool:
		if v {
			return protocol.Value{Type: protocol.TypeInteger, Integer: 1}
		}
		return protocol.Value{Type: protocol.TypeBulkString, IsNull: true}
	case []byte:
		return protocol.Value{Type: protocol.TypeBulkString, Data: v}
	default:
		return protocol.Value{Type: protocol.TypeBulkString, Data: []byte(fmt.Sprintf("%v", v))}
	}
}

func (c *Client) writeResult(result interface{}) {
	switch v := result.(type) {
	case nil:
		c.writeNull()
	case bool:
		if v {
			c.writeInteger(1)
		} else {
			c.writeNull()
		}
	case string:
		c.writeBulkString([]byte(v))
	case int64:
		c.writeInteger(v)
	case float64:
		// Convert float to string for Redis compatibility
		c.writeBulkString([]byte(fmt.Sprintf("%.17g", v)))
	case []interface{}:
		c.writeArray(v)
	case map[string]interface{}:
		// Convert map to array of key-value pairs
		array := make([]interface{}, 0, len(v)*2)
		for key, value := range v {
			array = append(array, key, value)
		}
		c.writeArray(array)
	default:
		c.writeBulkString([]byte(fmt.Sprintf("%v", v)))
	}
}
