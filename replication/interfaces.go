package replication

import "time"

// Logger interface for replication logging
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// MetricsCollector interface for replication metrics
type MetricsCollector interface {
	// RecordSyncDuration records the time taken for a full resync
	RecordSyncDuration(duration time.Duration)

	// RecordCommandProcessed records a replicated command applied locally
	RecordCommandProcessed(cmd string, duration time.Duration)

	// RecordNetworkBytes records network bytes transferred
	RecordNetworkBytes(bytes int64)

	// RecordReconnection records a reconnection event
	RecordReconnection()

	// RecordError records an error event
	RecordError(errorType string)

	// ReplicaConnected records a replica completing its handshake
	ReplicaConnected(addr string)

	// ReplicaDisconnected records a replica leaving the propagation set
	ReplicaDisconnected(addr string)

	// ReplicaAck records an acknowledged offset from a replica
	ReplicaAck(addr string, offset int64)

	// CommandPropagated records a frame fanned out to the replicas
	CommandPropagated(bytes int)
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, fields ...interface{}) {}
func (noopLogger) Info(msg string, fields ...interface{})  {}
func (noopLogger) Error(msg string, fields ...interface{}) {}

type noopMetrics struct{}

func (noopMetrics) RecordSyncDuration(time.Duration)             {}
func (noopMetrics) RecordCommandProcessed(string, time.Duration) {}
func (noopMetrics) RecordNetworkBytes(int64)                     {}
func (noopMetrics) RecordReconnection()                          {}
func (noopMetrics) RecordError(string)                           {}
func (noopMetrics) ReplicaConnected(string)                      {}
func (noopMetrics) ReplicaDisconnected(string)                   {}
func (noopMetrics) ReplicaAck(string, int64)                     {}
func (noopMetrics) CommandPropagated(int)                        {}
