// Package replication implements both sides of the master/replica link.
//
// On the master side, Session tracks each client connection through the
// REPLCONF/PSYNC handshake and Master fans the write stream out to every
// registered replica, each behind its own buffered writer so a slow
// replica cannot stall the rest.
//
// On the replica side, Client dials the master, performs the handshake
// (PING, REPLCONF listening-port, REPLCONF capa, PSYNC ? -1), loads the
// full-resync snapshot and then applies the command stream, advancing the
// replication offset by the encoded length of every frame it reads.
package replication
