package storage

// Package storage keeps the audit trail of control actions: HTTP endpoint
// calls and in-chat commands. The file driver is dependency-free; the
// sqlite driver is compiled in with -tags sqlite.
