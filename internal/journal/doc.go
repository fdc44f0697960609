// Package journal persists gateway events to a local SQLite database so an
// operator can inspect recent activity after the fact. The journal is
// append-only; the tail subcommand reads it newest-first.
package journal
