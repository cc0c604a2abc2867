// Package cache implements the credential and connection configuration caches.
//
// Records are kept in a process-local Store and, when a durable backend is
// configured, mirrored to it. Every record is an envelope
//
//	{"created": <unix seconds>, "payload": <credential or config>}
//
// encoded with goccy/go-json, optionally zstd-compressed and optionally
// sealed with AES-GCM.
//
// Banks are hierarchical: purging a bank purges every bank nested below it,
// so clearing a connection bank also clears its session bank.
//
// Supported durable backends:
//
//   - session: no durable storage, records live for the process lifetime
//   - disk: one file per record below a base directory
//   - redis: one key per record
//   - s3: one object per record
package cache
