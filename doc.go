// Package wwebjsapi is a WhatsApp session orchestration service. It owns one
// authenticated WhatsApp session end to end: pairing and connection lifecycle,
// normalization of inbound protocol traffic into canonical application
// messages, and an outbound send/edit API with destination normalization and
// typing humanization.
//
// # Architecture
//
// The service is organized around a session core with pipelines on either
// side of it:
//
//	┌────────────────────────────────────────┐
//	│             gateway/http               │  REST surface
//	│ (health, send, edit, avatar, /metrics) │
//	└────────────────────────────────────────┘
//	            ↓ calls
//	┌────────────────────────────────────────┐
//	│        outbound        inbound         │  Send/edit dispatch,
//	│      (pipelines over the session)      │  upsert normalization
//	└────────────────────────────────────────┘
//	            ↓ borrows socket
//	┌────────────────────────────────────────┐
//	│               session                  │  Lifecycle state machine:
//	│   (QR → open → close, reinit, creds)   │  socket ownership
//	└────────────────────────────────────────┘
//	            ↓ wire.Socket
//	┌────────────────────────────────────────┐
//	│              wire/meow                 │  whatsmeow adapter
//	└────────────────────────────────────────┘
//
// Inbound raw messages are normalized by the mapper into canonical messages
// (address, content kind, media upload through the files client, timestamp
// shims) and fanned out as events by the emitters (HTTP endpoints, NATS).
// Raw payloads, credentials and audit records persist in sqlite through
// storage/sqlitestore; the whatsmeow credential container shares the same
// database.
//
// Every core operation writes an audit record, reports prometheus metrics
// through the metric registry, and logs via an injected slog.Logger.
package wwebjsapi
