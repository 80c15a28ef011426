// Package app holds the daemon-side consent service that sits between the
// consent controller and the transport adapters.
//
// Responsibilities:
// - Serialize consent actions and keep the last failure per action.
// - Own the caller-side subscriber list, updated from consent changes.
// - Publish consent events to the in-memory feed and an optional sink.
//
// Non-responsibilities:
// - JSON-RPC/HTTP protocol handling and endpoint-level mapping.
// - The consent action itself, which lives in domains/consent/usecase.
package app
