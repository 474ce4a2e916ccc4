// Package tool is the caller-facing side of the payment tool worker.
//
// The package is split by concern:
//   - registry: the discovered tool catalog and relevance lookup
//   - extract: best-effort argument extraction from free text
//   - service: worker lifecycle, invocation and result rendering
//   - store: SQLite persistence for catalog snapshots and call history
//
// Wire-level concerns (framing, process supervision, request correlation)
// live in the rpc subpackage.
package tool
