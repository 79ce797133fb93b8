// Package queue persists scan jobs in SQLite and exposes the mutation façade
// every other component goes through.
//
// The Store manages the database connection, schema migrations, the atomic
// claim used for worker leasing, and narrow field updates. The Queue wraps the
// Store, re-reads each row after writing, and publishes a typed domain event
// for every state change. Back-capture correlation lives here too: a TTL map
// ties a later back-side capture to the front scan that expects it.
//
// Jobs are never deleted; accepted and failed are terminal states. Treat this
// package as the single source of truth for job lifecycle semantics.
package queue
