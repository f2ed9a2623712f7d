// Package storage persists jobsman's durable state in SQLite:
//
//   - jm_jobs: job definitions (the single source of truth)
//   - jm_update_info: reload markers with before/after job-set snapshots
//   - jm_syslog: append-only log sink rows
//
// Definition writes and marker inserts share one transaction so a reload
// request can never be lost between the two.
package storage
