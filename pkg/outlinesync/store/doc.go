// Package store defines the staging-store contract the ingestion core writes
// through, and ships three adapters for it.
//
// # Contract
//
//   - UpsertSubject: create or update a subject keyed on (code, qualification, board)
//   - TopicLevels: the distinct levels present for a subject
//   - DeleteTopics: delete up to limit topics of one level, returning the count
//   - InsertTopics: insert rows atomically, returning them with identities
//   - UpdateTopicParent: set one topic's parent identity
//
// InsertTopics either inserts every row of the call or none of them. When
// a store rejects a batch for exceeding its execution-time limit, the adapter
// returns *TimeoutError; callers test for it with IsTimeout and never inspect
// error text.
//
// # Adapters
//
//   - MemoryStore: in-process fake with a configurable timeout threshold
//   - SQLiteStore: local staging store on modernc.org/sqlite
//   - PostgresStore: hosted staging store on pgx, mapping SQLSTATE 57014
//
// Adapters that can run several calls in one transaction implement
// Transactor.
package store
