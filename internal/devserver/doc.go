// Package devserver implements, at reduced fidelity, the remote sync API
// consumed by internal/client/sync/remoteapi: file/version metadata over
// Postgres, chunk payloads over an S3-compatible blob store, and JWT
// bearer auth with refresh-token rotation. It exists to give the sync
// engine something real to talk to in tests and local development, not
// to be a production server — grounded on the teacher's server/app.go,
// server/auth, and server/repositories packages, adapted from a gRPC
// vault service to the HTTP file-sync contract of spec.md §6.
package devserver
