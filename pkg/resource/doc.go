/*
Package resource provides a small SQLite-backed document store for the
toolkit's resource records. Records are JSON documents addressed by
(collection, id); the store validates payloads, tracks created/updated
timestamps, and serves reads through prepared statements so it can sit on
the server's hot path.
*/
package resource
