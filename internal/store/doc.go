// Package store owns the durable rotation state: content items with
// usage metadata, persisted schedule entries, and the append-only
// publish log. It is the only writer of used_count/last_used.
package store
