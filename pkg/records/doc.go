// Package records is a small item store over SQLite with an HTTP
// front. It is a standalone demo service, independent of the relay.
package records
