// Package integration runs record-sync pipelines end to end: the application is
// built from a YAML configuration, served on a real port and driven through its
// HTTP API while records are written to the source store.
package integration
