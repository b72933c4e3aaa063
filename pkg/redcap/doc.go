// Package redcap describes the data a REDCap project exposes to the ETL
// process: project settings, field metadata, instruments, events, and
// records. It also contains two Source implementations, an HTTP client for
// the REDCap API and a directory of JSON exports for offline runs.
//
// The transformation core depends only on the types in this package, never
// on how they were fetched.
package redcap
