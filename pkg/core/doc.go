// Package core defines the shared language of the redcapetl system.
//
// This package contains:
//   - Field types and specs used by rules, schemas and adapters
//   - Rows types describing how table rows derive from a record
//   - The Error type that crosses the pipeline boundary
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
