// Package all registers every built-in load target.
//
// Importing it for side effects runs the init function of each target
// package, which registers its factory with pkg/adapter:
//
//   - "csv"       (pkg/adapters/csv)
//   - "duckdb"    (pkg/adapters/duckdb)
//   - "mysql"     (pkg/adapters/mysql)
//   - "postgres"  (pkg/adapters/postgres)
//   - "sqlite"    (pkg/adapters/sqlite)
//   - "sqlserver" (pkg/adapters/sqlserver)
//
// Typical usage:
//
//	import _ "github.com/leapstack-labs/redcapetl/pkg/adapters/all"
package all

import (
	_ "github.com/leapstack-labs/redcapetl/pkg/adapters/csv"
	_ "github.com/leapstack-labs/redcapetl/pkg/adapters/duckdb"
	_ "github.com/leapstack-labs/redcapetl/pkg/adapters/mysql"
	_ "github.com/leapstack-labs/redcapetl/pkg/adapters/postgres"
	_ "github.com/leapstack-labs/redcapetl/pkg/adapters/sqlite"
	_ "github.com/leapstack-labs/redcapetl/pkg/adapters/sqlserver"
)
