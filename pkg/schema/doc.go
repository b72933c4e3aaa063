// Package schema derives the relational target of an ETL run and maps
// REDCap records onto it.
//
// A Generator turns a checked rule set plus project metadata into a Schema:
// a forest of Tables and a LookupTable of choice labels. Table.CreateRow
// maps one export row into a typed Row for one table. Tables are immutable
// once generated; rows are created per record and handed to an adapter.
package schema
