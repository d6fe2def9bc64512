// Package extraction provides the fisheries extraction and aggregation engine.
//
// An extraction turns operational fishing data (trips, stations, species
// lists) into one table per sheet of an exchange format, reads those tables
// page by page, exports them as CSV or ZIP, or stores them as a product that
// can be read later without recomputation.
//
// # Types
//
// Every extraction is described by a [Type]:
//
//   - Live formats (RDB, FREE) are computed from operational data by an
//     [Executor] registered in the [Registry].
//   - Aggregations (AGG_RDB) group a source by space, time and technical
//     dimensions. The source is the live format they are named after, or a
//     stored product.
//   - Products are persisted results; their tables are read as is.
//
// Built-in types carry a stable negative id derived from their kind, format
// and version. Loose references such as {Format: "rdb"} are resolved by the
// [Resolver], which fails with [ErrNotFound] or [ErrAmbiguous].
//
// # Execution
//
// The [Service] is the entry point:
//
//  1. The type, its parent chain, the filter and the strata are validated
//     before any table is created.
//  2. An execution slot is taken from the [ExecutionLimiter].
//  3. The type is materialized in a single transaction into a [Context].
//  4. The context is read, dumped or saved, then released through the
//     [CleanupPool], which drops every non-persistent table exactly once.
//
// Tables are named {prefix}_{sheet}_{execution id}_{random}, with the
// prefixes ext (live), agg (aggregation) and p (product).
//
// # Filters
//
// A [Filter] restricts rows with [Criterion] values and columns with
// include/exclude lists. A criterion applies to its sheet, or to the
// filter's sheet when it names none; criteria without any sheet apply to
// every sheet having the column. Hidden columns are never exported, and
// removing columns from a distinct-sensitive sheet forces DISTINCT.
//
// # No data
//
// An execution that produces no row fails with [ErrNoData]. Saving such an
// execution stores an empty product, and aggregation reads return empty
// results; live reads and dumps return the error.
//
// # Error Handling
//
// Errors are classified with sentinels and mapped to coded user messages by
// [MapError] (EXT001-EXT007, ERR000).
package extraction
