// Package storage implements the two-tier snapshot store for option-chain
// open-interest data.
//
// Architecture:
//
//	┌─────────────┐     ┌──────────────┐     ┌───────────────┐
//	│  Snapshot   │────▶│     Live     │────▶│    Archive    │
//	│   Writer    │     │  partition   │     │   partition   │
//	└─────────────┘     └──────────────┘     └───────────────┘
//	                           │                     │
//	                        retention sweep       purge horizon
//
// Both partitions are DuckDB database files; the archive file is ATTACHed
// to every connection so cross-partition moves stay in SQL. The live
// partition enforces UNIQUE(timestamp, instrument); the archive is an
// append-mostly ledger without uniqueness constraints.
//
// Row lifecycle: written into the live partition, relocated to the archive
// once the contract has expired or the row has aged out of the live
// retention window, and permanently deleted once it passes the archive
// retention horizon. See the retention subpackage for the sweep itself.
//
// The schema has grown additively over the system's life (theta/vega, then
// implied volatility); migrations only ever add defaulted columns so older
// database files remain readable.
package storage
