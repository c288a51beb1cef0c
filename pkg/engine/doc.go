/*
Package engine defines the execution engines a Tusk worker runs queries on.

An Engine receives a query descriptor and emits its result as ordered
columnar batches, reporting progress as it goes. Engines register themselves
by name and workers pick one from configuration:

	e, err := engine.New("sqlite", engine.Config{DSN: "/var/lib/tusk/data.db"})

Two engines are built in. "sqlite" runs SQL through database/sql and
mattn/go-sqlite3, binding query params as named parameters. "synthetic"
generates deterministic rows from a key=value description and is used by
development clusters and tests.
*/
package engine
