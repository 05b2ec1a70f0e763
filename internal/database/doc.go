// Package database provides the local replica's data access layer.
//
// # Architecture
//
// The database layer is organized into domain-specific sub-packages:
//
//	database/
//	├── database.go      # Connection setup and migrations
//	├── replica/         # Idempotent upserts for clients, appointments, line items, sales
//	├── sales/           # Per-SKU sales aggregates for forecasting
//	├── synclog/         # Backfill run checkpoints
//	└── summaries/       # Materialized per-client visit and tox rollups
//
// # Using Sub-packages
//
// Each sub-package provides a Repository type bound to a *gorm.DB, which may
// be a transaction handle:
//
//	db, err := database.NewDatabase("./clinicsync.db")
//
//	err = db.DB.Transaction(func(tx *gorm.DB) error {
//		repo := replica.NewRepository(tx)
//		_, _, err := repo.UpsertAppointment(&appt)
//		return err
//	})
//
// # Write paths
//
// Every replica write is either an upsert keyed by the platform's external id
// or a delete-then-insert keyed by the parent row id. Both are safe to repeat
// when a crashed invocation replays a page.
package database
