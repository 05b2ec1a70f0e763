package config

const (
	// DefaultDatabasePath is the default path for the local replica database
	DefaultDatabasePath = "./clinicsync.db"

	// DefaultPlatformURL is the scheduling platform's GraphQL query endpoint
	DefaultPlatformURL = "https://dashboard.boulevard.io/api/2020-01/admin"
)
