package config

const (
	// DefaultDatabasePath is the default path for the main application database
	DefaultDatabasePath = "./storytrim.db"

	// DefaultStorageDir is where the local storage backend keeps chapter objects
	DefaultStorageDir = "./data/objects"

	// DefaultRegisterBonus is the points balance granted to new accounts
	DefaultRegisterBonus = 100
)

// StorageBackend selects the object store implementation.
type StorageBackend string

const (
	StorageBackendLocal StorageBackend = "local"
	StorageBackendMinIO StorageBackend = "minio"
)
