// Package database provides the data access layer for the application.
//
// # Architecture
//
// The database layer is organized into domain-specific sub-packages:
//
//	database/
//	├── database.go      # Connection setup, migrations, system prompt seeding
//	├── books/           # Books, chapters, chapter contents, reading history
//	├── prompts/         # Trimming presets
//	├── trims/           # Cached trim results and per-user trim records
//	├── tasks/           # Background trim tasks and their items
//	├── points/          # Balances and the points ledger
//	└── users/           # User accounts
//
// # Using Sub-packages
//
// Each sub-package provides a Repository type with domain-specific operations:
//
//	// Initialize database connection
//	db, err := database.NewDatabase("./storytrim.db")
//
//	// Create domain-specific repositories
//	booksRepo := books.NewRepository(db.DB, store)
//	trimsRepo := trims.NewRepository(db.DB)
//
//	// Use repositories
//	book, err := booksRepo.GetBookForUser(userID, bookID)
//	ids, err := trimsRepo.ContentTrimmedPromptIDs(userID, chapterMD5)
//
// The books repository is the only one that touches object storage:
// chapter bodies are stored once per content hash and shared across books
// and users.
//
// # Interface Implementations
//
// Each sub-package implements the store interface its service declares:
//
//   - books.Repository: services.BookStore, exporters.ContentOpener, tasks.OrphanContentStore
//   - prompts.Repository: services.PromptStore
//   - trims.Repository: services.TrimStore
//   - tasks.Repository: services.TaskStore
//   - points.Repository: services.PointsStore
//   - users.Repository: auth.UserStore
//
// # Adding a New Domain
//
//  1. Create a new sub-package: internal/database/<domain>/
//  2. Define a Repository struct with a *gorm.DB field
//  3. Add NewRepository(db *gorm.DB) constructor
//  4. Add the entity to the AutoMigrate list in NewDatabase
//  5. Add compile-time interface check in internal/interfaces/checks.go
package database
