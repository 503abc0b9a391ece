package interfaces

// This file contains compile-time interface implementation checks.
// These ensure that concrete types satisfy their interfaces at compile time,
// catching missing methods before runtime.
//
// To verify all checks pass: go build ./internal/interfaces/...

import (
	"github.com/storytrim/server/internal/auth"
	"github.com/storytrim/server/internal/database/books"
	"github.com/storytrim/server/internal/database/points"
	"github.com/storytrim/server/internal/database/prompts"
	taskrepo "github.com/storytrim/server/internal/database/tasks"
	"github.com/storytrim/server/internal/database/trims"
	"github.com/storytrim/server/internal/database/users"
	"github.com/storytrim/server/internal/exporters"
	"github.com/storytrim/server/internal/llm"
	"github.com/storytrim/server/internal/scheduler"
	"github.com/storytrim/server/internal/services"
	"github.com/storytrim/server/internal/storage"
	"github.com/storytrim/server/internal/storage/providers/local"
	"github.com/storytrim/server/internal/storage/providers/minio"
	"github.com/storytrim/server/internal/tasks"
)

// =============================================================================
// Data Access Layer
// =============================================================================

var _ services.BookStore = (*books.Repository)(nil)
var _ services.PromptStore = (*prompts.Repository)(nil)
var _ services.TrimStore = (*trims.Repository)(nil)
var _ services.TaskStore = (*taskrepo.Repository)(nil)
var _ services.PointsStore = (*points.Repository)(nil)
var _ auth.UserStore = (*users.Repository)(nil)

// =============================================================================
// Object Storage
// =============================================================================

var _ storage.Client = (*local.Client)(nil)
var _ storage.Client = (*minio.Client)(nil)

// =============================================================================
// Export Pipeline
// =============================================================================

var _ exporters.BookExporter = (*exporters.ZipExporter)(nil)
var _ exporters.BookExporter = (*exporters.SQLiteExporter)(nil)
var _ exporters.ContentOpener = (*books.Repository)(nil)

// =============================================================================
// External Services
// =============================================================================

var _ llm.Client = (*llm.OpenAIClient)(nil)

// =============================================================================
// Background Work
// =============================================================================

var _ services.TaskEnqueuer = (*tasks.Client)(nil)
var _ services.ChapterTrimmer = (*services.TrimService)(nil)
var _ tasks.Runner = (*services.TaskService)(nil)
var _ tasks.OrphanContentStore = (*books.Repository)(nil)
var _ scheduler.StaleTaskReaper = (*services.TaskService)(nil)
var _ scheduler.OrphanSweeper = (*tasks.Client)(nil)
var _ scheduler.OrphanSweeper = (*tasks.ContentSweeper)(nil)
var _ auth.BonusGranter = (*services.PointsService)(nil)
