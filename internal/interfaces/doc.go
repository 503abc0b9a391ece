// Package interfaces documents the core abstractions used throughout the application.
//
// # Interface Categories
//
// ## Data Access Interfaces
//
//   - BookStore, PromptStore, TrimStore, TaskStore, PointsStore: what the
//     services need from the repositories (internal/services/interfaces.go)
//   - UserStore: account persistence for auth (internal/auth/service.go)
//   - storage.Client: content-addressed chapter bodies (internal/storage/client.go)
//
// ## Export Interfaces
//
//   - BookExporter: writes a book bundle as a download (internal/exporters/generic.go)
//   - ContentOpener: streams stored chapter bodies to an exporter
//
// ## Background Work Interfaces
//
//   - TaskEnqueuer: hands persisted trim tasks to the queue (internal/services/interfaces.go)
//   - Runner: what queue processors call back into (internal/tasks/trim.go)
//   - StaleTaskReaper, OrphanSweeper: maintenance jobs (internal/scheduler/maintenance.go)
//
// # Adding a New Storage Backend
//
//  1. Implement storage.Client in internal/storage/providers/<name>/
//
//     type Client struct { ... }
//
//     func (c *Client) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
//     func (c *Client) Get(ctx context.Context, key string) (io.ReadCloser, error)
//     func (c *Client) Stat(ctx context.Context, key string) (*storage.ObjectInfo, error)
//     func (c *Client) Exists(ctx context.Context, key string) (bool, error)
//     func (c *Client) Delete(ctx context.Context, key string) error
//
//     Get and Stat report missing objects as storage.ErrNotFound.
//
//  2. Add a StorageBackend constant in internal/config and a case in
//     providers.New.
//
// # Adding a New Export Format
//
//  1. Implement exporters.BookExporter next to ZipExporter.
//
//  2. Expose it from BookService and mount a route in internal/http/books.go
//     that calls BookService.ExportBook with it.
//
// # Compile-Time Interface Checks
//
// All implementations should include compile-time checks to ensure they satisfy
// their interfaces. This catches missing methods at compile time rather than runtime:
//
//	var _ SomeInterface = (*MyImplementation)(nil)
//
// See checks.go for the full list.
package interfaces
