package http

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/storytrim/server/internal/errno"
	"github.com/storytrim/server/internal/exporters"
	"github.com/storytrim/server/internal/http/respond"
	"github.com/storytrim/server/internal/logging"
	"github.com/storytrim/server/internal/services"
)

const defaultMaxUploadBytes = 64 << 20

// BooksController serves the user's shelf: syncing books up from clients,
// reading them back and exporting them.
type BooksController struct {
	books     *services.BookService
	imports   *services.ImportService
	tasks     *services.TaskService
	maxUpload int64
}

func NewBooksController(books *services.BookService, imports *services.ImportService, tasks *services.TaskService, maxUpload int64) *BooksController {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	return &BooksController{books: books, imports: imports, tasks: tasks, maxUpload: maxUpload}
}

func (bc *BooksController) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("", bc.List)
	group.POST("/sync/local", bc.SyncLocal)
	group.POST("/sync/zip", bc.SyncZip)
	group.POST("/import", bc.Import)
	group.GET("/:id", bc.Detail)
	group.DELETE("/:id", bc.Delete)
	group.GET("/:id/progress", bc.GetProgress)
	group.PUT("/:id/progress", bc.UpdateProgress)
	group.GET("/:id/content.zip", bc.ExportZip)
	group.GET("/:id/content.db.zip", bc.ExportDB)
	group.GET("/:id/full-trim", bc.FullTrimStatus)

	// Paths used by the mobile and Android clients.
	group.POST("/sync-local", bc.SyncLocal)
	group.POST("/upload-zip", bc.SyncZip)
	group.POST("/:id/progress", bc.UpdateProgress)
	group.GET("/:id/content-zip", bc.ExportZip)
	group.GET("/:id/content-db", bc.ExportDB)
	group.GET("/:id/full-trim-status", bc.FullTrimStatus)
}

func (bc *BooksController) List(c *gin.Context) {
	books, err := bc.books.ListUserBooks(c.Request.Context(), GetUserID(c))
	if err != nil {
		respond.Fail(c, err)
		return
	}
	respond.OK(c, books)
}

func (bc *BooksController) Detail(c *gin.Context) {
	bookID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	detail, err := bc.books.GetBookDetail(c.Request.Context(), GetUserID(c), bookID)
	if err != nil {
		respond.Fail(c, err)
		return
	}
	respond.OK(c, detail)
}

func (bc *BooksController) Delete(c *gin.Context) {
	bookID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := bc.books.DeleteBook(c.Request.Context(), GetUserID(c), bookID); err != nil {
		respond.Fail(c, err)
		return
	}
	respond.OK(c, nil)
}

// SyncLocal handles POST /books/sync/local with the whole book as JSON.
func (bc *BooksController) SyncLocal(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, bc.maxUpload)

	var req services.SyncLocalBookReq
	if !bindJSON(c, &req) {
		return
	}
	resp, err := bc.books.SyncLocalBook(c.Request.Context(), GetUserID(c), &req)
	if err != nil {
		respond.Fail(c, err)
		return
	}
	respond.OK(c, resp)
}

// SyncZip handles POST /books/sync/zip. The zip comes either as the
// multipart field "file" or as the raw request body; book metadata is in
// the query string.
func (bc *BooksController) SyncZip(c *gin.Context) {
	var meta services.SyncLocalBookZipReq
	if err := c.ShouldBindQuery(&meta); err != nil {
		respond.BadRequest(c, "book_name, book_md5 and total_chapters are required")
		return
	}

	body, closeBody, err := bc.uploadBody(c)
	if err != nil {
		respond.BadRequest(c, err.Error())
		return
	}
	defer closeBody()

	resp, err := bc.books.SyncLocalBookZip(c.Request.Context(), GetUserID(c), &meta, body)
	if err != nil {
		respond.Fail(c, err)
		return
	}
	respond.OK(c, resp)
}

// Import handles POST /books/import with a TXT file in the "file" field.
func (bc *BooksController) Import(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, bc.maxUpload)

	header, err := c.FormFile("file")
	if err != nil {
		respond.BadRequest(c, "file is required")
		return
	}
	f, err := header.Open()
	if err != nil {
		respond.Fail(c, errno.ErrInternal.Wrap(err))
		return
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		respond.Fail(c, errno.ErrInternal.Wrap(err))
		return
	}

	result, err := bc.imports.ImportTXT(c.Request.Context(), GetUserID(c), header.Filename, raw)
	if err != nil {
		respond.Fail(c, err)
		return
	}
	respond.OK(c, result)
}

func (bc *BooksController) uploadBody(c *gin.Context) (io.Reader, func(), error) {
	limited := http.MaxBytesReader(c.Writer, c.Request.Body, bc.maxUpload)
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		return limited, func() {}, nil
	}

	c.Request.Body = limited
	header, err := c.FormFile("file")
	if err != nil {
		return nil, nil, fmt.Errorf("file is required")
	}
	f, err := header.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open upload")
	}
	return f, func() { f.Close() }, nil
}

type progressRequest struct {
	ChapterID uint `json:"chapter_id" binding:"required"`
	PromptID  uint `json:"prompt_id"`
}

func (bc *BooksController) GetProgress(c *gin.Context) {
	bookID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	history, err := bc.books.GetReadingProgress(c.Request.Context(), GetUserID(c), bookID)
	if err != nil {
		respond.Fail(c, err)
		return
	}
	if history == nil {
		respond.OK(c, nil)
		return
	}
	respond.OK(c, history)
}

func (bc *BooksController) UpdateProgress(c *gin.Context) {
	bookID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req progressRequest
	if !bindJSON(c, &req) {
		return
	}
	err := bc.books.UpdateReadingProgress(c.Request.Context(), GetUserID(c), bookID, req.ChapterID, req.PromptID)
	if err != nil {
		respond.Fail(c, err)
		return
	}
	respond.OK(c, nil)
}

func (bc *BooksController) ExportZip(c *gin.Context) {
	bc.export(c, bc.books.ZipExporter(), "content.zip")
}

func (bc *BooksController) ExportDB(c *gin.Context) {
	bc.export(c, bc.books.DBExporter(), "content.db.zip")
}

func (bc *BooksController) export(c *gin.Context, exporter exporters.BookExporter, suffix string) {
	bookID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="book-%d-%s"`, bookID, suffix))

	err := bc.books.ExportBook(c.Request.Context(), GetUserID(c), bookID, exporter, c.Writer)
	if err == nil {
		return
	}
	if c.Writer.Written() {
		// Too late for an envelope; drop the connection mid-stream.
		logging.With("http").Error().Err(err).Uint("book_id", bookID).Msg("Export failed after first byte")
		c.Abort()
		return
	}
	c.Writer.Header().Del("Content-Type")
	c.Writer.Header().Del("Content-Disposition")
	respond.Fail(c, err)
}

func (bc *BooksController) FullTrimStatus(c *gin.Context) {
	bookID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	status, err := bc.tasks.GetBookFullTrimStatus(c.Request.Context(), GetUserID(c), bookID)
	if err != nil {
		respond.Fail(c, err)
		return
	}
	respond.OK(c, status)
}
