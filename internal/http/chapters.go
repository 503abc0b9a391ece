package http

import (
	"github.com/gin-gonic/gin"

	"github.com/storytrim/server/internal/http/respond"
	"github.com/storytrim/server/internal/services"
)

// ChaptersController reads chapters and their trims, by cloud chapter id or
// by content hash for books that only live on a client.
type ChaptersController struct {
	books    *services.BookService
	contents *services.ContentService
}

func NewChaptersController(books *services.BookService, contents *services.ContentService) *ChaptersController {
	return &ChaptersController{books: books, contents: contents}
}

func (cc *ChaptersController) RegisterChapterRoutes(group *gin.RouterGroup) {
	group.POST("/content", cc.Content)
	group.POST("/trimmed", cc.Trimmed)
	group.POST("/trim", cc.Trimmed)
	group.POST("/status", cc.ChapterStatus)
	group.POST("/sync-status", cc.SyncStatusByBook)
}

func (cc *ChaptersController) RegisterContentRoutes(group *gin.RouterGroup) {
	group.POST("/trimmed", cc.ContentsTrimmed)
	group.POST("/trim", cc.ContentsTrimmed)
	group.POST("/status", cc.ContentStatus)
	group.POST("/sync-status", cc.SyncStatus)
}

type chapterIDsRequest struct {
	IDs      []any `json:"ids" binding:"required"`
	PromptID uint  `json:"prompt_id"`
}

func (cc *ChaptersController) bindIDs(c *gin.Context, needPrompt bool) ([]uint, uint, bool) {
	var req chapterIDsRequest
	if !bindJSON(c, &req) {
		return nil, 0, false
	}
	ids, ok := parseIDList(req.IDs)
	if !ok {
		respond.BadRequest(c, "invalid ids")
		return nil, 0, false
	}
	if needPrompt && req.PromptID == 0 {
		respond.BadRequest(c, "prompt_id is required")
		return nil, 0, false
	}
	return ids, req.PromptID, true
}

// Content handles POST /chapters/content.
func (cc *ChaptersController) Content(c *gin.Context) {
	ids, _, ok := cc.bindIDs(c, false)
	if !ok {
		return
	}
	res, err := cc.books.GetChaptersContent(c.Request.Context(), GetUserID(c), ids)
	if err != nil {
		respond.Fail(c, err)
		return
	}
	respond.OK(c, res)
}

// Trimmed handles POST /chapters/trimmed.
func (cc *ChaptersController) Trimmed(c *gin.Context) {
	ids, promptID, ok := cc.bindIDs(c, true)
	if !ok {
		return
	}
	res, err := cc.books.GetChaptersTrimmed(c.Request.Context(), GetUserID(c), ids, promptID)
	if err != nil {
		respond.Fail(c, err)
		return
	}
	respond.OK(c, res)
}

type chapterStatusRequest struct {
	ChapterID  uint   `json:"chapter_id"`
	BookMD5    string `json:"book_md5"`
	ChapterMD5 string `json:"chapter_md5"`
}

// ChapterStatus handles POST /chapters/status: which prompts the user has
// trimmed this chapter with.
func (cc *ChaptersController) ChapterStatus(c *gin.Context) {
	var req chapterStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	ids, err := cc.contents.GetChapterTrimStatus(c.Request.Context(), GetUserID(c), req.ChapterID, req.BookMD5, req.ChapterMD5)
	if err != nil {
		respond.Fail(c, err)
		return
	}
	respond.OK(c, gin.H{"prompt_ids": ids})
}

type contentsTrimmedRequest struct {
	MD5s     []string `json:"md5s" binding:"required"`
	PromptID uint     `json:"prompt_id" binding:"required"`
}

// ContentsTrimmed handles POST /contents/trimmed.
func (cc *ChaptersController) ContentsTrimmed(c *gin.Context) {
	var req contentsTrimmedRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := cc.books.GetContentsTrimmed(c.Request.Context(), GetUserID(c), req.MD5s, req.PromptID)
	if err != nil {
		respond.Fail(c, err)
		return
	}
	respond.OK(c, res)
}

type contentStatusRequest struct {
	ChapterMD5 string `json:"chapter_md5" binding:"required"`
}

// ContentStatus handles POST /contents/status.
func (cc *ChaptersController) ContentStatus(c *gin.Context) {
	var req contentStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	ids, err := cc.contents.GetContentTrimStatus(c.Request.Context(), GetUserID(c), req.ChapterMD5)
	if err != nil {
		respond.Fail(c, err)
		return
	}
	respond.OK(c, gin.H{"prompt_ids": ids})
}

type syncStatusRequest struct {
	MD5      string   `json:"md5"`
	PromptID uint     `json:"prompt_id"`
	MD5s     []string `json:"md5s"`
}

// SyncStatus handles POST /contents/sync-status. With {md5, prompt_id} it
// records that the user has read a trim the client fetched by hash; with
// {md5s} it returns {trimmed_map: {md5: [prompt_id]}}.
func (cc *ChaptersController) SyncStatus(c *gin.Context) {
	var req syncStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.MD5s != nil {
		trimmed, err := cc.books.SyncTrimStatusByMD5s(c.Request.Context(), GetUserID(c), req.MD5s)
		if err != nil {
			respond.Fail(c, err)
			return
		}
		respond.OK(c, gin.H{"trimmed_map": trimmed})
		return
	}
	if err := cc.books.RegisterTrimStatusByMD5(c.Request.Context(), GetUserID(c), req.MD5, req.PromptID); err != nil {
		respond.Fail(c, err)
		return
	}
	respond.OK(c, nil)
}

type bookSyncStatusRequest struct {
	BookID uint `json:"book_id" binding:"required"`
}

// SyncStatusByBook handles POST /chapters/sync-status, returning
// {trimmed_map: {chapter_id: [prompt_id]}} for one of the user's books.
func (cc *ChaptersController) SyncStatusByBook(c *gin.Context) {
	var req bookSyncStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	trimmed, err := cc.books.SyncTrimStatusByBook(c.Request.Context(), GetUserID(c), req.BookID)
	if err != nil {
		respond.Fail(c, err)
		return
	}
	respond.OK(c, gin.H{"trimmed_map": trimmed})
}
