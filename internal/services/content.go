package services

import (
	"context"

	"github.com/storytrim/server/internal/errno"
)

// ContentService answers which prompts a user has trimmed a chapter with.
type ContentService struct {
	trims TrimStore
}

func NewContentService(trims TrimStore) *ContentService {
	return &ContentService{trims: trims}
}

// GetChapterTrimStatus matches by cloud chapter id or, for local books, by
// book and chapter hash.
func (s *ContentService) GetChapterTrimStatus(ctx context.Context, userID, chapterID uint, bookMD5, chapterMD5 string) ([]uint, error) {
	if chapterID == 0 && (bookMD5 == "" || chapterMD5 == "") {
		return nil, errno.ErrParam.WithMsg("chapter_id or book_md5 with chapter_md5 is required")
	}
	ids, err := s.trims.ChapterTrimmedPromptIDs(userID, chapterID, bookMD5, chapterMD5)
	if err != nil {
		return nil, errno.ErrInternal.Wrap(err)
	}
	if ids == nil {
		ids = []uint{}
	}
	return ids, nil
}

func (s *ContentService) GetContentTrimStatus(ctx context.Context, userID uint, chapterMD5 string) ([]uint, error) {
	if chapterMD5 == "" {
		return nil, errno.ErrParam
	}
	ids, err := s.trims.ContentTrimmedPromptIDs(userID, chapterMD5)
	if err != nil {
		return nil, errno.ErrInternal.Wrap(err)
	}
	if ids == nil {
		ids = []uint{}
	}
	return ids, nil
}
