package services

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"gorm.io/gorm"

	"github.com/storytrim/server/internal/entities"
	"github.com/storytrim/server/internal/errno"
	"github.com/storytrim/server/internal/llm"
	"github.com/storytrim/server/internal/logging"
)

//go:embed templates/trim_prompt.tmpl
var templatesFS embed.FS

const (
	defaultMockChunkRunes    = 10
	defaultMockInterval      = 100 * time.Millisecond
	defaultGenerationTimeout = 10 * time.Minute
)

// TrimOptions tunes TrimService. Zero values use the defaults.
type TrimOptions struct {
	MockChunkRunes int
	MockInterval   time.Duration
	// GenerationTimeout bounds a live trim, which keeps running after its
	// reader goes away so the charged result is still stored.
	GenerationTimeout time.Duration
	Pricing           llm.Pricing
}

// TrimStream delivers a trim as it is produced. Chunks is closed when the
// trim ends; Err then reports why it ended early, or nil.
type TrimStream struct {
	chunks chan string
	err    error
	done   chan struct{}
}

func newTrimStream() *TrimStream {
	return &TrimStream{chunks: make(chan string), done: make(chan struct{})}
}

// Chunks returns the channel of text pieces.
func (s *TrimStream) Chunks() <-chan string {
	return s.chunks
}

// Err blocks until the stream finished and returns its error.
func (s *TrimStream) Err() error {
	<-s.done
	return s.err
}

func (s *TrimStream) finish(err error) {
	s.err = err
	close(s.chunks)
	close(s.done)
}

func (s *TrimStream) send(ctx context.Context, chunk string) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case s.chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// TrimService produces trimmed chapters, either streamed to a reader or
// computed in the background by tasks. Results are cached per content hash
// and prompt, so a chapter shared by many books is trimmed once.
type TrimService struct {
	books   BookStore
	prompts PromptStore
	trims   TrimStore
	points  *PointsService
	client  llm.Client
	tmpl    *template.Template
	opts    TrimOptions
}

// NewTrimService creates a TrimService.
func NewTrimService(books BookStore, prompts PromptStore, trims TrimStore, points *PointsService, client llm.Client, opts TrimOptions) (*TrimService, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/trim_prompt.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse trim prompt template: %w", err)
	}
	if opts.MockChunkRunes <= 0 {
		opts.MockChunkRunes = defaultMockChunkRunes
	}
	if opts.MockInterval < 0 {
		opts.MockInterval = 0
	} else if opts.MockInterval == 0 {
		opts.MockInterval = defaultMockInterval
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = defaultGenerationTimeout
	}
	return &TrimService{
		books:   books,
		prompts: prompts,
		trims:   trims,
		points:  points,
		client:  client,
		tmpl:    tmpl,
		opts:    opts,
	}, nil
}

// trimTarget identifies the content being trimmed and who asked.
type trimTarget struct {
	userID       uint
	bookID       uint
	chapterID    uint
	bookMD5      string
	chapterMD5   string
	bookTitle    string
	chapterTitle string
	refType      string
	refID        string
}

func (t trimTarget) record(promptID uint) *entities.UserProcessedChapter {
	return &entities.UserProcessedChapter{
		UserID:     t.userID,
		PromptID:   promptID,
		BookID:     t.bookID,
		ChapterID:  t.chapterID,
		BookMD5:    t.bookMD5,
		ChapterMD5: t.chapterMD5,
	}
}

type renderedPrompt struct {
	system          string
	wordsRange      string
	targetRateRange string
}

func (s *TrimService) renderPrompt(prompt *entities.Prompt, raw string) (renderedPrompt, error) {
	rawLen := len([]rune(raw))
	data := struct {
		ModeName        string
		WordsRange      string
		TargetRateRange string
		PromptContent   string
	}{
		ModeName:        prompt.Name,
		WordsRange:      fmt.Sprintf("%d-%d", int(float64(rawLen)*prompt.TargetRatioMin), int(float64(rawLen)*prompt.TargetRatioMax)),
		TargetRateRange: fmt.Sprintf("%d-%d%%", int(prompt.TargetRatioMin*100), int(prompt.TargetRatioMax*100)),
		PromptContent:   prompt.PromptContent,
	}

	var buf bytes.Buffer
	if err := s.tmpl.Execute(&buf, data); err != nil {
		return renderedPrompt{}, fmt.Errorf("render trim prompt: %w", err)
	}
	return renderedPrompt{
		system:          buf.String(),
		wordsRange:      data.WordsRange,
		targetRateRange: data.TargetRateRange,
	}, nil
}

func (s *TrimService) resolvePrompt(promptID uint) (*entities.Prompt, error) {
	var (
		prompt *entities.Prompt
		err    error
	)
	if promptID == 0 {
		prompt, err = s.prompts.GetDefault()
	} else {
		prompt, err = s.prompts.GetByID(promptID)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrTrimInvalid.WithMsg("模式不存在")
		}
		return nil, errno.ErrInternal.Wrap(err)
	}
	return prompt, nil
}

// charge spends one point unless the user already paid for this content
// under this prompt. It reports whether a point was taken.
func (s *TrimService) charge(t trimTarget, prompt *entities.Prompt) (bool, error) {
	if t.userID == 0 {
		return false, nil
	}
	done, err := s.trims.HasUserProcessed(t.userID, prompt.ID, t.bookID, t.bookMD5, t.chapterMD5)
	if err != nil {
		return false, errno.ErrInternal.Wrap(err)
	}
	if done {
		return false, nil
	}
	err = s.points.SpendForTrim(t.userID, s.pointsInput(t, prompt))
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *TrimService) pointsInput(t trimTarget, prompt *entities.Prompt) PointsChangeInput {
	return PointsChangeInput{
		RefType: t.refType,
		RefID:   t.refID,
		Extra: map[string]string{
			"book_title":    t.bookTitle,
			"chapter_title": t.chapterTitle,
			"prompt_name":   prompt.Name,
			"book_md5":      t.bookMD5,
			"chapter_md5":   t.chapterMD5,
		},
	}
}

func (s *TrimService) refund(t trimTarget, prompt *entities.Prompt) {
	if err := s.points.RefundForTrim(t.userID, s.pointsInput(t, prompt)); err != nil {
		logging.With("trim").Error().Err(err).
			Uint("user_id", t.userID).
			Str("chapter_md5", t.chapterMD5).
			Msg("Failed to refund trim")
	}
}

func (s *TrimService) recordUserTrim(t trimTarget, promptID uint) error {
	if t.userID == 0 {
		return nil
	}
	return s.trims.RecordUserTrim(t.record(promptID))
}

// TrimStreamByMD5 trims content a client holds locally. raw may be empty
// when the content was synced before; it is then read from storage.
func (s *TrimService) TrimStreamByMD5(ctx context.Context, userID uint, chapterMD5, bookMD5, bookTitle, chapterTitle, raw string, promptID uint) (*TrimStream, error) {
	if chapterMD5 == "" {
		return nil, errno.ErrParam
	}
	if raw != "" && !matchesFingerprint(raw, chapterMD5) {
		return nil, errno.ErrTrimInvalid.WithMsg("MD5 与内容不符")
	}
	chapterMD5 = strings.ToLower(chapterMD5)
	t := trimTarget{
		userID:       userID,
		bookMD5:      bookMD5,
		chapterMD5:   chapterMD5,
		bookTitle:    bookTitle,
		chapterTitle: chapterTitle,
		refType:      "chapter_md5",
		refID:        chapterMD5,
	}
	return s.stream(ctx, t, raw, promptID)
}

// TrimStreamByChapterID trims a chapter of one of the user's cloud books. A zero
// bookID means the chapter's own book.
func (s *TrimService) TrimStreamByChapterID(ctx context.Context, userID, bookID, chapterID, promptID uint) (*TrimStream, error) {
	if bookID == 0 {
		chapter, err := s.books.GetChapterByID(chapterID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, errno.ErrChapterNotFound
			}
			return nil, errno.ErrInternal.Wrap(err)
		}
		bookID = chapter.BookID
	}
	book, err := s.books.GetBookForUser(userID, bookID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrBookNotFound
		}
		return nil, errno.ErrInternal.Wrap(err)
	}
	chapter, err := s.books.GetChapterByID(chapterID)
	if err != nil || chapter.BookID != book.ID {
		if err == nil || errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrChapterNotFound
		}
		return nil, errno.ErrInternal.Wrap(err)
	}

	t := trimTarget{
		userID:       userID,
		bookID:       book.ID,
		chapterID:    chapter.ID,
		bookMD5:      book.BookMD5,
		chapterMD5:   chapter.ChapterMD5,
		bookTitle:    book.Title,
		chapterTitle: chapter.Title,
		refType:      "chapter_id",
		refID:        fmt.Sprintf("%d", chapter.ID),
	}
	return s.stream(ctx, t, "", promptID)
}

func (s *TrimService) stream(ctx context.Context, t trimTarget, raw string, promptID uint) (*TrimStream, error) {
	prompt, err := s.resolvePrompt(promptID)
	if err != nil {
		return nil, err
	}

	cached, err := s.trims.GetResult(t.chapterMD5, prompt.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errno.ErrInternal.Wrap(err)
	}

	if cached == nil && raw == "" {
		raw, err = s.loadContent(ctx, t.chapterMD5)
		if err != nil {
			return nil, err
		}
	}

	charged, err := s.charge(t, prompt)
	if err != nil {
		return nil, err
	}

	if cached != nil {
		if err := s.recordUserTrim(t, prompt.ID); err != nil {
			logging.With("trim").Error().Err(err).Msg("Failed to record user trim")
		}
		return s.replay(ctx, cached.TrimContent), nil
	}

	rendered, err := s.renderPrompt(prompt, raw)
	if err != nil {
		if charged {
			s.refund(t, prompt)
		}
		return nil, errno.ErrInternal.Wrap(err)
	}

	// The generation outlives the request: a reader that leaves early has
	// already paid, so the result must still be stored.
	genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.GenerationTimeout)
	upstream, err := s.client.Stream(genCtx, rendered.system, raw)
	if err != nil {
		cancel()
		if charged {
			s.refund(t, prompt)
		}
		return nil, errno.ErrInternal.Wrap(err)
	}

	out := newTrimStream()
	go func() {
		defer cancel()
		s.pump(ctx, out, upstream, t, prompt, rendered, raw, charged)
	}()
	return out, nil
}

// pump forwards model output to out and stores the finished trim. Once the
// reader is gone the rest of the output is drained without forwarding. A
// trim that is not stored is refunded.
func (s *TrimService) pump(
	ctx context.Context,
	out *TrimStream,
	upstream llm.Stream,
	t trimTarget,
	prompt *entities.Prompt,
	rendered renderedPrompt,
	raw string,
	charged bool,
) {
	logger := logging.With("trim")
	defer upstream.Close()

	start := time.Now()
	var (
		full     strings.Builder
		usage    llm.Usage
		detached bool
	)
	fail := func(err error) {
		if charged {
			s.refund(t, prompt)
		}
		if !detached {
			out.finish(err)
		}
	}

	for {
		chunk, err := upstream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Warn().Err(err).Str("chapter_md5", t.chapterMD5).Bool("detached", detached).Msg("Trim stream interrupted")
			fail(errno.ErrInternal.Wrap(err))
			return
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if chunk.Content == "" {
			continue
		}
		full.WriteString(chunk.Content)
		if !detached && !out.send(ctx, chunk.Content) {
			detached = true
			out.finish(ctx.Err())
			logger.Debug().Str("chapter_md5", t.chapterMD5).Msg("Reader left, finishing trim in background")
		}
	}

	trimmed := full.String()
	if trimmed == "" {
		fail(errno.ErrInternal.WithMsg("模型未返回内容"))
		return
	}

	result := s.buildResult(t.chapterMD5, prompt.ID, raw, trimmed, rendered, usage, time.Since(start))
	if err := s.trims.SaveResult(result); err != nil {
		logger.Error().Err(err).Str("chapter_md5", t.chapterMD5).Msg("Failed to save trim result")
		fail(errno.ErrInternal.Wrap(err))
		return
	}
	if err := s.recordUserTrim(t, prompt.ID); err != nil {
		logger.Error().Err(err).Msg("Failed to record user trim")
	}
	if !detached {
		out.finish(nil)
	}
}

// replay streams a cached trim in small pieces so clients render it the
// same way as a live one.
func (s *TrimService) replay(ctx context.Context, content string) *TrimStream {
	out := newTrimStream()
	runes := []rune(content)
	size := s.opts.MockChunkRunes
	go func() {
		for i := 0; i < len(runes); i += size {
			end := min(i+size, len(runes))
			if !out.send(ctx, string(runes[i:end])) {
				out.finish(ctx.Err())
				return
			}
			if s.opts.MockInterval > 0 && end < len(runes) {
				select {
				case <-time.After(s.opts.MockInterval):
				case <-ctx.Done():
					out.finish(ctx.Err())
					return
				}
			}
		}
		out.finish(nil)
	}()
	return out
}

func (s *TrimService) buildResult(chapterMD5 string, promptID uint, raw, trimmed string, rendered renderedPrompt, usage llm.Usage, took time.Duration) *entities.TrimResult {
	trimRunes := len([]rune(trimmed))
	rawRunes := len([]rune(raw))
	rate := 0.0
	if rawRunes > 0 {
		rate = llm.Round2(float64(trimRunes) / float64(rawRunes) * 100)
	}
	cost := s.opts.Pricing.Cost(usage)

	return &entities.TrimResult{
		ChapterMD5:       chapterMD5,
		PromptID:         promptID,
		TrimContent:      trimmed,
		TrimContentWords: trimRunes,
		WordsRange:       rendered.wordsRange,
		TrimRate:         rate,
		TargetRateRange:  rendered.targetRateRange,
		TotalCost:        cost.Total,
		InputCost:        cost.Input,
		OutputCost:       cost.Output,
		TotalTokens:      usage.TotalTokens,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TakeTime:         took.Seconds(),
		LlmName:          s.client.Name(),
	}
}

func (s *TrimService) loadContent(ctx context.Context, chapterMD5 string) (string, error) {
	content, err := s.books.GetContent(ctx, chapterMD5)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", errno.ErrTrimInvalid.WithMsg("缺少章节内容")
		}
		return "", errno.ErrInternal.Wrap(err)
	}
	if content.Content == "" {
		return "", errno.ErrTrimInvalid.WithMsg("缺少章节内容")
	}
	return content.Content, nil
}

// TrimChapter trims one chapter without streaming. It is used by
// background tasks, which charge up front. A chapter already trimmed under
// the prompt only gets the user's trim record.
func (s *TrimService) TrimChapter(ctx context.Context, userID, chapterID, promptID uint) error {
	chapter, err := s.books.GetChapterByID(chapterID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errno.ErrChapterNotFound
		}
		return errno.ErrInternal.Wrap(err)
	}
	book, err := s.books.GetBookByID(chapter.BookID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errno.ErrBookNotFound
		}
		return errno.ErrInternal.Wrap(err)
	}
	prompt, err := s.resolvePrompt(promptID)
	if err != nil {
		return err
	}

	t := trimTarget{
		userID:     userID,
		bookID:     book.ID,
		chapterID:  chapter.ID,
		bookMD5:    book.BookMD5,
		chapterMD5: chapter.ChapterMD5,
	}

	exists, err := s.trims.ExistsResult(chapter.ChapterMD5, prompt.ID)
	if err != nil {
		return errno.ErrInternal.Wrap(err)
	}
	if exists {
		return s.recordUserTrim(t, prompt.ID)
	}

	raw, err := s.loadContent(ctx, chapter.ChapterMD5)
	if err != nil {
		return err
	}
	rendered, err := s.renderPrompt(prompt, raw)
	if err != nil {
		return err
	}

	start := time.Now()
	completion, err := s.client.Chat(ctx, rendered.system, raw)
	if err != nil {
		return fmt.Errorf("llm chat: %w", err)
	}
	if strings.TrimSpace(completion.Content) == "" {
		return errors.New("llm returned empty content")
	}

	result := s.buildResult(chapter.ChapterMD5, prompt.ID, raw, completion.Content, rendered, completion.Usage, time.Since(start))
	if err := s.trims.SaveResult(result); err != nil {
		return fmt.Errorf("save trim result: %w", err)
	}
	return s.recordUserTrim(t, prompt.ID)
}
