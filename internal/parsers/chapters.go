package parsers

import (
	"crypto/md5"
	"encoding/hex"
	"unicode"
)

// ParsedChapter is a chapter cut out of a parsed text with its fingerprint.
type ParsedChapter struct {
	Index      int
	Title      string
	Content    string
	MD5        string
	WordsCount int
}

// ParseResult contains the outcome of parsing a whole book
type ParseResult struct {
	RuleName string
	BookMD5  string
	Chapters []ParsedChapter
}

// ParseBook splits UTF-8 text with SmartParseTXT and fingerprints the book
// and every chapter. Use DecodeText on raw uploads first.
func ParseBook(text string, rules []Rule) ParseResult {
	indices, ruleName := SmartParseTXT(text, rules)

	chapters := make([]ParsedChapter, 0, len(indices))
	for _, idx := range indices {
		body := text[idx.Start:idx.End]
		chapters = append(chapters, ParsedChapter{
			Index:      idx.Index,
			Title:      idx.Title,
			Content:    body,
			MD5:        Fingerprint(body),
			WordsCount: CountWords(body),
		})
	}

	return ParseResult{
		RuleName: ruleName,
		BookMD5:  Fingerprint(text),
		Chapters: chapters,
	}
}

// Fingerprint returns the lowercase hex MD5 of text. It is the identity used
// to deduplicate books and chapter contents.
func Fingerprint(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// CountWords counts non-whitespace runes, which is how chapter length is
// measured for CJK text.
func CountWords(text string) int {
	n := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
