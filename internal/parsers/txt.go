package parsers

import (
	"math"
	"regexp"
	"strings"
)

const (
	// FallbackRuleName is reported when no rule matched any title.
	FallbackRuleName = "Fallback"
	// FallbackTitle names the single chapter produced by the fallback.
	FallbackTitle = "全文"
	// PrefaceTitle names text found before the first chapter title.
	PrefaceTitle = "序章"

	minAverageChapterLen = 200
	minPrefaceRunes      = 50
)

// Rule is one chapter-title pattern competing in SmartParseTXT.
// Patterns use RE2 syntax and should anchor on line starts with (?m)^.
type Rule struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
	Weight  int    `json:"weight"`
}

// ChapterIndex locates a chapter inside the full text. Offsets are bytes;
// Start is the beginning of the title line.
type ChapterIndex struct {
	Index int    `json:"index"`
	Title string `json:"title"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Len   int    `json:"len"`
}

// DefaultRules are tried when the caller supplies none, strictest first.
var DefaultRules = []Rule{
	{Name: "Strict_Chinese", Pattern: `(?m)^第[0-9零一二三四五六七八九十百千万]+[章回节][ \t\f].*`, Weight: 100},
	{Name: "Normal_Chinese", Pattern: `(?m)^第[0-9零一二三四五六七八九十百千万]+[章回节].*`, Weight: 90},
	{Name: "Strict_English", Pattern: `(?m)^Chapter\s+\d+.*`, Weight: 80},
	{Name: "Loose_Number", Pattern: `(?m)^\d+\.\s+.*`, Weight: 60},
	{Name: "Loose_Direct", Pattern: `(?m)^[0-9零一二三四五六七八九十百千万]+\s+.*`, Weight: 40},
}

type candidate struct {
	rule    Rule
	matches [][]int
	score   float64
}

// SmartParseTXT splits content into chapters. Every rule is matched against
// the whole text and scored on how evenly it divides it; the best scoring
// rule wins. Invalid patterns are skipped. When nothing matches, the whole
// text becomes one chapter and the rule name is FallbackRuleName.
func SmartParseTXT(content string, rules []Rule) ([]ChapterIndex, string) {
	if len(rules) == 0 {
		rules = DefaultRules
	}

	var best *candidate
	for _, rule := range rules {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			continue
		}
		matches := re.FindAllStringIndex(content, -1)
		if len(matches) == 0 {
			continue
		}
		score := scoreMatches(len(content), matches, rule.Weight)
		if best == nil || score > best.score {
			best = &candidate{rule: rule, matches: matches, score: score}
		}
	}

	if best == nil {
		return []ChapterIndex{{
			Index: 0,
			Title: FallbackTitle,
			Start: 0,
			End:   len(content),
			Len:   len(content),
		}}, FallbackRuleName
	}

	return extractChapters(content, best.matches), best.rule.Name
}

// scoreMatches rewards even chapter lengths. Chapter length runs from one
// title start to the next. An average under minAverageChapterLen almost
// always means the rule matched something other than titles.
func scoreMatches(totalLen int, matches [][]int, weight int) float64 {
	count := len(matches)
	if count == 0 {
		return -1
	}

	lengths := make([]float64, count)
	var sum float64
	for i := range matches {
		next := totalLen
		if i < count-1 {
			next = matches[i+1][0]
		}
		lengths[i] = float64(next - matches[i][0])
		sum += lengths[i]
	}

	avg := sum / float64(count)
	if avg < minAverageChapterLen {
		return -10000
	}

	var variance float64
	for _, l := range lengths {
		variance += (l - avg) * (l - avg)
	}
	cv := math.Sqrt(variance/float64(count)) / avg

	countBonus := math.Min(float64(count)*0.1, 50)
	return float64(weight) + countBonus - cv*50
}

func extractChapters(content string, matches [][]int) []ChapterIndex {
	chapters := make([]ChapterIndex, 0, len(matches)+1)

	if first := matches[0][0]; first > 0 && CountWords(content[:first]) >= minPrefaceRunes {
		chapters = append(chapters, ChapterIndex{
			Title: PrefaceTitle,
			Start: 0,
			End:   first,
			Len:   first,
		})
	}

	for i, m := range matches {
		end := len(content)
		if i < len(matches)-1 {
			end = matches[i+1][0]
		}
		chapters = append(chapters, ChapterIndex{
			Title: strings.TrimSpace(content[m[0]:m[1]]),
			Start: m[0],
			End:   end,
			Len:   end - m[0],
		})
	}

	for i := range chapters {
		chapters[i].Index = i
	}
	return chapters
}
