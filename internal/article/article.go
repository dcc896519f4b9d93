// Package article holds the search request and the records extracted for it.
package article

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Sort codes understood by the site's sort control.
const (
	SortRelevance = 0
	SortNewest    = 1
	SortOldest    = 2
)

// Payload is one search request.
type Payload struct {
	Phrase  string `json:"phrase_test" mapstructure:"phrase_test"`
	Section string `json:"section" mapstructure:"section"`
	SortBy  int    `json:"sort_by" mapstructure:"sort_by"`
	// Results caps the number of articles. Zero means no cap.
	Results int `json:"results" mapstructure:"results"`
}

var ErrEmptyPhrase = errors.New("payload has an empty search phrase")

// Validate rejects payloads the protocol cannot run.
func (p Payload) Validate() error {
	if strings.TrimSpace(p.Phrase) == "" {
		return ErrEmptyPhrase
	}
	if p.Results < 0 {
		return fmt.Errorf("payload results must not be negative, got %d", p.Results)
	}
	return nil
}

// SortKnown reports whether SortBy is a code the site supports.
func (p Payload) SortKnown() bool {
	return p.SortBy == SortRelevance || p.SortBy == SortNewest || p.SortBy == SortOldest
}

func (p Payload) String() string {
	return fmt.Sprintf("Payload(phrase=%q, section=%q, sort_by=%d, results=%d)", p.Phrase, p.Section, p.SortBy, p.Results)
}

// Article is one search result. Date is always absolute.
type Article struct {
	Title                  string    `json:"title"`
	Date                   time.Time `json:"date"`
	Description            string    `json:"description"`
	PictureURL             string    `json:"picture_filename"`
	PictureLocalPath       string    `json:"picture_local_path"`
	TitlePhraseCount       int       `json:"title_count_phrase"`
	DescriptionPhraseCount int       `json:"description_count_phrase"`
	MentionsMoney          bool      `json:"find_money_title_description"`
}

// Columns are the spreadsheet headers, in order.
var Columns = []string{
	"title",
	"date",
	"description",
	"picture_filename",
	"picture_local_path",
	"title_count_phrase",
	"description_count_phrase",
	"find_money_title_description",
}

// Row returns the article's cells in Columns order.
func (a Article) Row() []any {
	date := ""
	if !a.Date.IsZero() {
		date = a.Date.Format("2006-01-02T15:04:05")
	}
	return []any{
		a.Title,
		date,
		a.Description,
		a.PictureURL,
		a.PictureLocalPath,
		a.TitlePhraseCount,
		a.DescriptionPhraseCount,
		a.MentionsMoney,
	}
}

var moneyPattern = regexp.MustCompile(`\$[0-9,.]+|\b\d+\s*(?:dollars|USD)\b`)

// ContainsMoney reports whether text mentions an amount such as "$11.1", "$1,000" or "20 dollars".
func ContainsMoney(text string) bool {
	return moneyPattern.MatchString(text)
}

// CountPhrase counts non-overlapping case-insensitive occurrences of phrase in text.
func CountPhrase(text, phrase string) int {
	if phrase == "" {
		return 0
	}
	re := regexp.MustCompile("(?i)" + regexp.QuoteMeta(phrase))
	return len(re.FindAllStringIndex(strings.TrimSpace(text), -1))
}

// Annotate fills the phrase counts and the money flag of every article.
func Annotate(articles []Article, phrase string) []Article {
	out := make([]Article, len(articles))
	for i, a := range articles {
		a.TitlePhraseCount = CountPhrase(a.Title, phrase)
		a.DescriptionPhraseCount = CountPhrase(a.Description, phrase)
		a.MentionsMoney = ContainsMoney(a.Title) || ContainsMoney(a.Description)
		out[i] = a
	}
	return out
}
