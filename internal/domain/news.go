package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NewsType selects the news feed.
type NewsType string

const (
	NewsTypeGlobal  NewsType = "global"
	NewsTypeSubject NewsType = "subject"
)

// ParseNewsType validates a news feed name.
func ParseNewsType(s string) (NewsType, error) {
	switch NewsType(strings.ToLower(strings.TrimSpace(s))) {
	case NewsTypeGlobal:
		return NewsTypeGlobal, nil
	case NewsTypeSubject:
		return NewsTypeSubject, nil
	default:
		return "", fmt.Errorf("unknown news type %q", s)
	}
}

// NewsSearchType selects what a news search matches against.
type NewsSearchType string

const (
	SearchByTitle   NewsSearchType = "by_title"
	SearchByContent NewsSearchType = "by_content"
)

// ParseNewsSearchType validates a search method. Empty means by title.
func ParseNewsSearchType(s string) (NewsSearchType, error) {
	switch NewsSearchType(strings.ToLower(strings.TrimSpace(s))) {
	case "", SearchByTitle:
		return SearchByTitle, nil
	case SearchByContent:
		return SearchByContent, nil
	default:
		return "", fmt.Errorf("unknown search method %q", s)
	}
}

// NewsLink is a hyperlink embedded in a news item.
type NewsLink struct {
	Text     string `json:"text"`
	URL      string `json:"url"`
	Position int    `json:"position"`
}

// AffectedClass names a subject whose classes a subject news item targets.
type AffectedClass struct {
	SubjectName string        `json:"subject_name"`
	Codes       []SubjectCode `json:"codes"`
}

// NewsItem is a single entry of a news feed.
type NewsItem struct {
	Date            int64           `json:"date"`
	Title           string          `json:"title"`
	Content         string          `json:"content"`
	ContentString   string          `json:"content_string"`
	Links           []NewsLink      `json:"links,omitempty"`
	AffectedClasses []AffectedClass `json:"affected_classes,omitempty"`
	LessonStatus    string          `json:"lesson_status,omitempty"`
	AffectedLessons string          `json:"affected_lessons,omitempty"`
	AffectedDate    int64           `json:"affected_date,omitempty"`
}

// Key identifies a news item across refreshes.
func (n NewsItem) Key() string {
	return strconv.FormatInt(n.Date, 10) + "|" + n.Title
}

// Affects reports whether the item targets any class in filter. An empty
// filter matches everything.
func (n NewsItem) Affects(filter []SubjectCode) bool {
	if len(filter) == 0 {
		return true
	}
	for _, ac := range n.AffectedClasses {
		for _, code := range ac.Codes {
			for _, f := range filter {
				if f.Equal(code) {
					return true
				}
			}
		}
	}
	return false
}

// NewsSearchHistory is one remembered news search.
type NewsSearchHistory struct {
	Query     string         `json:"query"`
	Method    NewsSearchType `json:"method"`
	Type      NewsType       `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
}

// Equal compares searches by query, method and feed.
func (h NewsSearchHistory) Equal(other NewsSearchHistory) bool {
	return h.Query == other.Query && h.Method == other.Method && h.Type == other.Type
}

// AddSearchHistory moves entry to the front of history, removing an equal
// older entry and trimming to limit. The input slice is not modified.
func AddSearchHistory(history []NewsSearchHistory, entry NewsSearchHistory, limit int) []NewsSearchHistory {
	result := make([]NewsSearchHistory, 0, len(history)+1)
	result = append(result, entry)
	for _, h := range history {
		if h.Equal(entry) {
			continue
		}
		result = append(result, h)
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}
