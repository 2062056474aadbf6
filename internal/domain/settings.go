package domain

import (
	"fmt"
	"time"
)

// Refresh interval bounds for the news worker, in minutes.
const (
	MinRefreshNewsInterval = 1
	MaxRefreshNewsInterval = 30
)

// Settings are the per-device preferences.
type Settings struct {
	RefreshNewsEnabled         bool          `json:"refresh_news_enabled"`
	RefreshNewsIntervalMinutes int           `json:"refresh_news_interval_minutes"`
	NotifyNewsGlobal           bool          `json:"notify_news_global"`
	NotifyNewsSubject          bool          `json:"notify_news_subject"`
	CurrentSchoolYear          SchoolYear    `json:"current_school_year"`
	NewsFilterList             []SubjectCode `json:"news_filter_list"`
}

// DefaultSettings returns the settings of a new device.
func DefaultSettings() Settings {
	return Settings{
		RefreshNewsEnabled:         true,
		RefreshNewsIntervalMinutes: 3,
		NotifyNewsGlobal:           true,
		NotifyNewsSubject:          true,
		CurrentSchoolYear:          SchoolYear{Year: 23, Semester: 1},
		NewsFilterList:             []SubjectCode{},
	}
}

// Validate checks field ranges.
func (s Settings) Validate() error {
	if s.RefreshNewsIntervalMinutes < MinRefreshNewsInterval || s.RefreshNewsIntervalMinutes > MaxRefreshNewsInterval {
		return fmt.Errorf("refresh news interval must be between %d and %d minutes",
			MinRefreshNewsInterval, MaxRefreshNewsInterval)
	}
	if err := s.CurrentSchoolYear.Validate(); err != nil {
		return fmt.Errorf("current school year: %w", err)
	}
	return nil
}

// RefreshInterval returns the news refresh interval as a duration.
func (s Settings) RefreshInterval() time.Duration {
	return time.Duration(s.RefreshNewsIntervalMinutes) * time.Minute
}

// HasFilter reports whether code is in the news filter list.
func (s Settings) HasFilter(code SubjectCode) bool {
	for _, c := range s.NewsFilterList {
		if c.Equal(code) {
			return true
		}
	}
	return false
}

// AddFilter returns settings with code added to the news filter list.
func (s Settings) AddFilter(code SubjectCode) Settings {
	if s.HasFilter(code) {
		return s
	}
	filters := make([]SubjectCode, 0, len(s.NewsFilterList)+1)
	filters = append(filters, s.NewsFilterList...)
	s.NewsFilterList = append(filters, code)
	return s
}

// RemoveFilter returns settings with code removed from the news filter list.
func (s Settings) RemoveFilter(code SubjectCode) Settings {
	filters := make([]SubjectCode, 0, len(s.NewsFilterList))
	for _, c := range s.NewsFilterList {
		if !c.Equal(code) {
			filters = append(filters, c)
		}
	}
	s.NewsFilterList = filters
	return s
}
