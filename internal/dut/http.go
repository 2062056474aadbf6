package dut

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dutschedule/dutnotify/internal/domain"
)

// SessionHeaderName carries the account session to the gateway.
const SessionHeaderName = "X-DUT-Session"

const maxErrorBody = 512

// HTTPSource implements Source against the JSON gateway.
type HTTPSource struct {
	baseURL *url.URL
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPSource creates a gateway client. A zero timeout keeps the client's default.
func NewHTTPSource(baseURL string, timeout time.Duration, logger *slog.Logger) (*HTTPSource, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse dut api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("dut api url must be http or https, got %q", baseURL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSource{
		baseURL: u,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// NewsGlobal fetches a page of the faculty-wide news feed.
func (s *HTTPSource) NewsGlobal(ctx context.Context, page int, method domain.NewsSearchType, query string) ([]domain.NewsItem, error) {
	return s.news(ctx, "/news/global", page, method, query)
}

// NewsSubject fetches a page of the class news feed.
func (s *HTTPSource) NewsSubject(ctx context.Context, page int, method domain.NewsSearchType, query string) ([]domain.NewsItem, error) {
	return s.news(ctx, "/news/subject", page, method, query)
}

func (s *HTTPSource) news(ctx context.Context, path string, page int, method domain.NewsSearchType, query string) ([]domain.NewsItem, error) {
	if page < 1 {
		page = 1
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	if query != "" {
		q.Set("search_type", string(method))
		q.Set("search_query", query)
	}

	var items []domain.NewsItem
	if err := s.do(ctx, http.MethodGet, path, q, nil, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Login authenticates and returns a new session.
func (s *HTTPSource) Login(ctx context.Context, auth domain.AccountAuth) (*AccountSession, error) {
	body := map[string]string{"username": auth.Username, "password": auth.Password}
	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := s.do(ctx, http.MethodPost, "/account/login", nil, nil, body, &resp); err != nil {
		return nil, err
	}
	if resp.SessionID == "" {
		return nil, ErrUnauthorized
	}
	return &AccountSession{
		SessionID:  resp.SessionID,
		Username:   auth.Username,
		LoggedInAt: time.Now(),
	}, nil
}

// Logout ends the session on the school site.
func (s *HTTPSource) Logout(ctx context.Context, session *AccountSession) error {
	if session == nil {
		return nil
	}
	return s.do(ctx, http.MethodPost, "/account/logout", nil, session, nil, nil)
}

// IsLoggedIn checks whether the session is still accepted.
func (s *HTTPSource) IsLoggedIn(ctx context.Context, session *AccountSession) (bool, error) {
	if session == nil {
		return false, nil
	}
	var resp struct {
		LoggedIn bool `json:"logged_in"`
	}
	err := s.do(ctx, http.MethodGet, "/account/status", nil, session, nil, &resp)
	if err == ErrUnauthorized {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return resp.LoggedIn, nil
}

// AccountInformation fetches the student profile.
func (s *HTTPSource) AccountInformation(ctx context.Context, session *AccountSession) (*domain.AccountInformation, error) {
	var info domain.AccountInformation
	if err := s.do(ctx, http.MethodGet, "/account/information", nil, session, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// SubjectSchedule fetches registered subjects for a school year.
func (s *HTTPSource) SubjectSchedule(ctx context.Context, session *AccountSession, year domain.SchoolYear) ([]domain.SubjectSchedule, error) {
	var items []domain.SubjectSchedule
	if err := s.do(ctx, http.MethodGet, "/account/subject-schedule", schoolYearQuery(year), session, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// SubjectFee fetches tuition for a school year.
func (s *HTTPSource) SubjectFee(ctx context.Context, session *AccountSession, year domain.SchoolYear) ([]domain.SubjectFee, error) {
	var items []domain.SubjectFee
	if err := s.do(ctx, http.MethodGet, "/account/subject-fee", schoolYearQuery(year), session, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func schoolYearQuery(year domain.SchoolYear) url.Values {
	q := url.Values{}
	q.Set("year", strconv.Itoa(year.Year))
	q.Set("semester", strconv.Itoa(year.Semester))
	return q
}

func (s *HTTPSource) do(ctx context.Context, method, path string, query url.Values, session *AccountSession, in, out any) error {
	u := *s.baseURL
	u.Path = s.baseURL.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if session != nil {
		req.Header.Set(SessionHeaderName, session.SessionID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("dut %s %s: %w", method, path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.Debug("Failed to close gateway response body", "path", path, "error", closeErr)
		}
	}()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
