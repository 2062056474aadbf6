package dut

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dutschedule/dutnotify/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSource(t *testing.T, handler http.HandlerFunc) *HTTPSource {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	src, err := NewHTTPSource(srv.URL, 5*time.Second, nil)
	require.NoError(t, err)
	return src
}

func TestNewsGlobalSendsPagingAndSearch(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/news/global", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "by_content", r.URL.Query().Get("search_type"))
		assert.Equal(t, "exam", r.URL.Query().Get("search_query"))
		_ = json.NewEncoder(w).Encode([]domain.NewsItem{{Date: 1, Title: "Exam schedule"}})
	})

	items, err := src.NewsGlobal(context.Background(), 2, domain.SearchByContent, "exam")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Exam schedule", items[0].Title)
}

func TestNewsClampsPage(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		assert.Empty(t, r.URL.Query().Get("search_query"))
		_, _ = w.Write([]byte(`[]`))
	})

	items, err := News(context.Background(), src, domain.NewsTypeSubject, 0, domain.SearchByTitle, "")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestLoginAndSessionHeader(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/account/login":
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if body["password"] != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"session_id":"sess-1"}`))
		case "/account/information":
			if r.Header.Get(SessionHeaderName) != "sess-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"student_id":"102200001","name":"Nguyen Van A"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	_, err := src.Login(context.Background(), domain.AccountAuth{Username: "102200001", Password: "wrong"})
	require.ErrorIs(t, err, ErrUnauthorized)

	session, err := src.Login(context.Background(), domain.AccountAuth{Username: "102200001", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "sess-1", session.SessionID)

	info, err := src.AccountInformation(context.Background(), session)
	require.NoError(t, err)
	assert.Equal(t, "Nguyen Van A", info.Name)
}

func TestStatusErrorCarriesBody(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	})

	_, err := src.SubjectFee(context.Background(), &AccountSession{SessionID: "s"}, domain.SchoolYear{Year: 23, Semester: 1})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)
	assert.Equal(t, "upstream down", statusErr.Body)
}

func TestIsLoggedInTreatsUnauthorizedAsLoggedOut(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	ok, err := src.IsLoggedIn(context.Background(), &AccountSession{SessionID: "expired"})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = src.IsLoggedIn(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubjectScheduleSendsSchoolYear(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "23", r.URL.Query().Get("year"))
		assert.Equal(t, "2", r.URL.Query().Get("semester"))
		_, _ = w.Write([]byte(`[{"name":"Computer Networks","credit":3}]`))
	})

	items, err := src.SubjectSchedule(context.Background(), &AccountSession{SessionID: "s"}, domain.SchoolYear{Year: 23, Semester: 2})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 3.0, items[0].Credit)
}

func TestNewHTTPSourceRejectsBadScheme(t *testing.T) {
	_, err := NewHTTPSource("ftp://example.com", time.Second, nil)
	require.Error(t, err)
}
