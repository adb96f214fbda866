package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oliverhazley/MindMend/internal/auth"
	"github.com/oliverhazley/MindMend/internal/hrvstore/types"
	"github.com/oliverhazley/MindMend/internal/httpapi"
)

type insertCall struct {
	userID string
	ts     time.Time
	value  float64
}

type mockRepo struct {
	inserts     []insertCall
	insertID    int64
	insertErr   error
	readings    []types.Reading
	readingsErr error
	gotLimit    int
}

func (m *mockRepo) InsertReading(_ context.Context, userID string, ts time.Time, value float64) (int64, error) {
	m.inserts = append(m.inserts, insertCall{userID: userID, ts: ts, value: value})
	return m.insertID, m.insertErr
}

func (m *mockRepo) GetReadings(_ context.Context, userID string, limit int) ([]types.Reading, error) {
	m.gotLimit = limit
	return m.readings, m.readingsErr
}

var fixedNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newController(repo *mockRepo) *hrvControllerImpl {
	c := NewHRVController(repo).(*hrvControllerImpl)
	c.now = func() time.Time { return fixedNow }
	return c
}

func Test_handleAddReading(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		repo       *mockRepo
		wantStatus int
		wantUser   string
	}{
		{name: "string user id", body: `{"user_id":"42","hrv_value":41.37}`, repo: &mockRepo{insertID: 7}, wantStatus: http.StatusCreated, wantUser: "42"},
		{name: "numeric user id", body: `{"user_id":42,"hrv_value":0}`, repo: &mockRepo{insertID: 8}, wantStatus: http.StatusCreated, wantUser: "42"},
		{name: "missing value", body: `{"user_id":"42"}`, repo: &mockRepo{}, wantStatus: http.StatusBadRequest},
		{name: "missing user", body: `{"hrv_value":40}`, repo: &mockRepo{}, wantStatus: http.StatusBadRequest},
		{name: "value not a number", body: `{"user_id":"42","hrv_value":"40"}`, repo: &mockRepo{}, wantStatus: http.StatusBadRequest},
		{name: "negative value", body: `{"user_id":"42","hrv_value":-1}`, repo: &mockRepo{}, wantStatus: http.StatusBadRequest},
		{name: "fractional user id", body: `{"user_id":4.2,"hrv_value":40}`, repo: &mockRepo{}, wantStatus: http.StatusBadRequest},
		{name: "bad json", body: `{`, repo: &mockRepo{}, wantStatus: http.StatusBadRequest},
		{name: "store failure", body: `{"user_id":"42","hrv_value":40}`, repo: &mockRepo{insertErr: errors.New("boom")}, wantStatus: http.StatusInternalServerError, wantUser: "42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := newController(tt.repo)
			req := httptest.NewRequest(http.MethodPost, "/api/hrv", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			ctrl.handleAddReading(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d; want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantUser == "" {
				if len(tt.repo.inserts) != 0 {
					t.Errorf("inserts = %d; want 0", len(tt.repo.inserts))
				}
				return
			}
			if len(tt.repo.inserts) != 1 || tt.repo.inserts[0].userID != tt.wantUser {
				t.Fatalf("inserts = %+v; want one for %q", tt.repo.inserts, tt.wantUser)
			}
			if !tt.repo.inserts[0].ts.Equal(fixedNow) {
				t.Errorf("ts = %v; want %v", tt.repo.inserts[0].ts, fixedNow)
			}
		})
	}
}

func Test_handleAddReading_ResponseBody(t *testing.T) {
	ctrl := newController(&mockRepo{insertID: 12})
	req := httptest.NewRequest(http.MethodPost, "/api/hrv", strings.NewReader(`{"user_id":"42","hrv_value":41.37}`))
	rec := httptest.NewRecorder()

	ctrl.handleAddReading(rec, req)

	var got struct {
		Message string `json:"message"`
		HRVID   int64  `json:"hrv_id"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Message != "HRV reading stored" || got.HRVID != 12 {
		t.Errorf("body = %+v", got)
	}
}

func Test_handleReadings(t *testing.T) {
	t.Run("returns readings", func(t *testing.T) {
		repo := &mockRepo{readings: []types.Reading{{ReadingTime: fixedNow, HRVValue: 40.5}}}
		rec := httptest.NewRecorder()
		newController(repo).handleReadings(rec, httptest.NewRequest(http.MethodGet, "/api/hrv?user_id=42&limit=5", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; want %d", rec.Code, http.StatusOK)
		}
		if repo.gotLimit != 5 {
			t.Errorf("limit = %d; want 5", repo.gotLimit)
		}
		var got []map[string]any
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(got) != 1 || got[0]["hrv_value"] != 40.5 || got[0]["reading_time"] != "2026-05-04T10:00:00Z" {
			t.Errorf("body = %v", got)
		}
		if _, ok := got[0]["user_id"]; ok {
			t.Errorf("body exposes user_id: %v", got[0])
		}
	})

	t.Run("default limit", func(t *testing.T) {
		repo := &mockRepo{readings: []types.Reading{}}
		rec := httptest.NewRecorder()
		newController(repo).handleReadings(rec, httptest.NewRequest(http.MethodGet, "/api/hrv?user_id=42", nil))
		if repo.gotLimit != defaultLimit {
			t.Errorf("limit = %d; want %d", repo.gotLimit, defaultLimit)
		}
		if strings.TrimSpace(rec.Body.String()) != "[]" {
			t.Errorf("body = %q; want []", rec.Body.String())
		}
	})

	for _, q := range []string{"", "?user_id=", "?user_id=42&limit=x", "?user_id=42&limit=0", "?user_id=42&limit=1001"} {
		t.Run("bad query "+q, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newController(&mockRepo{}).handleReadings(rec, httptest.NewRequest(http.MethodGet, "/api/hrv"+q, nil))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d; want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}

	t.Run("store failure", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newController(&mockRepo{readingsErr: errors.New("boom")}).handleReadings(rec, httptest.NewRequest(http.MethodGet, "/api/hrv?user_id=42", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d; want %d", rec.Code, http.StatusInternalServerError)
		}
	})
}

func TestRoutes_AuthAndSelf(t *testing.T) {
	tokens := auth.NewTokens("secret", time.Hour)
	tok42, err := tokens.Issue("42")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	repo := &mockRepo{insertID: 1, readings: []types.Reading{}}
	mux := http.NewServeMux()
	newController(repo).RegisterRoutes(mux, func(h http.Handler) http.Handler {
		return httpapi.RequireAuth(tokens, h)
	})

	tests := []struct {
		name   string
		method string
		target string
		body   string
		token  string
		want   int
	}{
		{name: "post no token", method: http.MethodPost, target: "/api/hrv", body: `{"user_id":"42","hrv_value":40}`, want: http.StatusUnauthorized},
		{name: "post own", method: http.MethodPost, target: "/api/hrv", body: `{"user_id":"42","hrv_value":40}`, token: tok42, want: http.StatusCreated},
		{name: "post other user", method: http.MethodPost, target: "/api/hrv", body: `{"user_id":"7","hrv_value":40}`, token: tok42, want: http.StatusForbidden},
		{name: "get own", method: http.MethodGet, target: "/api/hrv?user_id=42", token: tok42, want: http.StatusOK},
		{name: "get other user", method: http.MethodGet, target: "/api/hrv?user_id=7", token: tok42, want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d; want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}
