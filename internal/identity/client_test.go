package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientMe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer t" {
			t.Fatalf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode(Me{ID: 42, Name: "A", Language: "en"})
	}))
	defer srv.Close()

	c := New(srv.URL, &http.Client{Timeout: 5 * time.Second})
	me, err := c.Me(context.Background(), "t")
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if me.ID != 42 || me.Name != "A" {
		t.Fatalf("unexpected Me: %+v", me)
	}
}

func TestClientChartFallbackOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, &http.Client{Timeout: 5 * time.Second})
	_, err := c.Chart(context.Background(), 100)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := FallbackChartName(100); got != "Chart100" {
		t.Fatalf("unexpected fallback name %q", got)
	}
}

func TestClientRecordValidation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Record{ID: 7, Player: 42, Score: 900000, Accuracy: 0.98, FullCombo: true})
	}))
	defer srv.Close()

	c := New(srv.URL, &http.Client{Timeout: 5 * time.Second})
	rec, err := c.Record(context.Background(), 7)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.Player != 42 {
		t.Fatalf("unexpected player %d", rec.Player)
	}
}
