package http

import (
	"errors"
	"net/url"
	"reflect"
	"testing"

	"finrank/internal/core"
)

func TestParsePage(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    core.PageRequest
		wantErr bool
	}{
		{"defaults", "", core.PageRequest{Limit: core.DefaultLeaderboardLimit}, false},
		{"explicit", "limit=20&offset=40", core.PageRequest{Limit: 20, Offset: 40}, false},
		{"limit capped", "limit=100000", core.PageRequest{Limit: core.MaxLeaderboardLimit}, false},
		{"zero limit uses default", "limit=0", core.PageRequest{Limit: core.DefaultLeaderboardLimit}, false},
		{"negative offset", "offset=-1", core.PageRequest{}, true},
		{"non-numeric limit", "limit=ten", core.PageRequest{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, _ := url.ParseQuery(tt.query)
			got, err := parsePage(q)
			if tt.wantErr {
				if !errors.Is(err, core.ErrInvalidInput) {
					t.Fatalf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseFriends(t *testing.T) {
	q, _ := url.ParseQuery("friends=a,b,,%20c&friends=d")
	if got := parseFriends(q); !reflect.DeepEqual(got, []string{"a", "b", "c", "d"}) {
		t.Fatalf("unexpected friends %v", got)
	}
	if got := parseFriends(url.Values{}); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestSanitizeInput(t *testing.T) {
	tests := map[string]string{
		"  alice  ":   "alice",
		"bob\x00\x07": "bob",
		"line\nbreak": "linebreak",
		"user-42":     "user-42",
	}
	for in, want := range tests {
		if got := sanitizeInput(in); got != want {
			t.Errorf("sanitizeInput(%q) = %q, want %q", in, got, want)
		}
	}
}
