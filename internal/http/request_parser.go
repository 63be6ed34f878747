package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"finrank/internal/core"
)

const maxEventBodyBytes = 64 << 10

// parseIntParam reads a non-negative integer query parameter. Missing values
// return def.
func parseIntParam(q url.Values, name string, def int) (int, error) {
	v := strings.TrimSpace(q.Get(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", core.ErrInvalidInput, name)
	}
	return n, nil
}

func parsePage(q url.Values) (core.PageRequest, error) {
	limit, err := parseIntParam(q, "limit", 0)
	if err != nil {
		return core.PageRequest{}, err
	}
	offset, err := parseIntParam(q, "offset", 0)
	if err != nil {
		return core.PageRequest{}, err
	}
	return core.PageRequest{Limit: limit, Offset: offset}.Normalize(), nil
}

// parseFriends accepts both friends=a,b and repeated friends=a&friends=b.
func parseFriends(q url.Values) []string {
	var out []string
	for _, v := range q["friends"] {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}

func userIDParam(r *http.Request) (string, error) {
	id := sanitizeInput(chi.URLParam(r, "userID"))
	if id == "" {
		return "", fmt.Errorf("%w: user id is required", core.ErrInvalidInput)
	}
	return id, nil
}

// decodeEvent reads a score event from a JSON body. Unknown fields and
// trailing data are rejected.
func decodeEvent(r *http.Request) (core.ScoreEvent, error) {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxEventBodyBytes))
	dec.DisallowUnknownFields()

	var req eventRequest
	if err := dec.Decode(&req); err != nil {
		return core.ScoreEvent{}, fmt.Errorf("%w: malformed JSON body: %v", core.ErrInvalidEvent, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return core.ScoreEvent{}, fmt.Errorf("%w: body must contain a single JSON object", core.ErrInvalidEvent)
	}

	kind, err := core.ParseEventKind(req.Kind)
	if err != nil {
		return core.ScoreEvent{}, err
	}
	ev := core.ScoreEvent{
		ID:         sanitizeInput(req.ID),
		Kind:       kind,
		UserID:     sanitizeInput(req.UserID),
		OccurredAt: req.OccurredAt.UTC(),
		BasePoints: req.BasePoints,
	}
	if err := ev.Validate(); err != nil {
		return core.ScoreEvent{}, err
	}
	return ev, nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
}
