package collect

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ppiankov/listpush/internal/record"
)

var errInvalidJSON = errors.New("invalid json")

// scrapedPost is the subset of the scraper's JSONL schema we read.
type scrapedPost struct {
	ID         json.RawMessage `json:"id"`
	Date       string          `json:"date"`
	Content    *string         `json:"content"`
	RawContent string          `json:"rawContent"`
	URL        string          `json:"url"`
	User       *scrapedUser    `json:"user"`
}

type scrapedUser struct {
	DisplayName string `json:"displayname"`
	Username    string `json:"username"`
}

// parseLine converts one JSONL line into a record. Syntactically invalid
// lines yield errInvalidJSON; everything else is a per-record problem.
func parseLine(line []byte) (record.Record, error) {
	if !json.Valid(line) {
		return record.Record{}, errInvalidJSON
	}

	var p scrapedPost
	if err := json.Unmarshal(line, &p); err != nil {
		return record.Record{}, fmt.Errorf("decode post: %w", err)
	}

	id, err := parseID(p.ID)
	if err != nil {
		return record.Record{}, err
	}

	// An unrecognized date leaves Timestamp zero, which orders the post last.
	ts, _ := record.ParseTime(p.Date)

	body := p.RawContent
	if p.Content != nil {
		body = *p.Content
	}

	rec := record.Record{
		ID:        id,
		Timestamp: ts,
		Date:      p.Date,
		Body:      body,
		Link:      p.URL,
		Raw:       append(json.RawMessage(nil), line...),
	}
	if p.User != nil {
		rec.AuthorName = p.User.DisplayName
		rec.AuthorHandle = p.User.Username
	}

	if err := rec.Validate(); err != nil {
		return record.Record{}, fmt.Errorf("post %s: %w", id, err)
	}
	return rec, nil
}

// parseID accepts the id as either a JSON string or a JSON number. Numbers
// keep their literal digits so large ids are not rounded.
func parseID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errors.New("id is required")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("decode id: %w", err)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("id must be a string or number, got %s", raw)
	}
	return n.String(), nil
}
