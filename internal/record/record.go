package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"
)

// MaxRecords caps the number of records delivered in one batch.
const MaxRecords = 200

// Record is one collected post, normalized for delivery.
type Record struct {
	ID           string          // source-provided identifier
	Timestamp    time.Time       // creation time, used for ordering only
	Date         string          // creation time as the source wrote it
	Body         string          // post text, may be empty
	Link         string          // canonical URL of the post
	AuthorName   string          // display name, empty when unknown
	AuthorHandle string          // username, empty when unknown
	Raw          json.RawMessage // the line exactly as received
}

// wireRecord is the JSON shape accepted by the ingestion service.
type wireRecord struct {
	ID           string          `json:"id"`
	Date         string          `json:"date"`
	Content      string          `json:"content"`
	URL          string          `json:"url"`
	AuthorName   *string         `json:"authorName"`
	AuthorHandle *string         `json:"authorHandle"`
	Raw          json.RawMessage `json:"raw"`
}

// Validate reports whether r carries the fields every record must have.
func (r Record) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("id is required")
	}
	if strings.TrimSpace(r.Link) == "" {
		return errors.New("url is required")
	}
	if len(r.Raw) == 0 {
		return errors.New("raw payload is required")
	}
	return nil
}

// MarshalJSON encodes r in the ingestion wire format. Missing author
// fields are sent as null and HTML characters are left unescaped.
func (r Record) MarshalJSON() ([]byte, error) {
	raw := r.Raw
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(wireRecord{
		ID:           r.ID,
		Date:         r.Date,
		Content:      r.Body,
		URL:          r.Link,
		AuthorName:   optional(r.AuthorName),
		AuthorHandle: optional(r.AuthorHandle),
		Raw:          raw,
	})
	if err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalJSON decodes a record from the ingestion wire format. The
// timestamp is parsed from date when possible and left zero otherwise.
func (r *Record) UnmarshalJSON(data []byte) error {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = Record{
		ID:   w.ID,
		Date: w.Date,
		Body: w.Content,
		Link: w.URL,
		Raw:  w.Raw,
	}
	if w.AuthorName != nil {
		r.AuthorName = *w.AuthorName
	}
	if w.AuthorHandle != nil {
		r.AuthorHandle = *w.AuthorHandle
	}
	if ts, err := ParseTime(w.Date); err == nil {
		r.Timestamp = ts
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Batch is the unit of delivery: every record of one run.
type Batch struct {
	Tweets []Record `json:"tweets"`
}

// NewBatch wraps records in a batch. A nil slice becomes an empty one so
// the payload always carries a JSON array.
func NewBatch(records []Record) Batch {
	if records == nil {
		records = []Record{}
	}
	return Batch{Tweets: records}
}

// Bound orders records newest first and keeps at most max of them.
// Records with equal timestamps keep their arrival order.
func Bound(records []Record, max int) []Record {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	if max >= 0 && len(records) > max {
		records = records[:max]
	}
	return records
}
