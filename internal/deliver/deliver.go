// Package deliver submits a batch of records to the ingestion service.
package deliver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ppiankov/listpush/internal/privacy"
	"github.com/ppiankov/listpush/internal/record"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultTimeout bounds the single delivery request.
	DefaultTimeout = 60 * time.Second

	// TokenHeader carries the shared ingest secret.
	TokenHeader = "X-INGEST-TOKEN"

	maxErrorBody = 4 << 10
)

// ErrMissingCredentials is returned by New when the endpoint or token is empty.
var ErrMissingCredentials = errors.New("deliver: endpoint and token are required")

// Error describes a failed delivery. Status is zero when no response arrived.
type Error struct {
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Status == 0:
		return fmt.Sprintf("deliver: %v", e.Err)
	case e.Body != "":
		return fmt.Sprintf("deliver: ingest returned status %d: %s", e.Status, e.Body)
	default:
		return fmt.Sprintf("deliver: ingest returned status %d", e.Status)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Receipt is what the ingestion service reported for an accepted batch.
type Receipt struct {
	Status   int
	Inserted int
}

// Deliverer posts batches to a single ingestion endpoint.
type Deliverer struct {
	endpoint  string
	token     string
	userAgent string
	client    *http.Client
	logger    logrus.FieldLogger
	redactor  *privacy.Redactor
}

// Option configures a Deliverer.
type Option func(*Deliverer)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(dl *Deliverer) {
		if d > 0 {
			dl.client.Timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(dl *Deliverer) { dl.userAgent = ua }
}

// WithLogger sets the logger used to report delivery progress.
func WithLogger(l logrus.FieldLogger) Option {
	return func(dl *Deliverer) {
		if l != nil {
			dl.logger = l
		}
	}
}

// New creates a Deliverer for endpoint authenticated with token.
func New(endpoint, token string, opts ...Option) (*Deliverer, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" || strings.TrimSpace(token) == "" {
		return nil, ErrMissingCredentials
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("deliver: invalid endpoint %q", endpoint)
	}

	d := &Deliverer{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: DefaultTimeout},
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	// No patterns, so this cannot fail.
	d.redactor, _ = privacy.New([]string{token}, nil)
	return d, nil
}

// Deliver sends records as one batch. It makes exactly one attempt; any
// transport failure or non-2xx status is returned as *Error.
func (d *Deliverer) Deliver(ctx context.Context, records []record.Record) (Receipt, error) {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(record.NewBatch(records)); err != nil {
		return Receipt{}, &Error{Err: fmt.Errorf("encode batch: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, &body)
	if err != nil {
		return Receipt{}, &Error{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set(TokenHeader, d.token)
	req.Header.Set("Content-Type", "application/json")
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	log := d.logger.WithFields(logrus.Fields{
		"endpoint": redactURL(d.endpoint),
		"records":  len(records),
	})
	log.Info("pushing tweets")

	resp, err := d.client.Do(req)
	if err != nil {
		return Receipt{}, &Error{Err: fmt.Errorf("http request: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Receipt{Status: resp.StatusCode}, &Error{
			Status: resp.StatusCode,
			Body:   d.redactor.Apply(strings.TrimSpace(string(snippet))),
		}
	}

	receipt := Receipt{Status: resp.StatusCode}

	var ack ingestResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		log.WithError(err).Warn("could not decode ingest response")
	} else if ack.Inserted != nil {
		receipt.Inserted = *ack.Inserted
	}

	log.WithFields(logrus.Fields{
		"status":   receipt.Status,
		"inserted": receipt.Inserted,
	}).Info("tweets delivered")

	return receipt, nil
}

type ingestResponse struct {
	Inserted *int `json:"inserted"`
}

// redactURL drops credentials and query strings before a URL is logged.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}
