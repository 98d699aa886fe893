// Package collect runs the external scraper and turns its JSONL output into
// bounded, ordered records.
package collect

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/ppiankov/listpush/internal/record"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultTimeout bounds a single scraper invocation.
	DefaultTimeout = 10 * time.Minute

	maxLineLength = 1 << 20 // 1 MiB per JSONL line
	maxStderrTail = 512
	waitDelay     = 5 * time.Second
)

// DefaultCommand is the scraper invocation; the source identifier is appended.
var DefaultCommand = []string{"snscrape", "--jsonl", "twitter-list-posts"}

// Outcome tells apart the ways a collection can end.
type Outcome int

const (
	Collected Outcome = iota // at least one record
	Empty                    // scraper succeeded but produced nothing usable
	Failed                   // scraper missing, crashed, or output unreadable
)

func (o Outcome) String() string {
	switch o {
	case Collected:
		return "collected"
	case Empty:
		return "empty"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the outcome of one collection. Records is empty unless Outcome
// is Collected.
type Result struct {
	Records []record.Record
	Outcome Outcome
	Skipped int   // lines dropped as malformed
	Err     error // set when Outcome is Failed
}

// Collector invokes the scraper for one source identifier.
type Collector struct {
	command []string
	source  string
	timeout time.Duration
	logger  logrus.FieldLogger
}

// New creates a Collector. command is the argv prefix of the scraper and
// must name an executable; source is appended as the last argument.
func New(command []string, source string, timeout time.Duration, logger logrus.FieldLogger) (*Collector, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, errors.New("collect: scraper command is required")
	}
	if strings.TrimSpace(source) == "" {
		return nil, errors.New("collect: source identifier is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Collector{
		command: append([]string(nil), command...),
		source:  source,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Source returns the configured source identifier.
func (c *Collector) Source() string {
	return c.source
}

// Collect runs the scraper to completion and returns its records, newest
// first, capped at record.MaxRecords. Any process-level failure discards
// everything read so far.
func (c *Collector) Collect(ctx context.Context) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := append(append([]string(nil), c.command[1:]...), c.source)
	cmd := exec.CommandContext(ctx, c.command[0], args...)
	cmd.WaitDelay = waitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return c.failed(fmt.Errorf("stdout pipe: %w", err))
	}

	stderr := &tailWriter{max: maxStderrTail}
	cmd.Stderr = stderr

	log := c.logger.WithField("source", c.source)
	log.WithField("cmd", cmd.Args).Info("running scraper")

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return c.failed(fmt.Errorf("%s not found: install it or set scraper.command", c.command[0]))
		}
		return c.failed(fmt.Errorf("start scraper: %w", err))
	}

	records, skipped, readErr := decode(stdout, log)
	if readErr != nil {
		// Stop the child so Wait does not block on a writer nobody reads.
		cancel()
	}

	waitErr := cmd.Wait()

	if readErr != nil {
		return c.failed(fmt.Errorf("read scraper output: %w", readErr))
	}
	if waitErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return c.failed(fmt.Errorf("scraper timed out after %s", c.timeout))
		}
		if tail := stderr.String(); tail != "" {
			return c.failed(fmt.Errorf("scraper failed: %w: %s", waitErr, tail))
		}
		return c.failed(fmt.Errorf("scraper failed: %w", waitErr))
	}

	if len(records) == 0 {
		log.WithField("skipped", skipped).Info("scraper produced no records")
		return Result{Outcome: Empty, Skipped: skipped}
	}

	records = record.Bound(records, record.MaxRecords)
	log.WithFields(logrus.Fields{
		"records": len(records),
		"skipped": skipped,
	}).Info("collected records")

	return Result{Records: records, Outcome: Collected, Skipped: skipped}
}

func (c *Collector) failed(err error) Result {
	c.logger.WithField("source", c.source).WithError(err).Error("collection failed")
	return Result{Outcome: Failed, Err: err}
}

// decode folds the scraper's output into records, dropping lines that
// cannot be turned into one. Only a read error stops it early.
func decode(r io.Reader, log logrus.FieldLogger) ([]record.Record, int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)

	var records []record.Record
	skipped := 0
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		rec, err := parseLine(line)
		if err != nil {
			skipped++
			entry := log.WithField("line", lineNum)
			if errors.Is(err, errInvalidJSON) {
				entry.Debug("skipping non-json line")
			} else {
				entry.WithError(err).Warn("skipping tweet")
			}
			continue
		}
		if rec.Timestamp.IsZero() {
			log.WithFields(logrus.Fields{"line": lineNum, "date": rec.Date}).
				Warn("unrecognized date, ordering tweet last")
		}
		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil {
		return nil, skipped, err
	}
	return records, skipped, nil
}

// tailWriter keeps only the last max bytes written to it.
type tailWriter struct {
	max       int
	buf       []byte
	truncated bool
}

func (w *tailWriter) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) >= w.max {
		w.truncated = w.truncated || len(w.buf) > 0 || len(p) > w.max
		w.buf = append(w.buf[:0], p[len(p)-w.max:]...)
		return n, nil
	}
	if over := len(w.buf) + len(p) - w.max; over > 0 {
		w.buf = append(w.buf[:0], w.buf[over:]...)
		w.truncated = true
	}
	w.buf = append(w.buf, p...)
	return n, nil
}

// String returns the trimmed tail, prefixed with "..." when earlier output
// was dropped.
func (w *tailWriter) String() string {
	s := strings.TrimSpace(string(w.buf))
	if w.truncated && s != "" {
		return "..." + s
	}
	return s
}
