package broker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Guizzs26/tdee-sync/pkg/metrics"
)

var ErrMalformedDeadLetter = errors.New("malformed dead letter")

// Archive appends dead letters to w as JSON lines
type Archive struct {
	mu     sync.Mutex
	w      io.Writer
	logger *slog.Logger
}

func NewArchive(w io.Writer, logger *slog.Logger) *Archive {
	return &Archive{w: w, logger: logger}
}

// HandleDeadLetter validates body and appends it to the archive. It
// satisfies DeliveryHandler.
func (a *Archive) HandleDeadLetter(_ context.Context, body []byte) error {
	start := time.Now()

	var dl DeadLetter
	if err := json.Unmarshal(body, &dl); err != nil {
		metrics.DeadLettersArchived.WithLabelValues("malformed", "").Inc()
		return fmt.Errorf("%w: %w", ErrMalformedDeadLetter, err)
	}
	opType := string(dl.Operation.Type)
	if dl.Operation.ID == "" {
		metrics.DeadLettersArchived.WithLabelValues("malformed", opType).Inc()
		return fmt.Errorf("%w: missing operation id", ErrMalformedDeadLetter)
	}

	line, err := json.Marshal(dl)
	if err != nil {
		metrics.DeadLettersArchived.WithLabelValues("error", opType).Inc()
		return fmt.Errorf("encode dead letter: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.w.Write(append(line, '\n')); err != nil {
		metrics.DeadLettersArchived.WithLabelValues("error", opType).Inc()
		return fmt.Errorf("write archive: %w", err)
	}
	metrics.DeadLettersArchived.WithLabelValues("archived", opType).Inc()
	metrics.ArchiveDuration.Observe(time.Since(start).Seconds())

	a.logger.Warn("Dead letter archived",
		"operation_id", dl.Operation.ID,
		"type", dl.Operation.Type,
		"date", dl.Operation.Data.Date,
		"reason", dl.Reason,
	)
	return nil
}

// ReadArchive parses a JSON-lines archive. Blank lines are ignored.
func ReadArchive(r io.Reader) ([]DeadLetter, error) {
	var out []DeadLetter
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var dl DeadLetter
		if err := json.Unmarshal(raw, &dl); err != nil {
			return nil, fmt.Errorf("archive line %d: %w: %w", line, ErrMalformedDeadLetter, err)
		}
		out = append(out, dl)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	return out, nil
}
