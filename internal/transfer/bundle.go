// Package transfer reads and writes the JSON backup bundle used to move a
// weight log between installations or to seed one from a spreadsheet.
package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/Guizzs26/tdee-sync/internal/models"
	"github.com/Guizzs26/tdee-sync/internal/service"
)

const BundleVersion = 1

var ErrUnsupportedVersion = errors.New("unsupported bundle version")

type Settings struct {
	WeightUnit  string `json:"weightUnit"`
	CalorieUnit string `json:"calorieUnit"`
}

type Entry struct {
	Weight    models.NullFloat `json:"weight"`
	Calories  models.NullFloat `json:"calories"`
	Notes     string           `json:"notes"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// HasData reports whether the entry carries a weight or a calorie value
func (e Entry) HasData() bool {
	return e.Weight.Valid || e.Calories.Valid
}

// Bundle is the versioned backup document. Entries are keyed by date.
type Bundle struct {
	Version    int              `json:"version"`
	ExportedAt time.Time        `json:"exportedAt"`
	Settings   Settings         `json:"settings"`
	Entries    map[string]Entry `json:"entries"`
}

// Reader lists local records
type Reader interface {
	ListAll(ctx context.Context) (map[string]models.DailyRecord, error)
}

// Writer stores one record the way a user edit would
type Writer interface {
	SaveEntry(ctx context.Context, rec models.DailyRecord) (service.WriteResult, error)
}

type ImportResult struct {
	Imported    int `json:"imported"`
	Queued      int `json:"queued"`
	Skipped     int `json:"skipped"`
	QueueErrors int `json:"queue_errors"`
}

// Export snapshots every local record into a bundle
func Export(ctx context.Context, r Reader, settings Settings, now time.Time) (Bundle, error) {
	records, err := r.ListAll(ctx)
	if err != nil {
		return Bundle{}, fmt.Errorf("list local entries: %w", err)
	}

	b := Bundle{
		Version:    BundleVersion,
		ExportedAt: now.UTC(),
		Settings:   settings,
		Entries:    make(map[string]Entry, len(records)),
	}
	for date, rec := range records {
		b.Entries[date] = Entry{
			Weight:    rec.Weight,
			Calories:  rec.Calories,
			Notes:     rec.Notes,
			UpdatedAt: rec.UpdatedAt,
		}
	}
	return b, nil
}

// Encode writes the bundle as indented JSON. Map keys come out sorted.
func (b Bundle) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	return nil
}

// Decode reads and checks a bundle
func Decode(r io.Reader) (Bundle, error) {
	var b Bundle
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return Bundle{}, fmt.Errorf("decode bundle: %w", err)
	}
	if b.Version != BundleVersion {
		return Bundle{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, b.Version)
	}
	return b, nil
}

// Import saves every entry with data through w, oldest date first. Entries
// with neither weight nor calories, or with a malformed date, are skipped.
// Imported entries count as fresh local edits, so they are queued for the
// backend when the writer is signed in.
func Import(ctx context.Context, w Writer, b Bundle) (ImportResult, error) {
	var res ImportResult

	for _, date := range slices.Sorted(maps.Keys(b.Entries)) {
		e := b.Entries[date]
		if !e.HasData() || models.ValidateDateKey(date) != nil {
			res.Skipped++
			continue
		}

		wr, err := w.SaveEntry(ctx, models.DailyRecord{
			Date:     date,
			Weight:   e.Weight,
			Calories: e.Calories,
			Notes:    e.Notes,
		})
		if err != nil {
			return res, fmt.Errorf("import %s: %w", date, err)
		}

		res.Imported++
		if wr.Queued {
			res.Queued++
		}
		if wr.QueueErr != nil {
			res.QueueErrors++
		}
	}
	return res, nil
}
