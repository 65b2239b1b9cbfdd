package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// DateLayout is the ISO calendar date used as the key of every daily record
const DateLayout = "2006-01-02"

var (
	ErrMissingDateKey = errors.New("entry has no date key")
	ErrInvalidDateKey = errors.New("date key is not a YYYY-MM-DD calendar date")
)

// ValidateDateKey rejects empty and malformed date keys
func ValidateDateKey(date string) error {
	if date == "" {
		return ErrMissingDateKey
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDateKey, date)
	}
	return nil
}

// NullFloat is a float64 that may be absent.
// It serializes as JSON null and as SQL NULL when not Valid.
type NullFloat struct {
	Float64 float64
	Valid   bool
}

// Float returns a present NullFloat
func Float(v float64) NullFloat {
	return NullFloat{Float64: v, Valid: true}
}

func (n NullFloat) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Float64)
}

func (n *NullFloat) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*n = NullFloat{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("nullable float: %w", err)
	}
	*n = NullFloat{Float64: v, Valid: true}
	return nil
}

// Value implements driver.Valuer
func (n NullFloat) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	return n.Float64, nil
}

// Scan implements sql.Scanner. Drivers hand back REAL, NUMERIC and DECIMAL
// columns in different shapes, so strings and byte slices are parsed too.
func (n *NullFloat) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*n = NullFloat{}
	case float64:
		*n = Float(v)
	case float32:
		*n = Float(float64(v))
	case int64:
		*n = Float(float64(v))
	case int32:
		*n = Float(float64(v))
	case []byte:
		return n.scanString(string(v))
	case string:
		return n.scanString(v)
	default:
		return fmt.Errorf("cannot scan %T into NullFloat", src)
	}
	return nil
}

func (n *NullFloat) scanString(s string) error {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("cannot scan %q into NullFloat: %w", s, err)
	}
	*n = Float(f)
	return nil
}

// DailyRecord is one day of the log as held by the local store
type DailyRecord struct {
	Date      string    `json:"date"`
	Weight    NullFloat `json:"weight"`
	Calories  NullFloat `json:"calories"`
	Notes     string    `json:"notes"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RemoteRecord is a row of the backend weight_entries table
type RemoteRecord struct {
	Date      string    `json:"date"`
	Weight    NullFloat `json:"weight"`
	Calories  NullFloat `json:"calories"`
	Notes     string    `json:"notes"`
	UpdatedAt time.Time `json:"updated_at"`
	UserID    string    `json:"user_id,omitempty"`
}

// ToDaily converts a backend row into the local representation
func (r RemoteRecord) ToDaily() DailyRecord {
	return DailyRecord{
		Date:      r.Date,
		Weight:    r.Weight,
		Calories:  r.Calories,
		Notes:     r.Notes,
		UpdatedAt: r.UpdatedAt,
	}
}
