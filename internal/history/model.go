// Package history persists run outcomes so past jobs can be listed,
// inspected and pruned.
package history

import (
	"crypto/rand"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// ULID is a wrapper around ulid.ULID for database storage as primary key.
type ULID ulid.ULID

// NewULID generates a new ULID.
func NewULID() ULID {
	return ULID(ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader))
}

// ParseULID parses a ULID string.
func ParseULID(s string) (ULID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return ULID{}, fmt.Errorf("invalid ULID: %w", err)
	}
	return ULID(id), nil
}

// String returns the string representation of the ULID.
func (u ULID) String() string {
	return ulid.ULID(u).String()
}

// IsZero returns true if the ULID is zero/empty.
func (u ULID) IsZero() bool {
	return ulid.ULID(u).Compare(ulid.ULID{}) == 0
}

// Value implements driver.Valuer for database storage.
func (u ULID) Value() (driver.Value, error) {
	if u.IsZero() {
		return nil, nil
	}
	return ulid.ULID(u).String(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (u *ULID) Scan(value any) error {
	if value == nil {
		*u = ULID{}
		return nil
	}

	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("unsupported type for ULID: %T", value)
	}
	if s == "" {
		*u = ULID{}
		return nil
	}
	id, err := ulid.Parse(s)
	if err != nil {
		return fmt.Errorf("scanning ULID: %w", err)
	}
	*u = ULID(id)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (u ULID) MarshalJSON() ([]byte, error) {
	if u.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + u.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *ULID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*u = ULID{}
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("invalid ULID JSON: %s", string(data))
	}
	s := string(data[1 : len(data)-1])
	if s == "" {
		*u = ULID{}
		return nil
	}
	id, err := ulid.Parse(s)
	if err != nil {
		return fmt.Errorf("parsing ULID JSON: %w", err)
	}
	*u = ULID(id)
	return nil
}

// GormDataType returns the GORM data type for ULID.
func (ULID) GormDataType() string {
	return "varchar(26)"
}

// StageSummary captures one stage's terminal condition for a recorded run.
type StageSummary struct {
	Name           string `json:"name"`
	Kind           string `json:"kind"`
	State          string `json:"state"`
	Abnormal       bool   `json:"abnormal,omitempty"`
	UnitsIn        int64  `json:"units_in"`
	UnitsOut       int64  `json:"units_out"`
	TransientSkips int64  `json:"transient_skips"`
}

// StageSummaries is stored as a JSON text column.
type StageSummaries []StageSummary

// Value implements driver.Valuer.
func (s StageSummaries) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshaling stage summaries: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (s *StageSummaries) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported type for stage summaries: %T", value)
	}
	if len(data) == 0 {
		*s = nil
		return nil
	}
	return json.Unmarshal(data, s)
}

// GormDataType returns the GORM data type for StageSummaries.
func (StageSummaries) GormDataType() string {
	return "text"
}

// Run is one recorded pipeline execution.
type Run struct {
	ID         ULID           `gorm:"primarykey;type:varchar(26)" json:"id"`
	RunID      string         `gorm:"index" json:"run_id"`
	Input      string         `json:"input"`
	Outputs    int            `json:"outputs"`
	Status     string         `gorm:"index" json:"status"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Stages     StageSummaries `gorm:"type:text" json:"stages"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `gorm:"index" json:"finished_at"`
	CreatedAt  time.Time      `json:"created_at"`
}

// TableName overrides the default pluralized table name.
func (Run) TableName() string {
	return "runs"
}

// BeforeCreate generates a ULID if not already set.
func (r *Run) BeforeCreate(tx *gorm.DB) error {
	if r.ID.IsZero() {
		r.ID = NewULID()
	}
	return nil
}
