package metadata

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Image is the owning record for a revision chain. The raw bytes behind an
// Image never change after ingest; every edit produces a new Revision.
type Image struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Owner     string    `gorm:"index:idx_images_owner_created,priority:1;not null"`
	Mime      string    `gorm:"not null"`
	Width     int
	Height    int
	SizeBytes int64
	RawPath   string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"index:idx_images_owner_created,priority:2"`

	Revisions []Revision `gorm:"foreignKey:ImageID;constraint:OnDelete:CASCADE"`
}

// Revision is one entry in an image's linear edit history. ParentID is nil
// for a revision derived directly from the original upload (there is no row
// representing the original itself — see Image.RawPath); otherwise it
// references the revision it was derived from. TombstonedAt is set, not
// deleted, when a revision is undone — see DESIGN.md for the tombstone
// rationale.
type Revision struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey"`
	ImageID      uuid.UUID  `gorm:"type:uuid;index;not null"`
	ParentID     *uuid.UUID `gorm:"type:uuid"`
	OpType       string     `gorm:"not null"`
	OpParams     OpParams   `gorm:"type:jsonb"`
	Bucket       string     `gorm:"not null"` // always "results"; revisions never live in the raw bucket
	ResultPath   string     `gorm:"not null"`
	Mime         string     `gorm:"not null"`
	Width        int
	Height       int
	SizeBytes    int64
	CreatedAt    time.Time `gorm:"index"`
	TombstonedAt *time.Time
}

// OpParams is a JSON-serializable map persisted as a single jsonb column,
// matching spec.md §4.1's structured operation parameters without pulling in
// gorm.io/datatypes for a single column.
type OpParams map[string]interface{}

// Value implements driver.Valuer.
func (p OpParams) Value() (driver.Value, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("op_params: marshal: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (p *OpParams) Scan(src interface{}) error {
	if src == nil {
		*p = nil
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("op_params: unsupported scan type %T", src)
	}
	if len(raw) == 0 {
		*p = nil
		return nil
	}
	out := make(OpParams)
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("op_params: unmarshal: %w", err)
	}
	*p = out
	return nil
}

func (Image) TableName() string    { return "images" }
func (Revision) TableName() string { return "revisions" }
