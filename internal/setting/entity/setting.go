package entity

import (
	"database/sql"
	"time"
)

// Value types.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeJSON    = "json"
)

// Setting is a raw row of the `settings` table; Value is string-encoded per Type.
type Setting struct {
	Key         string         `db:"key"`
	Value       sql.NullString `db:"value"`
	Type        string         `db:"type"`
	Category    string         `db:"category"`
	Description *string        `db:"description"`
	UpdatedBy   *int64         `db:"updated_by"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// Value is a setting with its value coerced to a JSON-friendly Go type.
type Value struct {
	Key         string    `json:"key,omitempty"`
	Value       any       `json:"value"`
	Type        string    `json:"type"`
	Category    string    `json:"category"`
	Description *string   `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Entry is one key of a bulk update request.
type Entry struct {
	Value    any    `json:"value"`
	Type     string `json:"type"`
	Category string `json:"category"`
}

// Result reports the outcome of upserting one key.
type Result struct {
	Key      string `json:"key"`
	Success  bool   `json:"success"`
	Affected int64  `json:"affected"`
}
