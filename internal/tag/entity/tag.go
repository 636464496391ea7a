package entity

import "time"

const DefaultCategory = "other"

// Tag is a row of tags. ProjectCount is computed from project_tags on read.
type Tag struct {
	ID           int64     `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Identifier   string    `db:"identifier" json:"identifier"`
	NameEn       string    `db:"name_en" json:"name_en"`
	Category     string    `db:"category" json:"category"`
	Description  *string   `db:"description" json:"description"`
	UsageCount   int       `db:"usage_count" json:"usage_count"`
	ProjectCount int       `db:"project_count" json:"project_count"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// TagProject is the project summary listed under a tag.
type TagProject struct {
	ID       int64  `db:"id" json:"id"`
	UUID     string `db:"uuid" json:"uuid"`
	Slug     string `db:"slug" json:"slug"`
	Title    string `db:"title" json:"title"`
	Category string `db:"category" json:"category"`
	Status   string `db:"status" json:"status"`
	Location string `db:"location" json:"location"`
}

type Detail struct {
	Tag
	Projects []TagProject `json:"projects"`
}

// Patch holds the fields of an update; nil fields are left alone.
type Patch struct {
	Name        *string
	Identifier  *string
	NameEn      *string
	Category    *string
	Description *string
}

func (p Patch) Empty() bool {
	return p.Name == nil && p.Identifier == nil && p.NameEn == nil && p.Category == nil && p.Description == nil
}

// ListOptions orders the full listing. OrderBy is usage, name or created_at.
type ListOptions struct {
	Category string
	OrderBy  string
	OrderDir string
	Limit    int
}
