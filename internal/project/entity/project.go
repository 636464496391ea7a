package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	imageentity "github.com/hanfour/zeyang-construction-sub000/internal/projectimage/entity"
)

// Categories.
const (
	CategoryResidential = "residential"
	CategoryCommercial  = "commercial"
	CategoryMixed       = "mixed"
	CategoryOther       = "other"
)

var Categories = []string{CategoryResidential, CategoryCommercial, CategoryMixed, CategoryOther}

// Sales statuses.
const (
	StatusPlanning  = "planning"
	StatusPreSale   = "pre_sale"
	StatusOnSale    = "on_sale"
	StatusSoldOut   = "sold_out"
	StatusCompleted = "completed"
)

var Statuses = []string{StatusPlanning, StatusPreSale, StatusOnSale, StatusSoldOut, StatusCompleted}

const (
	LifecycleActive   = "active"
	LifecycleArchived = "archived"
)

// CustomFields holds free-form per-project attributes as a JSON object.
type CustomFields map[string]any

func (c CustomFields) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	b, err := json.Marshal(c)
	return string(b), err
}

func (c *CustomFields) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*c = nil
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("scan custom_fields: unsupported type %T", src)
	}
	if len(b) == 0 {
		*c = nil
		return nil
	}
	m := CustomFields{}
	if err := json.Unmarshal(b, &m); err != nil {
		*c = nil
		return nil
	}
	*c = m
	return nil
}

// Project is a row of projects. CreatedByName and UpdatedByName are joined from users.
type Project struct {
	ID           int64        `db:"id" json:"id"`
	UUID         string       `db:"uuid" json:"uuid"`
	Slug         string       `db:"slug" json:"slug"`
	Title        string       `db:"title" json:"title"`
	Subtitle     *string      `db:"subtitle" json:"subtitle"`
	Category     string       `db:"category" json:"category"`
	Status       string       `db:"status" json:"status"`
	Location     string       `db:"location" json:"location"`
	BaseAddress  *string      `db:"base_address" json:"base_address"`
	Year         *int         `db:"year" json:"year"`
	Area         *string      `db:"area" json:"area"`
	UnitCount    *int         `db:"unit_count" json:"unit_count"`
	Description  *string      `db:"description" json:"description"`
	DisplayOrder int          `db:"display_order" json:"display_order"`
	IsFeatured   bool         `db:"is_featured" json:"is_featured"`
	ViewCount    int          `db:"view_count" json:"view_count"`
	CustomFields CustomFields `db:"custom_fields" json:"custom_fields"`
	Lifecycle    string       `db:"lifecycle" json:"-"`
	CreatedBy    *int64       `db:"created_by" json:"created_by"`
	UpdatedBy    *int64       `db:"updated_by" json:"updated_by"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updated_at"`

	CreatedByName *string `db:"created_by_name" json:"created_by_name"`
	UpdatedByName *string `db:"updated_by_name" json:"updated_by_name"`
}

// ListItem is a project card: the row plus its tag names, image count and cover.
type ListItem struct {
	Project
	ImageCount int                    `db:"image_count" json:"image_count"`
	Tags       []string               `db:"-" json:"tags"`
	MainImage  *imageentity.MainImage `db:"-" json:"main_image"`
}

// TagRef is a tag as shown on a project.
type TagRef struct {
	ID         int64  `db:"id" json:"id"`
	Name       string `db:"name" json:"name"`
	Identifier string `db:"identifier" json:"identifier"`
	Category   string `db:"category" json:"category"`

	ProjectID int64 `db:"project_id" json:"-"`
}

// Detail is a project with its active images and tags.
type Detail struct {
	Project
	Images []imageentity.Image `json:"images"`
	Tags   []TagRef            `json:"tags"`
}

// Related is a lighter row used for "see also" lists.
type Related struct {
	ID        int64   `db:"id" json:"id"`
	UUID      string  `db:"uuid" json:"uuid"`
	Slug      string  `db:"slug" json:"slug"`
	Title     string  `db:"title" json:"title"`
	Subtitle  *string `db:"subtitle" json:"subtitle"`
	Category  string  `db:"category" json:"category"`
	Status    string  `db:"status" json:"status"`
	Location  string  `db:"location" json:"location"`
	ViewCount int     `db:"view_count" json:"view_count"`
}

// Filter narrows list queries. Search matches title, subtitle and location.
type Filter struct {
	Category   string
	Status     string
	IsFeatured *bool
	Search     string
}

// Patch holds editable fields; nil fields are left alone. Tags replaces the tag set when set.
type Patch struct {
	Title        *string
	Subtitle     *string
	Category     *string
	Status       *string
	Location     *string
	BaseAddress  *string
	Year         *int
	Area         *string
	UnitCount    *int
	Description  *string
	DisplayOrder *int
	IsFeatured   *bool
	CustomFields *CustomFields
	Tags         *[]string
}

// Order sets the display_order of one project.
type Order struct {
	Identifier   string `json:"identifier" validate:"required"`
	DisplayOrder int    `json:"displayOrder" validate:"min=0"`
}

type Totals struct {
	Views    int `json:"views"`
	Visitors int `json:"visitors"`
	Contacts int `json:"contacts"`
	Images   int `json:"images"`
	Tags     int `json:"tags"`
}

type DailyStat struct {
	Date      string `json:"date"`
	ViewCount int    `json:"view_count"`
}

type StatProject struct {
	UUID  string `json:"uuid"`
	Title string `json:"title"`
}

// Statistics is the admin analytics view of one project. Per-day figures are not tracked,
// so Daily is always empty.
type Statistics struct {
	Project StatProject `json:"project"`
	Period  int         `json:"period"`
	Totals  Totals      `json:"totals"`
	Daily   []DailyStat `json:"daily"`
}
