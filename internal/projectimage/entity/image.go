package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Image types.
const (
	TypeMain      = "main"
	TypeGallery   = "gallery"
	TypeFloorPlan = "floor_plan"
	TypeLocation  = "location"
	TypeVR        = "vr"
)

var Types = []string{TypeMain, TypeGallery, TypeFloorPlan, TypeLocation, TypeVR}

// Lifecycle values. Purged rows have had their objects removed from storage.
const (
	LifecycleActive   = "active"
	LifecycleArchived = "archived"
	LifecyclePurged   = "purged"
)

// Rendition is one stored size of an image. URL is resolved on read and never persisted.
type Rendition struct {
	Path   string `json:"path"`
	URL    string `json:"url,omitempty"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Renditions maps a size name (thumbnail, small, ...) to its object. Stored as JSON.
type Renditions map[string]Rendition

func (r Renditions) Value() (driver.Value, error) {
	if r == nil {
		return nil, nil
	}
	stored := make(Renditions, len(r))
	for k, v := range r {
		v.URL = ""
		stored[k] = v
	}
	b, err := json.Marshal(stored)
	return string(b), err
}

func (r *Renditions) Scan(src any) error {
	return scanJSON(src, r)
}

// Dimensions of the uploaded original.
type Dimensions struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}

func (d Dimensions) Value() (driver.Value, error) {
	b, err := json.Marshal(d)
	return string(b), err
}

func (d *Dimensions) Scan(src any) error {
	return scanJSON(src, d)
}

// scanJSON decodes a JSON column. NULL and malformed values leave dst zeroed.
func scanJSON(src any, dst any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("scan json: unsupported type %T", src)
	}
	if len(b) == 0 {
		return nil
	}
	_ = json.Unmarshal(b, dst)
	return nil
}

// Image is a row of project_images. FilePath is the object key of the optimized rendition.
type Image struct {
	ID           int64      `db:"id" json:"id"`
	ProjectUUID  string     `db:"project_uuid" json:"project_uuid"`
	ImageType    string     `db:"image_type" json:"image_type"`
	FileName     string     `db:"file_name" json:"file_name"`
	FilePath     string     `db:"file_path" json:"file_path"`
	FileSize     int64      `db:"file_size" json:"file_size"`
	MimeType     string     `db:"mime_type" json:"mime_type"`
	Dimensions   Dimensions `db:"dimensions" json:"dimensions"`
	Thumbnails   Renditions `db:"thumbnails" json:"thumbnails"`
	AltText      *string    `db:"alt_text" json:"alt_text"`
	DisplayOrder int        `db:"display_order" json:"display_order"`
	Lifecycle    string     `db:"lifecycle" json:"-"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`

	URL string `db:"-" json:"url"`
}

// Keys returns every object key the image owns.
func (i *Image) Keys() []string {
	keys := []string{i.FilePath}
	for _, r := range i.Thumbnails {
		if r.Path != "" && r.Path != i.FilePath {
			keys = append(keys, r.Path)
		}
	}
	return keys
}

// MainImage is the cover shown on project cards.
type MainImage struct {
	FilePath   string     `json:"file_path"`
	URL        string     `json:"url"`
	Thumbnails Renditions `json:"thumbnails"`
}

// Patch holds editable fields; nil fields are left alone.
type Patch struct {
	AltText      *string
	DisplayOrder *int
	ImageType    *string
}

type Order struct {
	ID           int64 `json:"id" validate:"gt=0"`
	DisplayOrder int   `json:"display_order" validate:"min=0"`
}

type TypeStat struct {
	ImageType string `db:"image_type" json:"image_type"`
	Count     int    `db:"count" json:"count"`
	TotalSize int64  `db:"total_size" json:"total_size"`
}

type Stats struct {
	Total     int        `json:"total"`
	TotalSize int64      `json:"totalSize"`
	ByType    []TypeStat `json:"byType"`
}

type Uploaded struct {
	ID         int64      `json:"id"`
	Filename   string     `json:"filename"`
	Thumbnails Renditions `json:"thumbnails"`
}

type Failure struct {
	ID       int64  `json:"id,omitempty"`
	Filename string `json:"filename,omitempty"`
	Error    string `json:"error"`
}

type UploadResult struct {
	Uploaded []Uploaded `json:"uploaded"`
	Failed   []Failure  `json:"failed"`
}

type BulkResult struct {
	Deleted int       `json:"deleted"`
	Failed  []Failure `json:"failed"`
}
