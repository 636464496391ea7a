package entity

import "time"

// Contact lifecycle values.
const (
	StatusActive   = "active"
	StatusArchived = "archived"
)

// Contact is one contact-form submission. ReadByName and RepliedByName are joined from users.
type Contact struct {
	ID         int64      `db:"id" json:"id"`
	Name       string     `db:"name" json:"name"`
	Email      string     `db:"email" json:"email"`
	Phone      *string    `db:"phone" json:"phone"`
	Company    *string    `db:"company" json:"company"`
	Subject    *string    `db:"subject" json:"subject"`
	Message    string     `db:"message" json:"message"`
	Source     string     `db:"source" json:"source"`
	IPAddress  *string    `db:"ip_address" json:"ip_address"`
	UserAgent  *string    `db:"user_agent" json:"user_agent"`
	IsRead     bool       `db:"is_read" json:"is_read"`
	ReadBy     *int64     `db:"read_by" json:"read_by"`
	ReadAt     *time.Time `db:"read_at" json:"read_at"`
	IsReplied  bool       `db:"is_replied" json:"is_replied"`
	RepliedBy  *int64     `db:"replied_by" json:"replied_by"`
	RepliedAt  *time.Time `db:"replied_at" json:"replied_at"`
	Notes      *string    `db:"notes" json:"notes"`
	Status     string     `db:"status" json:"status"`
	ArchivedBy *int64     `db:"archived_by" json:"archived_by,omitempty"`
	ArchivedAt *time.Time `db:"archived_at" json:"archived_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`

	ReadByName    *string `db:"read_by_name" json:"read_by_name"`
	RepliedByName *string `db:"replied_by_name" json:"replied_by_name"`
}

// Filter narrows list and export queries. Dates are YYYY-MM-DD and compared against DATE(created_at).
type Filter struct {
	IsRead    *bool
	IsReplied *bool
	Source    string
	Search    string
	DateFrom  string
	DateTo    string
}

// Summary counts submissions in a stats window. Rates are percentages rounded to one decimal.
type Summary struct {
	Total     int     `db:"total" json:"total"`
	Read      int     `db:"read_count" json:"read"`
	Replied   int     `db:"replied_count" json:"replied"`
	Unread    int     `db:"unread_count" json:"unread"`
	ReadRate  float64 `db:"-" json:"readRate"`
	ReplyRate float64 `db:"-" json:"replyRate"`
}

type Daily struct {
	Date    string `db:"date" json:"date"`
	Count   int    `db:"daily_count" json:"count"`
	Read    int    `db:"read_count" json:"read"`
	Replied int    `db:"replied_count" json:"replied"`
}

type Stats struct {
	Period  int     `json:"period"`
	Summary Summary `json:"summary"`
	Daily   []Daily `json:"daily"`
}
