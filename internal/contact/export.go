package contact

import (
	"io"
	"strconv"
	"strings"

	"github.com/hanfour/zeyang-construction-sub000/internal/contact/entity"
)

var csvHeader = []string{"ID", "Name", "Email", "Phone", "Company", "Subject", "Message", "Source",
	"Read", "Replied", "Created At", "Notes", "Read By", "Replied By"}

// quote wraps s in double quotes, doubling embedded quotes.
func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// WriteCSV renders contacts as CSV, one row per line.
func WriteCSV(w io.Writer, contacts []entity.Contact) error {
	var b strings.Builder
	b.WriteString(strings.Join(csvHeader, ","))
	b.WriteByte('\n')
	for _, c := range contacts {
		row := []string{
			strconv.FormatInt(c.ID, 10),
			quote(c.Name),
			quote(c.Email),
			quote(deref(c.Phone)),
			quote(deref(c.Company)),
			quote(deref(c.Subject)),
			quote(c.Message),
			quote(c.Source),
			yesNo(c.IsRead),
			yesNo(c.IsReplied),
			c.CreatedAt.Format("2006-01-02 15:04:05"),
			quote(deref(c.Notes)),
			quote(deref(c.ReadByName)),
			quote(deref(c.RepliedByName)),
		}
		b.WriteString(strings.Join(row, ","))
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}
