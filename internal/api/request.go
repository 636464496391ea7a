package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/hanfour/zeyang-construction-sub000/pkg/database"
)

// MaxJSONBody caps request bodies decoded as JSON.
const MaxJSONBody = 1 << 20

var (
	// ErrMalformedJSON is returned by Decode for unparsable bodies.
	ErrMalformedJSON = errors.New("malformed JSON body")

	phoneRe = regexp.MustCompile(`^[\d\s\-\+\(\)]+$`)

	validate = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phoneRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("strongpassword", func(fl validator.FieldLevel) bool {
		return StrongPassword(fl.Field().String())
	})
	return v
}

// StrongPassword requires 8+ characters drawn from letters, digits and @$!%*?&,
// with at least one lowercase letter, one uppercase letter and one digit.
func StrongPassword(pw string) bool {
	if len(pw) < 8 {
		return false
	}
	var lower, upper, digit bool
	for _, r := range pw {
		switch {
		case r > unicode.MaxASCII:
			return false
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune("@$!%*?&", r):
		default:
			return false
		}
	}
	return lower && upper && digit
}

// Decode reads a single JSON value of at most MaxJSONBody bytes into dst. An empty body
// leaves dst untouched; anything after the value is malformed.
func Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxJSONBody))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after JSON value", ErrMalformedJSON)
	}
	return nil
}

// Validate runs struct-tag validation and converts failures into field errors.
func Validate(v any) []FieldError {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: "", Message: err.Error()}}
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fieldPath(fe), Message: message(fe)})
	}
	return out
}

// Bind decodes and validates a JSON body, writing the 400 envelope itself on failure.
// It returns false when the handler should stop.
func Bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := Decode(r, dst); err != nil {
		Fail(w, http.StatusBadRequest, CodeValidation, "Invalid JSON payload")
		return false
	}
	if errs := Validate(dst); len(errs) > 0 {
		FailValidation(w, errs)
		return false
	}
	return true
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	f := fe.Field()
	switch fe.Tag() {
	case "required":
		return f + " is required"
	case "email":
		return "Invalid email format"
	case "phone":
		return "Invalid phone format"
	case "strongpassword":
		return "Password must be at least 8 characters and contain uppercase, lowercase and a number"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", f, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", f, fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", f, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", f, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", f, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", f, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", f, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", f)
	}
}

// PathInt64 parses a positive integer path value; the bool is false when it is missing or invalid.
func PathInt64(r *http.Request, name string) (int64, bool) {
	n, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// QueryInt returns the integer query value or def.
func QueryInt(r *http.Request, name string, def int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get(name)); err == nil {
		return n
	}
	return def
}

// QueryBool returns nil unless the query value is exactly "true" or "false".
func QueryBool(r *http.Request, name string) *bool {
	switch r.URL.Query().Get(name) {
	case "true":
		b := true
		return &b
	case "false":
		b := false
		return &b
	}
	return nil
}

// PageParams reads page, limit, orderBy and orderDir from the query string.
func PageParams(r *http.Request) database.Page {
	q := r.URL.Query()
	return database.NewPage(QueryInt(r, "page", 1), QueryInt(r, "limit", database.DefaultLimit), q.Get("orderBy"), q.Get("orderDir"))
}

// IsDate reports whether s is a YYYY-MM-DD calendar date.
func IsDate(s string) bool {
	_, err := time.Parse(time.DateOnly, s)
	return err == nil
}
