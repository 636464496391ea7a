package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name    string `json:"name" validate:"required,max=5"`
	Email   string `json:"email" validate:"required,email"`
	Phone   string `json:"phone" validate:"omitempty,phone"`
	Message string `json:"message" validate:"required,min=2,max=10"`
}

func TestStrongPassword(t *testing.T) {
	assert.True(t, StrongPassword("Str0ng!Pass"))
	assert.True(t, StrongPassword("Abcdefg1"))
	assert.False(t, StrongPassword("Abcdef1"), "too short")
	assert.False(t, StrongPassword("abcdefg1"), "no upper")
	assert.False(t, StrongPassword("ABCDEFG1"), "no lower")
	assert.False(t, StrongPassword("Abcdefgh"), "no digit")
	assert.False(t, StrongPassword("Abcdefg1#"), "disallowed symbol")
	assert.False(t, StrongPassword("Abcdéfg1"), "non ascii")
}

func TestValidateFieldErrorsUseJSONNames(t *testing.T) {
	errs := Validate(&sample{Name: "toolong", Email: "nope", Phone: "abc", Message: "x"})
	fields := map[string]string{}
	for _, e := range errs {
		fields[e.Field] = e.Message
	}
	assert.Contains(t, fields, "name")
	assert.Equal(t, "Invalid email format", fields["email"])
	assert.Equal(t, "Invalid phone format", fields["phone"])
	assert.Equal(t, "message must be at least 2 characters", fields["message"])
}

func TestValidatePasses(t *testing.T) {
	assert.Empty(t, Validate(&sample{Name: "bob", Email: "bob@x.com", Phone: "+886 (02) 1234-5678", Message: "hi"}))
}

func TestBindMalformedJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":`))
	var dst sample
	ok := Bind(rec, req, &dst)
	require.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, CodeValidation, body.Error.Code)
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	for _, body := range []string{`{"name":"a"}{"name":"b"}`, `{"name":"a"} x`, `{"name":"a"}}`} {
		var dst sample
		err := Decode(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), &dst)
		assert.ErrorIs(t, err, ErrMalformedJSON, body)
	}

	var dst sample
	require.NoError(t, Decode(httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{\"name\":\"a\"}\n  ")), &dst))
	require.NoError(t, Decode(httptest.NewRequest(http.MethodPost, "/", strings.NewReader("")), &dst))
}

func TestBindValidationErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"bob"}`))
	var dst sample
	require.False(t, Bind(rec, req, &dst))

	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeValidation, body.Error.Code)
	assert.NotEmpty(t, body.Errors)
}

func TestNotFoundRoute(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFoundRoute(rec, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"success":false,"message":"Route not found","error":{"code":"ROUTE_NOT_FOUND","path":"/api/nope"}}`, rec.Body.String())
}

func TestQueryBool(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?a=true&b=false&c=yes", nil)
	require.NotNil(t, QueryBool(req, "a"))
	assert.True(t, *QueryBool(req, "a"))
	assert.False(t, *QueryBool(req, "b"))
	assert.Nil(t, QueryBool(req, "c"))
	assert.Nil(t, QueryBool(req, "d"))
}
