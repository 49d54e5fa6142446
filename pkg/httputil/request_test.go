package httputil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		expectError bool
	}{
		{
			name:        "valid JSON",
			body:        `{"targetUserId": "u2"}`,
			expectError: false,
		},
		{
			name:        "invalid JSON",
			body:        `{invalid}`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(tt.body))
			var dest map[string]string

			err := ParseJSON(req, &dest)

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, "u2", dest["targetUserId"])
			}
		})
	}
}

func TestParseJSON_Limits(t *testing.T) {
	var dest map[string]string

	req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(`{"a":"1"} {"b":"2"}`))
	assert.Error(t, ParseJSON(req, &dest), "trailing values are rejected")

	big := `{"content":"` + strings.Repeat("x", MaxBodyBytes) + `"}`
	req = httptest.NewRequest("POST", "/test", bytes.NewBufferString(big))
	assert.ErrorContains(t, ParseJSON(req, &dest), "exceeds")
}

func TestParseJSONOrError(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(`nope`))
	var dest map[string]string

	ok := ParseJSONOrError(w, req, &dest)

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParsePathString(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/posts/p1", nil)
	req = mux.SetURLVars(req, map[string]string{"postID": "p1"})

	val, err := ParsePathString(req, "postID")
	require.NoError(t, err)
	assert.Equal(t, "p1", val)

	w := httptest.NewRecorder()
	_, ok := ParsePathStringOrError(w, req, "alertID")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseQueryParams(t *testing.T) {
	req := httptest.NewRequest("GET", "/test?limit=25&granted=false&startDate=2026-01-02T03:04:05Z&bad=x", nil)

	limit, err := ParseQueryInt(req, "limit", 100)
	require.NoError(t, err)
	assert.Equal(t, 25, limit)

	offset, err := ParseQueryInt(req, "offset", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, offset)

	_, err = ParseQueryInt(req, "bad", 0)
	assert.Error(t, err)

	granted, err := ParseQueryBool(req, "granted")
	require.NoError(t, err)
	require.NotNil(t, granted)
	assert.False(t, *granted)

	missing, err := ParseQueryBool(req, "resolved")
	require.NoError(t, err)
	assert.Nil(t, missing)

	start, err := ParseQueryTime(req, "startDate")
	require.NoError(t, err)
	require.NotNil(t, start)
	assert.True(t, start.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))

	_, err = ParseQueryTime(req, "bad")
	assert.Error(t, err)

	assert.Equal(t, "default", ParseQueryString(req, "action", "default"))
}

func TestRequireNonEmpty(t *testing.T) {
	w := httptest.NewRecorder()
	assert.True(t, RequireNonEmpty(w, "x", "userId"))

	w = httptest.NewRecorder()
	assert.False(t, RequireNonEmpty(w, "", "userId"))
	assert.Contains(t, w.Body.String(), "userId is required")
}
