package httputil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// MaxBodyBytes caps JSON request bodies. Reflections and moderation checks
// carry user text, webhooks carry user ID batches; none come close.
const MaxBodyBytes = 1 << 20

// ParseJSON decodes a single JSON value from the request body into dest
func ParseJSON(r *http.Request, dest interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	if len(body) > MaxBodyBytes {
		return fmt.Errorf("request body exceeds %d bytes", MaxBodyBytes)
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes a 400 on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// ParsePathString extracts a gorilla/mux path variable
func ParsePathString(r *http.Request, key string) (string, error) {
	if v := mux.Vars(r)[key]; v != "" {
		return v, nil
	}
	return "", fmt.Errorf("missing path parameter: %s", key)
}

// ParsePathStringOrError extracts a path variable and writes a 400 on failure
func ParsePathStringOrError(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	val, err := ParsePathString(r, key)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return "", false
	}
	return val, true
}

// parseQuery runs parse on a present query parameter. ok is false when the
// parameter is absent.
func parseQuery[T any](r *http.Request, key, kind string, parse func(string) (T, error)) (val T, ok bool, err error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return val, false, nil
	}
	if val, err = parse(raw); err != nil {
		return val, false, fmt.Errorf("invalid %s for query param %s: %s", kind, key, raw)
	}
	return val, true, nil
}

// ParseQueryInt returns defaultVal when key is absent
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	val, ok, err := parseQuery(r, key, "integer", strconv.Atoi)
	if err != nil {
		return 0, err
	}
	if !ok {
		return defaultVal, nil
	}
	return val, nil
}

// ParseQueryString returns defaultVal when key is absent
func ParseQueryString(r *http.Request, key string, defaultVal string) string {
	if val := r.URL.Query().Get(key); val != "" {
		return val
	}
	return defaultVal
}

// ParseQueryBool returns nil when key is absent
func ParseQueryBool(r *http.Request, key string) (*bool, error) {
	val, ok, err := parseQuery(r, key, "boolean", strconv.ParseBool)
	if err != nil || !ok {
		return nil, err
	}
	return &val, nil
}

// ParseQueryTime parses an RFC 3339 timestamp and returns nil when key is absent
func ParseQueryTime(r *http.Request, key string) (*time.Time, error) {
	val, ok, err := parseQuery(r, key, "timestamp", func(s string) (time.Time, error) {
		return time.Parse(time.RFC3339, s)
	})
	if err != nil || !ok {
		return nil, err
	}
	return &val, nil
}

// RequireNonEmpty writes a 400 naming fieldName when value is empty
func RequireNonEmpty(w http.ResponseWriter, value, fieldName string) bool {
	if value == "" {
		WriteBadRequest(w, fmt.Sprintf("%s is required", fieldName))
		return false
	}
	return true
}
