package controller

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// userID accepts a JSON string or an integer.
type userID string

func (u *userID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*u = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*u = userID(strings.TrimSpace(s))
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return errors.New("user_id must be a string or integer")
	}
	*u = userID(strconv.FormatInt(n, 10))
	return nil
}

type addReadingRequest struct {
	UserID   userID   `json:"user_id"`
	HRVValue *float64 `json:"hrv_value"`
}

func (req addReadingRequest) validate() error {
	if req.UserID == "" || req.HRVValue == nil {
		return errors.New("invalid input: user_id and hrv_value required")
	}
	v := *req.HRVValue
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return errors.New("invalid input: hrv_value must be a finite non-negative number")
	}
	return nil
}

func parseReadingsQuery(r *http.Request) (userID string, limit int, err error) {
	q := r.URL.Query()
	userID = strings.TrimSpace(q.Get("user_id"))
	if userID == "" {
		return "", 0, errors.New("missing 'user_id'")
	}

	limit = defaultLimit
	if s := q.Get("limit"); s != "" {
		n, convErr := strconv.Atoi(s)
		if convErr != nil {
			return "", 0, errors.New("invalid 'limit' (expected integer)")
		}
		if n <= 0 {
			return "", 0, errors.New("'limit' must be > 0")
		}
		if n > maxLimit {
			return "", 0, errors.New("'limit' must be <= 1000")
		}
		limit = n
	}
	return userID, limit, nil
}
