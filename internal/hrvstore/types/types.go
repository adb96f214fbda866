package types

import "time"

type Reading struct {
	ID          int64     `json:"-"`
	UserID      string    `json:"-"`
	ReadingTime time.Time `json:"reading_time"`
	HRVValue    float64   `json:"hrv_value"`
}
