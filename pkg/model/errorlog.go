package model

import "time"

// ErrorLog is an append-only failure record stored in catalog.errors.
// URL holds the context key: a source URL or an operation name such as "update_product_5".
type ErrorLog struct {
	ID           int64     `json:"id"`
	URL          string    `json:"url"`
	StatusCode   int       `json:"statusCode"`
	ErrorMessage *string   `json:"errorMessage"`
	Timestamp    time.Time `json:"timestamp"`
}
