package storage

import "time"

// Blob is one row of the blobs table
type Blob struct {
	Key       string    `json:"key" db:"key"`
	Data      []byte    `json:"data" db:"data"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
