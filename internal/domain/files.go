package domain

import (
	"time"

	"github.com/google/uuid"
)

// FileRecord is the metadata tracked for an accepted upload. File bytes are
// never part of it.
type FileRecord struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	MediaType  string    `json:"type"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Rejection names a file that failed validation and why.
type Rejection struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}
