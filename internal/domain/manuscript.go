package domain

import (
	"strings"
	"time"
)

// ManuscriptStatus enumerates manuscript lifecycle states. The pipeline only
// ever mutates this field; everything else on the record is owned by the
// upload layer.
type ManuscriptStatus string

const (
	ManuscriptUploaded  ManuscriptStatus = "uploaded"
	ManuscriptAnalyzing ManuscriptStatus = "analyzing"
	ManuscriptComplete  ManuscriptStatus = "complete"
	ManuscriptFailed    ManuscriptStatus = "failed"
)

// Manuscript mirrors the manuscripts table row.
type Manuscript struct {
	ID         string
	UserID     string
	Title      string
	Genre      string
	StorageKey string
	SizeBytes  int64
	Status     ManuscriptStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OwnerFromKey derives (userID, manuscriptID) from a storage key of the form
// "<user>/<manuscript>/<filename>". Keys that do not follow the convention
// yield empty segments; cost records tolerate that.
func OwnerFromKey(storageKey string) (userID, manuscriptID string) {
	parts := strings.Split(strings.Trim(storageKey, "/"), "/")
	if len(parts) > 0 {
		userID = parts[0]
	}
	if len(parts) > 1 {
		manuscriptID = parts[1]
	}
	return userID, manuscriptID
}
