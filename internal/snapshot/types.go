// Package snapshot stores timestamped copies of allowlisted working-tree
// paths and restores them on failure.
package snapshot

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for an unknown or malformed snapshot ID.
	ErrNotFound = errors.New("snapshot not found")

	// ErrCorrupt is returned when metadata is unreadable or file contents
	// no longer match their recorded hashes.
	ErrCorrupt = errors.New("snapshot is corrupt")
)

// MetadataFile is the name of the metadata document inside a snapshot.
const MetadataFile = "snapshot.json"

// Prefix starts every snapshot directory name.
const Prefix = "backup-"

const (
	idLayout      = "20060102-150405.000"
	partialSuffix = ".partial"
)

// File is one regular file captured in a snapshot.
type File struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Metadata describes a snapshot.
type Metadata struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Reason    string    `json:"reason"`
	GitCommit string    `json:"git_commit,omitempty"`
	GitBranch string    `json:"git_branch,omitempty"`
	Present   []string  `json:"present"`
	Absent    []string  `json:"absent"`
	Files     []File    `json:"files"`
	TotalSize int64     `json:"total_size"`

	// Broken is set by List for snapshots whose metadata could not be read.
	Broken string `json:"broken,omitempty"`
}

// Retention bounds how many snapshots are kept.
type Retention struct {
	// KeepLast keeps the newest N snapshots. Values below 1 mean 1.
	KeepLast int
	// MaxAge drops snapshots older than this. Zero disables the age limit.
	MaxAge time.Duration
}
