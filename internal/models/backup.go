package models

// BackupInfo describes one database backup snapshot.
type BackupInfo struct {
	Filename  string `json:"filename"`
	CreatedAt int64  `json:"created_at"`
	SizeBytes int64  `json:"size_bytes"`
}
