package models

// MediaAsset is the read-only view of an episode the streaming engine needs.
type MediaAsset struct {
	EpisodeID     int64  `db:"id"`
	FilePath      string `db:"file_path"`
	FileSizeBytes int64  `db:"file_size"`
}
