package utils

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amyflash/audio-drama-system/models"
)

// EpisodeStore resolves the media file behind an episode.
type EpisodeStore struct {
	db *pgxpool.Pool
}

func NewEpisodeStore(db *pgxpool.Pool) *EpisodeStore {
	return &EpisodeStore{db: db}
}

// FindEpisode returns models.ErrEpisodeNotFound when the episode does not
// exist. An episode with no uploaded file comes back with an empty FilePath.
func (s *EpisodeStore) FindEpisode(ctx context.Context, id int64) (*models.MediaAsset, error) {
	stmt := "SELECT id, COALESCE(file_path, ''), file_size FROM episodes WHERE id = $1;"

	var a models.MediaAsset
	err := s.db.QueryRow(ctx, stmt, id).Scan(&a.EpisodeID, &a.FilePath, &a.FileSizeBytes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrEpisodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error loading episode %d: %w", id, err)
	}
	return &a, nil
}
