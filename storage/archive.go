package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dosada05/skill-arena/models"
)

// BracketArchive is the JSON document stored once a tournament has a champion.
type BracketArchive struct {
	Tournament   *models.Tournament    `json:"tournament"`
	Participants []*models.Participant `json:"participants"`
	Rounds       [][]*models.Match     `json:"rounds"`
	ArchivedAt   time.Time             `json:"archived_at"`
}

type BracketArchiver interface {
	ArchiveBracket(ctx context.Context, archive *BracketArchive) (*UploadResult, error)
}

type uploaderArchiver struct {
	uploader FileUploader
	prefix   string
}

func NewBracketArchiver(uploader FileUploader, prefix string) BracketArchiver {
	if prefix == "" {
		prefix = "brackets"
	}
	return &uploaderArchiver{uploader: uploader, prefix: prefix}
}

func ArchiveKey(prefix string, tournamentID int) string {
	return fmt.Sprintf("%s/tournament_%d/final.json", prefix, tournamentID)
}

func (a *uploaderArchiver) ArchiveBracket(ctx context.Context, archive *BracketArchive) (*UploadResult, error) {
	if archive == nil || archive.Tournament == nil {
		return nil, fmt.Errorf("bracket archive requires a tournament")
	}
	if archive.ArchivedAt.IsZero() {
		archive.ArchivedAt = time.Now().UTC()
	}
	body, err := json.Marshal(archive)
	if err != nil {
		return nil, fmt.Errorf("failed to encode bracket archive for tournament %d: %w", archive.Tournament.ID, err)
	}
	return a.uploader.Upload(ctx, ArchiveKey(a.prefix, archive.Tournament.ID), "application/json", bytes.NewReader(body))
}
