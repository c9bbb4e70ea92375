package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"testing"
	"time"

	"github.com/Dosada05/skill-arena/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memUploader struct {
	objects     map[string][]byte
	contentType map[string]string
	err         error
}

func newMemUploader() *memUploader {
	return &memUploader{objects: map[string][]byte{}, contentType: map[string]string{}}
}

func (u *memUploader) Upload(ctx context.Context, key string, contentType string, reader io.Reader) (*UploadResult, error) {
	if u.err != nil {
		return nil, u.err
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	u.objects[key] = body
	u.contentType[key] = contentType
	return &UploadResult{Key: key, Location: u.GetPublicURL(key)}, nil
}

func (u *memUploader) GetPublicURL(key string) string { return "mem://" + key }

func TestArchiveBracket(t *testing.T) {
	up := newMemUploader()
	archiver := NewBracketArchiver(up, "")

	winner := 101
	archive := &BracketArchive{
		Tournament: &models.Tournament{ID: 7, Name: "Cup", MaxParticipants: 2, Status: models.TournamentCompleted, WinnerID: &winner},
		Participants: []*models.Participant{
			{ID: 1, TournamentID: 7, UserID: 101, BracketPosition: 1},
			{ID: 2, TournamentID: 7, UserID: 102, BracketPosition: 2},
		},
		Rounds: [][]*models.Match{{
			{ID: 1, TournamentID: 7, RoundNumber: 1, MatchNumber: 1, WinnerID: &winner, Status: models.MatchCompleted},
		}},
	}

	res, err := archiver.ArchiveBracket(context.Background(), archive)
	require.NoError(t, err)
	assert.Equal(t, "brackets/tournament_7/final.json", res.Key)
	assert.Equal(t, "mem://brackets/tournament_7/final.json", res.Location)
	assert.Equal(t, "application/json", up.contentType[res.Key])
	assert.False(t, archive.ArchivedAt.IsZero())

	var stored BracketArchive
	require.NoError(t, json.Unmarshal(up.objects[res.Key], &stored))
	assert.Equal(t, "Cup", stored.Tournament.Name)
	assert.Len(t, stored.Participants, 2)
	require.Len(t, stored.Rounds, 1)
	assert.Equal(t, 101, *stored.Rounds[0][0].WinnerID)
}

func TestArchiveBracket_KeepsTimestampAndPrefix(t *testing.T) {
	up := newMemUploader()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	res, err := NewBracketArchiver(up, "archive").ArchiveBracket(context.Background(),
		&BracketArchive{Tournament: &models.Tournament{ID: 3}, ArchivedAt: at})
	require.NoError(t, err)
	assert.Equal(t, "archive/tournament_3/final.json", res.Key)

	var stored BracketArchive
	require.NoError(t, json.Unmarshal(up.objects[res.Key], &stored))
	assert.True(t, at.Equal(stored.ArchivedAt))
}

func TestArchiveBracket_Errors(t *testing.T) {
	up := newMemUploader()
	archiver := NewBracketArchiver(up, "")

	_, err := archiver.ArchiveBracket(context.Background(), nil)
	assert.Error(t, err)
	_, err = archiver.ArchiveBracket(context.Background(), &BracketArchive{})
	assert.Error(t, err)

	up.err = errors.New("bucket unavailable")
	_, err = archiver.ArchiveBracket(context.Background(), &BracketArchive{Tournament: &models.Tournament{ID: 1}})
	assert.ErrorIs(t, err, up.err)
}

func TestCloudflareR2Uploader_Config(t *testing.T) {
	_, err := NewCloudflareR2Uploader(context.Background(), CloudflareR2UploaderConfig{AccountID: "acc"})
	assert.Error(t, err)

	_, err = NewCloudflareR2Uploader(context.Background(), CloudflareR2UploaderConfig{
		AccountID: "acc", AccessKeyID: "k", SecretAccessKey: "s", BucketName: "b", PublicBaseURL: "://bad",
	})
	assert.Error(t, err)
}

func TestCloudflareR2Uploader_GetPublicURL(t *testing.T) {
	base, err := url.Parse("https://cdn.example.com/")
	require.NoError(t, err)
	u := &cloudflareR2Uploader{publicBaseURL: base}

	assert.Equal(t, "https://cdn.example.com/brackets/tournament_1/final.json", u.GetPublicURL("/brackets/tournament_1/final.json"))
	assert.Empty(t, u.GetPublicURL(""))
	assert.Empty(t, (&cloudflareR2Uploader{}).GetPublicURL("x"))
}
