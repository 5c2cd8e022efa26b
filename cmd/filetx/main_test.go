package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pinboard/filetx/config"
	"github.com/pinboard/filetx/files"
	"github.com/pinboard/filetx/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceOptions(t *testing.T) {
	opts, err := serviceOptions(config.FilesConfig{
		UploadExpiry:    "5m",
		MaxUploadSize:   "2mb",
		SignedURLExpiry: "1d",
		MaxConcurrency:  8,
	})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, opts.UploadExpiry)
	assert.Equal(t, int64(2*1024*1024), opts.MaxUploadSize)
	assert.Equal(t, 24*time.Hour, opts.SignedURLExpiry)
	assert.Equal(t, 8, opts.MaxConcurrency)

	defaults, err := serviceOptions(config.FilesConfig{})
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, defaults.UploadExpiry)
	assert.Equal(t, int64(10*1024*1024), defaults.MaxUploadSize)
	assert.Equal(t, time.Hour, defaults.SignedURLExpiry)
	assert.Equal(t, 4, defaults.MaxConcurrency)

	_, err = serviceOptions(config.FilesConfig{MaxUploadSize: "lots"})
	assert.Error(t, err)
}

func TestRestoreMoveValidation(t *testing.T) {
	_, err := restoreMove("", []string{"public/a.png"})
	assert.Error(t, err)

	_, err = restoreMove("", []string{"deleted/temp/a.png"})
	assert.Error(t, err, "temp origin needs an explicit target")

	_, err = restoreMove("archive", []string{"deleted/public/a.png"})
	assert.Error(t, err)

	_, err = restoreMove("private", []string{"deleted/temp/a.png"})
	assert.NoError(t, err)
}

func newCLIService(t *testing.T) (*files.Service, *testutils.FileBasedS3Mock) {
	t.Helper()
	mock, err := testutils.NewFileBasedS3Mock(t.TempDir())
	require.NoError(t, err)
	return files.NewService(mock, files.Options{}), mock
}

func TestRestoreToOriginZone(t *testing.T) {
	svc, mock := newCLIService(t)
	require.NoError(t, mock.Seed("deleted/public/a.png", "deleted/private/b.pdf"))

	paths := []string{"deleted/public/a.png", "deleted/private/b.pdf"}
	move, err := restoreMove("", paths)
	require.NoError(t, err)

	result, err := runMoves(context.Background(), svc, paths, move, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"public/a.png", "private/b.pdf"}, result.Paths)
	assert.Len(t, result.Moves, 2)
	assert.Equal(t, []string{"private/b.pdf", "public/a.png"}, mock.GetStoredKeys())
}

func TestRunMovesPublishReturnsURLs(t *testing.T) {
	svc, mock := newCLIService(t)
	require.NoError(t, mock.Seed("temp/a.png"))

	result, err := runMoves(context.Background(), svc, []string{"temp/a.png"}, moveCommands["publish"].move, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"public/a.png"}, result.Paths)
	assert.Equal(t, []string{"https://mock.s3.local/bucket/public/a.png"}, result.URLs)
	assert.Equal(t, []files.MoveOperation{{PreviousPath: "temp/a.png", NewPath: "public/a.png"}}, result.Moves)
}

func TestRunMovesRollsBackOnFailure(t *testing.T) {
	svc, mock := newCLIService(t)
	require.NoError(t, mock.Seed("public/a.png", "public/b.png"))
	mock.SetError("public/b.png", errors.New("InternalError"))

	_, err := runMoves(context.Background(), svc, []string{"public/a.png", "public/b.png"}, moveCommands["delete"].move, false)
	assert.ErrorIs(t, err, files.ErrMove)
	assert.Equal(t, []string{"public/a.png", "public/b.png"}, mock.GetStoredKeys())
}

func TestMaskSecrets(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.S3.SecretKey = "s3cr3t"

	masked := maskSecrets(cfg)
	assert.Equal(t, "********", masked.S3.SecretKey)
	assert.Equal(t, "s3cr3t", cfg.S3.SecretKey)
}

func TestPairs(t *testing.T) {
	assert.Equal(t, []pathURL{{Path: "a", URL: "u1"}, {Path: "b", URL: "u2"}}, pairs([]string{"a", "b"}, []string{"u1", "u2"}))
}
