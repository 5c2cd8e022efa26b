package files_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pinboard/filetx/files"
	"github.com/pinboard/filetx/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, opts files.Options) (*files.Service, *testutils.FileBasedS3Mock) {
	t.Helper()
	mock, err := testutils.NewFileBasedS3Mock(t.TempDir())
	require.NoError(t, err)
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	return files.NewService(mock, opts), mock
}

func asFileError(t *testing.T, err error) *files.Error {
	t.Helper()
	var fe *files.Error
	require.True(t, errors.As(err, &fe), "expected *files.Error, got %T: %v", err, err)
	return fe
}

func TestMoveToPublicFolder(t *testing.T) {
	svc, mock := newTestService(t, files.Options{})
	require.NoError(t, mock.Seed("temp/a.txt"))

	path, err := svc.MoveToPublicFolder(context.Background(), "temp/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "public/a.txt", path)
	assert.Equal(t, []string{"public/a.txt"}, mock.GetStoredKeys())
	assert.Equal(t, []string{"temp/a.txt -> public/a.txt"}, mock.MoveCalls())
}

func TestMoveToPrivateFolderFromPublic(t *testing.T) {
	svc, mock := newTestService(t, files.Options{})
	require.NoError(t, mock.Seed("public/docs/a.pdf"))

	path, err := svc.MoveToPrivateFolder(context.Background(), "public/docs/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "private/docs/a.pdf", path)
	assert.True(t, mock.Exists("private/docs/a.pdf"))
	assert.False(t, mock.Exists("public/docs/a.pdf"))
}

func TestMoveIsNoOpWhenAlreadyInTargetZone(t *testing.T) {
	svc, mock := newTestService(t, files.Options{})
	ctx := context.Background()

	path, err := svc.MoveToPublicFolder(ctx, "public/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "public/a.txt", path)

	paths, err := svc.BulkMoveToPrivateFolder(ctx, []string{"private/a.txt", "private/b.txt"})
	require.NoError(t, err)
	assert.Equal(t, []string{"private/a.txt", "private/b.txt"}, paths)

	path, err = svc.DeleteFile(ctx, "deleted/public/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "deleted/public/a.txt", path)

	assert.Empty(t, mock.Calls())
}

func TestBulkMoveSkipsPathsAlreadyInZone(t *testing.T) {
	svc, mock := newTestService(t, files.Options{})
	require.NoError(t, mock.Seed("temp/a.txt", "public/b.txt"))

	paths, err := svc.BulkMoveToPublicFolder(context.Background(), []string{"temp/a.txt", "public/b.txt"})
	require.NoError(t, err)
	assert.Equal(t, []string{"public/a.txt", "public/b.txt"}, paths)
	assert.Equal(t, []string{"temp/a.txt -> public/a.txt"}, mock.MoveCalls())
}

func TestBulkMovePreservesInputOrderUnderConcurrency(t *testing.T) {
	svc, mock := newTestService(t, files.Options{MaxConcurrency: 4})

	var input, want []string
	for i := 0; i < 20; i++ {
		input = append(input, fmt.Sprintf("temp/f%02d.txt", i))
		want = append(want, fmt.Sprintf("public/f%02d.txt", i))
	}
	require.NoError(t, mock.Seed(input...))

	paths, err := svc.BulkMoveToPublicFolder(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, want, paths)
	assert.Equal(t, want, mock.GetStoredKeys())
}

func TestMoveRejectsInvalidPathsBeforeAnyStoreCall(t *testing.T) {
	svc, mock := newTestService(t, files.Options{})
	require.NoError(t, mock.Seed("temp/a.txt"))

	_, err := svc.BulkMoveToPublicFolder(context.Background(), []string{"temp/a.txt", "uploads/b.txt"})
	require.Error(t, err)
	assert.ErrorIs(t, err, files.ErrInvalidPath)
	assert.Equal(t, "uploads/b.txt", asFileError(t, err).Path)
	assert.Empty(t, mock.Calls())
	assert.True(t, mock.Exists("temp/a.txt"))
}

func TestBulkMoveFailure(t *testing.T) {
	svc, mock := newTestService(t, files.Options{})
	require.NoError(t, mock.Seed("temp/a.txt"))

	_, err := svc.BulkMoveToPublicFolder(context.Background(), []string{"temp/a.txt", "temp/missing.txt"})
	require.Error(t, err)
	assert.ErrorIs(t, err, files.ErrMove)
	assert.Equal(t, "Failed to move one or more files", asFileError(t, err).Message)
	assert.False(t, files.IsFatal(err))
}

func TestDeleteFileAndRestore(t *testing.T) {
	svc, mock := newTestService(t, files.Options{})
	require.NoError(t, mock.Seed("private/a.txt"))
	ctx := context.Background()

	deleted, err := svc.DeleteFile(ctx, "private/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "deleted/private/a.txt", deleted)

	restored, err := svc.MoveToPublicFolder(ctx, deleted)
	require.NoError(t, err)
	assert.Equal(t, "public/a.txt", restored)
	assert.Equal(t, []string{"public/a.txt"}, mock.GetStoredKeys())
}

func TestCreateUploadSignedURL(t *testing.T) {
	svc, mock := newTestService(t, files.Options{
		UploadExpiry:  10 * time.Minute,
		MaxUploadSize: 5 << 20,
	})

	policy, err := svc.CreateUploadSignedURL(context.Background(), "temp/avatar.png", files.UploadPolicyParams{
		ContentType: "image/png",
	})
	require.NoError(t, err)
	assert.Equal(t, "temp/avatar.png", policy.Path)
	assert.Equal(t, fixedNow.Add(10*time.Minute), policy.Expires)
	assert.Equal(t, "image/png", policy.Fields["Content-Type"])

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "PRESIGN_POST", calls[0].Op)
	assert.Equal(t, files.UploadConditions{
		Expires:     fixedNow.Add(10 * time.Minute),
		MaxSize:     5 << 20,
		ContentType: "image/png",
	}, calls[0].Conditions)
}

func TestCreateUploadSignedURLParamsOverrideDefaults(t *testing.T) {
	svc, mock := newTestService(t, files.Options{MaxUploadSize: 1 << 20})

	_, err := svc.CreateUploadSignedURL(context.Background(), "temp/a.bin", files.UploadPolicyParams{
		ExpiresIn: 30 * time.Second,
		MaxSize:   42,
	})
	require.NoError(t, err)

	cond := mock.Calls()[0].Conditions
	assert.Equal(t, fixedNow.Add(30*time.Second), cond.Expires)
	assert.Equal(t, int64(42), cond.MaxSize)
	assert.Empty(t, cond.ContentType)
}

func TestCreateUploadSignedURLOnlyAcceptsTempZone(t *testing.T) {
	svc, mock := newTestService(t, files.Options{})

	for _, path := range []string{"public/a.png", "private/a.png", "deleted/temp/a.png", "a.png"} {
		_, err := svc.CreateUploadSignedURL(context.Background(), path, files.UploadPolicyParams{})
		assert.ErrorIs(t, err, files.ErrInvalidPath, path)
	}
	assert.Empty(t, mock.Calls())
}

func TestCreateUploadSignedURLRejectsEscapingPaths(t *testing.T) {
	svc, mock := newTestService(t, files.Options{})

	for _, path := range []string{"temp/../public/x.png", "temp/a/../../private/x.png", "temp//x.png"} {
		_, err := svc.CreateUploadSignedURL(context.Background(), path, files.UploadPolicyParams{})
		assert.ErrorIs(t, err, files.ErrInvalidPath, path)
	}
	assert.Empty(t, mock.Calls())
}

func TestCreateUploadSignedURLStoreFailure(t *testing.T) {
	svc, mock := newTestService(t, files.Options{})
	mock.SetError("temp/a.png", errors.New("signature computation failed"))

	_, err := svc.CreateUploadSignedURL(context.Background(), "temp/a.png", files.UploadPolicyParams{})
	require.Error(t, err)
	assert.ErrorIs(t, err, files.ErrCreateSignedURL)

	fe := asFileError(t, err)
	assert.Equal(t, "signature computation failed", fe.Message)
	assert.Equal(t, "temp/a.png", fe.Path)
}

func TestBulkCreateUploadSignedURL(t *testing.T) {
	svc, _ := newTestService(t, files.Options{})

	policies, err := svc.BulkCreateUploadSignedURL(context.Background(), []string{"temp/a.png", "temp/b.png"}, files.UploadPolicyParams{})
	require.NoError(t, err)
	require.Len(t, policies, 2)
	assert.Equal(t, "temp/a.png", policies[0].Path)
	assert.Equal(t, "temp/b.png", policies[1].Path)
}

func TestGetPublicFileURLNeverCallsStore(t *testing.T) {
	svc, mock := newTestService(t, files.Options{})

	assert.Equal(t, "https://mock.s3.local/bucket/public/a.png", svc.GetPublicFileURL("public/a.png"))
	assert.Equal(t,
		[]string{"https://mock.s3.local/bucket/public/a.png", "https://mock.s3.local/bucket/public/b.png"},
		svc.BulkGetPublicFileURL([]string{"public/a.png", "public/b.png"}))
	assert.Empty(t, mock.Calls())
}

func TestGetFileSignedURL(t *testing.T) {
	svc, mock := newTestService(t, files.Options{SignedURLExpiry: 2 * time.Hour})
	ctx := context.Background()

	url, err := svc.GetFileSignedURL(ctx, "private/a.pdf", files.SignedURLParams{})
	require.NoError(t, err)
	assert.Contains(t, url, "private/a.pdf")
	assert.Contains(t, url, "X-Amz-Expires=7200")

	_, err = svc.GetFileSignedURL(ctx, "private/a.pdf", files.SignedURLParams{ExpiresIn: time.Minute})
	require.NoError(t, err)

	calls := mock.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, 2*time.Hour, calls[0].Expiry)
	assert.Equal(t, time.Minute, calls[1].Expiry)
}

func TestGetFileSignedURLFailure(t *testing.T) {
	svc, mock := newTestService(t, files.Options{})
	mock.SetError("private/a.pdf", errors.New("credentials expired"))

	_, err := svc.GetFileSignedURL(context.Background(), "private/a.pdf", files.SignedURLParams{})
	assert.ErrorIs(t, err, files.ErrCreateSignedURL)
	assert.Equal(t, "credentials expired", asFileError(t, err).Message)
}

func TestGetFileSignedURLRejectsInvalidPaths(t *testing.T) {
	svc, mock := newTestService(t, files.Options{})
	ctx := context.Background()

	_, err := svc.GetFileSignedURL(ctx, "uploads/x", files.SignedURLParams{})
	assert.ErrorIs(t, err, files.ErrInvalidPath)

	_, err = svc.GetFileSignedURL(ctx, "public/../private/secret.pdf", files.SignedURLParams{})
	assert.ErrorIs(t, err, files.ErrInvalidPath)

	_, err = svc.BulkGetFileSignedURL(ctx, []string{"private/a.pdf", "uploads/x"}, files.SignedURLParams{})
	assert.ErrorIs(t, err, files.ErrInvalidPath)
	assert.Equal(t, "uploads/x", asFileError(t, err).Path)

	assert.Empty(t, mock.Calls())
}

func TestBulkGetFileSignedURL(t *testing.T) {
	svc, mock := newTestService(t, files.Options{MaxConcurrency: 3})
	ctx := context.Background()

	paths := []string{"private/a.pdf", "private/b.pdf", "private/c.pdf"}
	urls, err := svc.BulkGetFileSignedURL(ctx, paths, files.SignedURLParams{})
	require.NoError(t, err)
	require.Len(t, urls, 3)
	for i, p := range paths {
		assert.Contains(t, urls[i], p)
	}

	mock.SetError("private/b.pdf", errors.New("boom"))
	_, err = svc.BulkGetFileSignedURL(ctx, paths, files.SignedURLParams{})
	assert.ErrorIs(t, err, files.ErrCreateSignedURL)
	assert.Equal(t, "Failed to get one or more signed URLs", asFileError(t, err).Message)
}

func TestRemoveFile(t *testing.T) {
	svc, mock := newTestService(t, files.Options{})
	require.NoError(t, mock.Seed("deleted/public/a.txt", "temp/b.txt"))
	ctx := context.Background()

	require.NoError(t, svc.RemoveFile(ctx, "deleted/public/a.txt"))
	assert.Equal(t, []string{"temp/b.txt"}, mock.GetStoredKeys())

	err := svc.RemoveFile(ctx, "bucket-root.txt")
	assert.ErrorIs(t, err, files.ErrInvalidPath)

	mock.SetError("temp/b.txt", errors.New("AccessDenied"))
	err = svc.BulkRemoveFile(ctx, []string{"temp/b.txt"})
	assert.ErrorIs(t, err, files.ErrRemove)
	assert.Equal(t, "Failed to remove one or more files", asFileError(t, err).Message)
}

func TestGetFilePathFromMimeType(t *testing.T) {
	tests := []struct {
		mimeType string
		want     string
	}{
		{"image/png", "temp/upload.png"},
		{"image/jpeg", "temp/upload.jpg"},
		{"application/pdf", "temp/upload.pdf"},
		{"text/plain; charset=utf-8", "temp/upload.txt"},
	}

	svc, mock := newTestService(t, files.Options{})
	for _, tt := range tests {
		t.Run(tt.mimeType, func(t *testing.T) {
			got, err := svc.GetFilePathFromMimeType("temp/upload", tt.mimeType)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Empty(t, mock.Calls())
}

func TestGetFilePathFromMimeTypeRejectsUnknownTypes(t *testing.T) {
	for _, mimeType := range []string{"", "not a mime type", "application/x-made-up", "application/octet-stream"} {
		_, err := files.GetFilePathFromMimeType("temp/upload", mimeType)
		assert.ErrorIs(t, err, files.ErrUnsupportedMimeType, mimeType)
	}
}

func TestErrorFormatting(t *testing.T) {
	err := &files.Error{Code: files.CodeMove, Message: "Failed to move one or more files", Err: errors.New("timeout")}
	assert.Equal(t, "FILE_MOVE_ERROR: Failed to move one or more files: timeout", err.Error())
	assert.Equal(t, files.CodeMove, files.CodeOf(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, "", files.CodeOf(errors.New("plain")))

	withPath := &files.Error{Code: files.CodeInvalidPath, Message: "bad", Path: "x"}
	assert.Equal(t, `FILE_INVALID_PATH: bad (path "x")`, withPath.Error())
}
