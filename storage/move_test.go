package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type removeFault struct {
	err     error
	applied bool // the delete happened even though an error is returned
}

// fakeObjects is an in-memory objectAPI with injectable removal and stat faults.
type fakeObjects struct {
	mu      sync.Mutex
	objects map[string]bool
	faults  map[string]removeFault
	statErr error
}

func newFakeObjects(keys ...string) *fakeObjects {
	f := &fakeObjects{objects: make(map[string]bool), faults: make(map[string]removeFault)}
	for _, k := range keys {
		f.objects[k] = true
	}
	return f
}

func notFound(key string) error {
	return minio.ErrorResponse{StatusCode: 404, Code: "NoSuchKey", Message: "The specified key does not exist.", Key: key}
}

func (f *fakeObjects) CopyObject(_ context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.objects[src.Object] {
		return minio.UploadInfo{}, notFound(src.Object)
	}
	f.objects[dst.Object] = true
	return minio.UploadInfo{Bucket: dst.Bucket, Key: dst.Object}, nil
}

func (f *fakeObjects) RemoveObject(_ context.Context, _, objectName string, _ minio.RemoveObjectOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fault, ok := f.faults[objectName]; ok {
		if fault.applied {
			delete(f.objects, objectName)
		}
		return fault.err
	}
	delete(f.objects, objectName)
	return nil
}

func (f *fakeObjects) StatObject(_ context.Context, _, objectName string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statErr != nil {
		return minio.ObjectInfo{}, f.statErr
	}
	if !f.objects[objectName] {
		return minio.ObjectInfo{}, notFound(objectName)
	}
	return minio.ObjectInfo{Key: objectName}, nil
}

func (f *fakeObjects) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[key]
}

func newFakeStorage(objects *fakeObjects) *S3Storage {
	return &S3Storage{BucketName: "board-files", objects: objects}
}

func TestMove(t *testing.T) {
	objects := newFakeObjects("temp/a.png")
	s3 := newFakeStorage(objects)

	require.NoError(t, s3.Move(context.Background(), "temp/a.png", "public/a.png"))
	assert.False(t, objects.has("temp/a.png"))
	assert.True(t, objects.has("public/a.png"))
}

func TestMove_MissingSource(t *testing.T) {
	s3 := newFakeStorage(newFakeObjects())

	err := s3.Move(context.Background(), "temp/a.png", "public/a.png")
	require.Error(t, err)
	var minioErr minio.ErrorResponse
	require.True(t, errors.As(err, &minioErr))
	assert.Equal(t, "NoSuchKey", minioErr.Code)
}

func TestMove_SourceRemovedDespiteError(t *testing.T) {
	objects := newFakeObjects("temp/a.png")
	objects.faults["temp/a.png"] = removeFault{err: errors.New("i/o timeout"), applied: true}
	s3 := newFakeStorage(objects)

	require.NoError(t, s3.Move(context.Background(), "temp/a.png", "public/a.png"))
	assert.False(t, objects.has("temp/a.png"))
	assert.True(t, objects.has("public/a.png"), "the only remaining copy must be kept")
}

func TestMove_SourceStillPresentDiscardsCopy(t *testing.T) {
	objects := newFakeObjects("temp/a.png")
	objects.faults["temp/a.png"] = removeFault{err: errors.New("AccessDenied")}
	s3 := newFakeStorage(objects)

	err := s3.Move(context.Background(), "temp/a.png", "public/a.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDenied")
	assert.True(t, objects.has("temp/a.png"))
	assert.False(t, objects.has("public/a.png"))
}

func TestMove_SourceStateUnknownKeepsBoth(t *testing.T) {
	objects := newFakeObjects("temp/a.png")
	objects.faults["temp/a.png"] = removeFault{err: errors.New("i/o timeout")}
	objects.statErr = errors.New("connection reset by peer")
	s3 := newFakeStorage(objects)

	err := s3.Move(context.Background(), "temp/a.png", "public/a.png")
	require.Error(t, err)
	assert.True(t, objects.has("temp/a.png"))
	assert.True(t, objects.has("public/a.png"))

	// A retry finishes the move once the store recovers.
	delete(objects.faults, "temp/a.png")
	objects.statErr = nil
	require.NoError(t, s3.Move(context.Background(), "temp/a.png", "public/a.png"))
	assert.False(t, objects.has("temp/a.png"))
	assert.True(t, objects.has("public/a.png"))
}

func TestExists(t *testing.T) {
	s3 := newFakeStorage(newFakeObjects("public/a.png"))

	ok, err := s3.Exists(context.Background(), "public/a.png")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s3.Exists(context.Background(), "public/b.png")
	require.NoError(t, err)
	assert.False(t, ok)
}
