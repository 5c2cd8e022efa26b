package testutils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pinboard/filetx/files"
)

const mockEndpoint = "https://mock.s3.local/bucket"

// Call is one recorded store call.
type Call struct {
	Op         string // MOVE, REMOVE, PRESIGN_POST, PRESIGN_GET
	Key        string
	Dest       string // MOVE only
	Expiry     time.Duration
	Conditions files.UploadConditions
	Err        error
}

// FileBasedS3Mock implements a disk-based S3 storage mock for testing.
// Objects are files under baseDir; moves are renames.
type FileBasedS3Mock struct {
	mu         sync.Mutex
	baseDir    string
	errors     map[string]error    // key -> error for any call on that key
	moveErrors map[[2]string]error // (src, dst) -> error for one move direction
	calls      []Call
}

// NewFileBasedS3Mock creates a mock rooted at baseDir, creating it if needed.
func NewFileBasedS3Mock(baseDir string) (*FileBasedS3Mock, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileBasedS3Mock{
		baseDir:    baseDir,
		errors:     make(map[string]error),
		moveErrors: make(map[[2]string]error),
	}, nil
}

// Put stores an object in the mock storage (as a file on disk).
func (m *FileBasedS3Mock) Put(key string, reader io.Reader) error {
	filePath := m.keyToFilePath(key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}

// Seed stores each key with its own name as content.
func (m *FileBasedS3Mock) Seed(keys ...string) error {
	for _, key := range keys {
		if err := m.Put(key, strings.NewReader(key)); err != nil {
			return err
		}
	}
	return nil
}

// Move renames src to dst.
func (m *FileBasedS3Mock) Move(_ context.Context, src, dst string) error {
	err := m.moveErr(src, dst)
	if err == nil {
		err = m.rename(src, dst)
	}
	m.record(Call{Op: "MOVE", Key: src, Dest: dst, Err: err})
	return err
}

func (m *FileBasedS3Mock) rename(src, dst string) error {
	srcPath := m.keyToFilePath(src)
	if _, err := os.Stat(srcPath); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("NoSuchKey: source object not found: %s", src)
	}

	dstPath := m.keyToFilePath(dst)
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	if err := os.Rename(srcPath, dstPath); err != nil {
		return fmt.Errorf("failed to move object: %w", err)
	}
	return nil
}

// Remove deletes key. Missing keys are not an error, as with S3.
func (m *FileBasedS3Mock) Remove(_ context.Context, key string) error {
	err := m.keyErr(key)
	if err == nil {
		if rmErr := os.Remove(m.keyToFilePath(key)); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = fmt.Errorf("failed to delete file: %w", rmErr)
		}
	}
	m.record(Call{Op: "REMOVE", Key: key, Err: err})
	return err
}

// PresignUpload returns a fake upload policy echoing the conditions.
func (m *FileBasedS3Mock) PresignUpload(_ context.Context, key string, cond files.UploadConditions) (*files.UploadPolicy, error) {
	err := m.keyErr(key)
	m.record(Call{Op: "PRESIGN_POST", Key: key, Conditions: cond, Err: err})
	if err != nil {
		return nil, err
	}

	fields := map[string]string{"key": key, "policy": "mock-policy"}
	if cond.ContentType != "" {
		fields["Content-Type"] = cond.ContentType
	}
	return &files.UploadPolicy{Path: key, URL: mockEndpoint, Fields: fields, Expires: cond.Expires}, nil
}

// PresignGet returns a fake signed URL carrying the expiry in seconds.
func (m *FileBasedS3Mock) PresignGet(_ context.Context, key string, expiry time.Duration) (string, error) {
	err := m.keyErr(key)
	m.record(Call{Op: "PRESIGN_GET", Key: key, Expiry: expiry, Err: err})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s?X-Amz-Expires=%d", mockEndpoint, key, int(expiry.Seconds())), nil
}

// PublicURL is not recorded; it never reaches a real store either.
func (m *FileBasedS3Mock) PublicURL(key string) string {
	return mockEndpoint + "/" + key
}

// Test helper methods

// SetError makes every call on key fail with err. For moves the source key
// is matched.
func (m *FileBasedS3Mock) SetError(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[key] = err
}

// ClearError removes any configured error for a specific key
func (m *FileBasedS3Mock) ClearError(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.errors, key)
}

// FailMove makes the move from src to dst fail with err, leaving moves in
// the other direction alone.
func (m *FileBasedS3Mock) FailMove(src, dst string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moveErrors[[2]string{src, dst}] = err
}

// Calls returns every recorded call in issue order.
func (m *FileBasedS3Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// MoveCalls returns the recorded moves as "src -> dst" strings.
func (m *FileBasedS3Mock) MoveCalls() []string {
	var moves []string
	for _, c := range m.Calls() {
		if c.Op == "MOVE" {
			moves = append(moves, c.Key+" -> "+c.Dest)
		}
	}
	return moves
}

// ResetCalls forgets recorded calls but keeps stored objects and errors.
func (m *FileBasedS3Mock) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Exists reports whether key is stored.
func (m *FileBasedS3Mock) Exists(key string) bool {
	_, err := os.Stat(m.keyToFilePath(key))
	return err == nil
}

// GetStoredKeys returns all stored keys, sorted.
func (m *FileBasedS3Mock) GetStoredKeys() []string {
	var keys []string
	err := filepath.Walk(m.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			keys = append(keys, m.filePathToKey(path))
		}
		return nil
	})
	if err != nil {
		return []string{}
	}
	sort.Strings(keys)
	return keys
}

// GetStoredData returns the data for a specific key
func (m *FileBasedS3Mock) GetStoredData(key string) ([]byte, bool) {
	data, err := os.ReadFile(m.keyToFilePath(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

func (m *FileBasedS3Mock) record(c Call) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
}

func (m *FileBasedS3Mock) keyErr(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[key]
}

func (m *FileBasedS3Mock) moveErr(src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.moveErrors[[2]string{src, dst}]; ok {
		return err
	}
	return m.errors[src]
}

// keyToFilePath converts an S3 key to a file path
func (m *FileBasedS3Mock) keyToFilePath(key string) string {
	return filepath.Join(m.baseDir, filepath.FromSlash(key))
}

// filePathToKey converts a file path back to an S3 key
func (m *FileBasedS3Mock) filePathToKey(filePath string) string {
	relPath, err := filepath.Rel(m.baseDir, filePath)
	if err != nil {
		return filePath
	}
	return filepath.ToSlash(relPath)
}
