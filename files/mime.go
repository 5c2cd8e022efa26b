package files

import (
	"fmt"
	"mime"

	"github.com/gabriel-vasile/mimetype"
)

// GetFilePathFromMimeType appends the canonical extension for mimeType to
// basePath. Parameters such as "; charset=utf-8" are ignored. Unknown types,
// and types without a dedicated extension, are rejected without contacting
// the store.
func GetFilePathFromMimeType(basePath, mimeType string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return "", &Error{
			Code:    CodeUnsupportedMimeType,
			Message: fmt.Sprintf("invalid MIME type %q", mimeType),
			Err:     err,
		}
	}

	m := mimetype.Lookup(mediaType)
	if m == nil || m.Extension() == "" {
		return "", &Error{
			Code:    CodeUnsupportedMimeType,
			Message: fmt.Sprintf("unsupported MIME type %q", mediaType),
		}
	}
	return basePath + m.Extension(), nil
}

// GetFilePathFromMimeType is the Service form of the package function.
func (s *Service) GetFilePathFromMimeType(basePath, mimeType string) (string, error) {
	return GetFilePathFromMimeType(basePath, mimeType)
}
