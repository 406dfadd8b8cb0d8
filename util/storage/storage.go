package storage

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ImageStore keeps uploaded report photos. Delete must succeed when the image
// is already gone.
type ImageStore interface {
	Save(ctx context.Context, filename string, r io.Reader) (string, error)
	Delete(ctx context.Context, ref string) error
}

// uniqueName keeps the upload's extension and replaces the rest with a uuid.
func uniqueName(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) > 8 {
		ext = ext[:8]
	}
	return uuid.NewString() + ext
}
