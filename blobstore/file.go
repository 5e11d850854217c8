package blobstore

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

type File struct {
	Name string
	Data []byte
}

// ContentType sniffs the type from the file contents, the name is not trusted.
func (f File) ContentType() string {
	return mimetype.Detect(f.Data).String()
}

// IsMedia reports whether the file is an image or a video.
func (f File) IsMedia() bool {
	ct := f.ContentType()
	return strings.HasPrefix(ct, "image/") || strings.HasPrefix(ct, "video/")
}

func (f File) Len() int {
	return len(f.Data)
}

func (f File) reader() *bytes.Reader {
	return bytes.NewReader(f.Data)
}

// key builds a collision free object key, keeping only the detected extension.
func (f File) key(prefix string) string {
	ext := mimetype.Detect(f.Data).Extension()
	if ext == "" {
		ext = filepath.Ext(f.Name)
	}
	return prefix + uuid.NewString() + ext
}
