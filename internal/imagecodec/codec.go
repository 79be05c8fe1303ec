package imagecodec

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMIMEType is used when the extension is unknown or missing.
const DefaultMIMEType = "image/jpeg"

// EncodedImage is an image ready to be attached inline to an AI request.
type EncodedImage struct {
	Base64Data string
	MIMEType   string
}

// Fetcher loads bytes for remote image refs (s3://bucket/key).
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Codec reads local files or remote refs and encodes them. A fresh
// EncodedImage is produced on every call; nothing is cached.
type Codec struct {
	remote Fetcher
}

// New returns a Codec. remote may be nil, in which case s3:// refs fail.
func New(remote Fetcher) *Codec {
	return &Codec{remote: remote}
}

// EncodeImage reads path from the local filesystem.
func EncodeImage(path string) (EncodedImage, error) {
	return New(nil).EncodeImage(context.Background(), path)
}

func (c *Codec) EncodeImage(ctx context.Context, ref string) (EncodedImage, error) {
	data, err := c.read(ctx, ref)
	if err != nil {
		return EncodedImage{}, err
	}
	mime := MIMETypeFromPath(ref)
	sniff(data, mime, ref)
	return EncodedImage{
		Base64Data: base64.StdEncoding.EncodeToString(data),
		MIMEType:   mime,
	}, nil
}

func (c *Codec) read(ctx context.Context, ref string) ([]byte, error) {
	if IsRemote(ref) {
		if c.remote == nil {
			return nil, fmt.Errorf("no fetcher configured for %s", ref)
		}
		data, err := c.remote.Fetch(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("fetch image: %w", err)
		}
		return data, nil
	}
	path := strings.TrimPrefix(ref, "file://")
	if path == "" {
		return nil, errors.New("empty image path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return data, nil
}

// IsRemote reports whether ref points at object storage rather than the local disk.
func IsRemote(ref string) bool {
	return strings.HasPrefix(ref, "s3://")
}

var extMIMETypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"heic": "image/heic",
}

// MIMETypeFromPath infers the image MIME type from the file extension.
func MIMETypeFromPath(path string) string {
	if m, ok := extMIMETypes[strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))]; ok {
		return m
	}
	return DefaultMIMEType
}

// IsImageExtension reports whether ext, with or without its leading dot, is
// one MIMETypeFromPath recognizes.
func IsImageExtension(ext string) bool {
	_, ok := extMIMETypes[strings.ToLower(strings.TrimPrefix(ext, "."))]
	return ok
}
