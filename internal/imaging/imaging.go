package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/image/draw"

	_ "image/png"

	_ "golang.org/x/image/webp"
)

var (
	ErrUnsupportedFileType = errors.New("unsupported file type: please use a PNG, JPEG, or WEBP image")
	ErrInvalidDataURL      = errors.New("invalid data URL")
)

// SupportedMimeTypes lists the upload formats the generation backend accepts.
var SupportedMimeTypes = []string{"image/jpeg", "image/png", "image/webp"}

const (
	// CompressWidth bounds the width of images re-encoded for persistence.
	CompressWidth = 768
	// CompressQuality is the lossy JPEG quality for persisted images.
	CompressQuality = 80
	// ThumbnailWidth matches the small preview stored on history entries.
	ThumbnailWidth = 128
	// ThumbnailQuality is the JPEG quality for history thumbnails.
	ThumbnailQuality = 85
)

// Upload is a source photograph read from disk, together with the identity
// fields the session key is derived from.
type Upload struct {
	Name     string
	Size     int64
	ModTime  time.Time
	MimeType string
	Data     []byte
}

// LoadUpload reads and validates an image file for use as a source photo.
func LoadUpload(path string) (*Upload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	mimeType := sniffMimeType(path, data)
	if !isSupported(mimeType) {
		return nil, fmt.Errorf("%w (got %s)", ErrUnsupportedFileType, mimeType)
	}

	return &Upload{
		Name:     filepath.Base(path),
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		MimeType: mimeType,
		Data:     data,
	}, nil
}

func sniffMimeType(path string, data []byte) string {
	detected := http.DetectContentType(data)
	if detected != "application/octet-stream" {
		return detected
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	}
	return detected
}

func isSupported(mimeType string) bool {
	for _, m := range SupportedMimeTypes {
		if m == mimeType {
			return true
		}
	}
	return false
}

// EncodeDataURL wraps raw image bytes into a data URL.
func EncodeDataURL(data []byte, mimeType string) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

// DecodeDataURL unwraps a data URL into raw bytes and a MIME type.
func DecodeDataURL(url string) ([]byte, string, error) {
	if !strings.HasPrefix(url, "data:") {
		return nil, "", ErrInvalidDataURL
	}

	comma := strings.IndexByte(url, ',')
	if comma < 0 {
		return nil, "", ErrInvalidDataURL
	}

	meta := url[len("data:"):comma]
	mimeType := meta
	if semi := strings.IndexByte(meta, ';'); semi >= 0 {
		mimeType = meta[:semi]
	}

	data, err := base64.StdEncoding.DecodeString(url[comma+1:])
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	return data, mimeType, nil
}

// Compress re-encodes an image as lossy JPEG, downscaling to targetWidth
// when the image is wider. Used to shrink persisted session payloads.
func Compress(data []byte, targetWidth, quality int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if width > targetWidth {
		newHeight := int(float64(height) * float64(targetWidth) / float64(width))
		if newHeight < 1 {
			newHeight = 1
		}
		resized := image.NewRGBA(image.Rect(0, 0, targetWidth, newHeight))
		draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
		img = resized
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// CompressDataURL compresses the image behind a data URL, returning a new
// image/jpeg data URL.
func CompressDataURL(url string, targetWidth, quality int) (string, error) {
	data, _, err := DecodeDataURL(url)
	if err != nil {
		return "", err
	}
	compressed, err := Compress(data, targetWidth, quality)
	if err != nil {
		return "", err
	}
	return EncodeDataURL(compressed, "image/jpeg"), nil
}

// Thumbnail produces the small preview attached to history entries.
func Thumbnail(data []byte) (string, error) {
	thumb, err := Compress(data, ThumbnailWidth, ThumbnailQuality)
	if err != nil {
		return "", err
	}
	return EncodeDataURL(thumb, "image/jpeg"), nil
}
