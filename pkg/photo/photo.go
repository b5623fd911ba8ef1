// Package photo handles student photos: inline data URIs, format sniffing
// and downscaling before a photo is stored.
package photo

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"path"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/webp"

	"github.com/kittclouds/moshaver/pkg/pool"
)

const (
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
	MIMEWebP = "image/webp"
	MIMEGIF  = "image/gif"
	MIMEBMP  = "image/bmp"

	// MaxEdge bounds the longer side of a normalized photo.
	MaxEdge = 512
	quality = 85
)

var (
	ErrNotDataURI  = errors.New("photo: not a base64 data URI")
	ErrUnsupported = errors.New("photo: unsupported image format")
	ErrEmpty       = errors.New("photo: empty image")
)

// ParseDataURI splits "data:<mime>;base64,<payload>" into its MIME type and
// decoded bytes.
func ParseDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, ErrNotDataURI
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return "", nil, ErrNotDataURI
	}
	mime := strings.TrimSuffix(meta, ";base64")
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrNotDataURI, err)
	}
	if mime == "" {
		mime = Sniff(data)
	}
	return mime, data, nil
}

// EncodeDataURI renders data as a base64 data URI.
func EncodeDataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// IsDataURI reports whether s holds an inline image.
func IsDataURI(s string) bool {
	return strings.HasPrefix(s, "data:image/")
}

// ExtForMIME returns the file extension (with dot) used for mime, or "" when
// mime has no file form.
func ExtForMIME(mime string) string {
	switch mime {
	case MIMEJPEG:
		return ".jpg"
	case MIMEPNG:
		return ".png"
	case MIMEWebP:
		return ".webp"
	case MIMEGIF:
		return ".gif"
	case MIMEBMP:
		return ".bmp"
	}
	return ""
}

// MIMEForExt maps a file name or extension to a MIME type, or "".
func MIMEForExt(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg":
		return MIMEJPEG
	case ".png":
		return MIMEPNG
	case ".webp":
		return MIMEWebP
	case ".gif":
		return MIMEGIF
	case ".bmp":
		return MIMEBMP
	}
	return ""
}

// HasFileForm reports whether a photo of type mime keeps its type when
// written to a file named with ExtForMIME and read back by extension.
func HasFileForm(mime string) bool {
	ext := ExtForMIME(mime)
	return ext != "" && MIMEForExt(ext) == mime
}

// Sniff detects the MIME type from the leading bytes.
func Sniff(data []byte) string {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	return http.DetectContentType(head)
}

// Decode reads a jpeg, png or webp image.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	r := bytes.NewReader(data)
	switch ct := Sniff(data); {
	case strings.Contains(ct, "jpeg"):
		return jpeg.Decode(r)
	case strings.Contains(ct, "png"):
		return png.Decode(r)
	case strings.Contains(ct, "webp"):
		return webp.Decode(r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, ct)
	}
}

// Normalize decodes data, fits it within MaxEdge on the long side and
// re-encodes it as JPEG.
func Normalize(data []byte) ([]byte, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Dx() > MaxEdge || b.Dy() > MaxEdge {
		img = imaging.Fit(img, MaxEdge, MaxEdge, imaging.CatmullRom)
	}
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("photo: encode: %w", err)
	}
	return pool.Bytes(buf), nil
}
