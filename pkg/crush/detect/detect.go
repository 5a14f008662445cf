// Package detect identifies image formats from file content.
// File extensions are never consulted.
package detect

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/jamesainslie/crush/pkg/crush/types"
)

// SniffLen is the number of leading bytes examined.
const SniffLen = 512

// Detector reports the content type of a file.
type Detector interface {
	Detect(path string) (types.ContentType, error)
}

// DetectType classifies content from its leading bytes. Anything that is
// not a supported image format is Unknown.
func DetectType(head []byte) types.ContentType {
	switch http.DetectContentType(head) {
	case string(types.PNG):
		return types.PNG
	case string(types.JPEG):
		return types.JPEG
	default:
		return types.Unknown
	}
}

// SniffDetector reads the head of a file and classifies it with DetectType.
type SniffDetector struct{}

// Detect implements Detector.
func (SniffDetector) Detect(path string) (types.ContentType, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.Unknown, fmt.Errorf("open for type detection: %w", err)
	}
	defer f.Close()

	buf := make([]byte, SniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return types.Unknown, fmt.Errorf("read for type detection: %w", err)
	}

	return DetectType(buf[:n]), nil
}

var _ Detector = SniffDetector{}
