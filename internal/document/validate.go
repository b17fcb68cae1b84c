package document

import (
	"bytes"
	"fmt"
)

// DefaultMaxSize is the largest PDF the parser accepts.
const DefaultMaxSize = 100 * 1024 * 1024 // 100MB

// headerWindow is how far into the data the %PDF- marker may appear.
const headerWindow = 1024

var pdfMagic = []byte("%PDF-")

// validate rejects data that cannot be a PDF before any parser sees it.
func validate(data []byte, maxSize int64) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: document is empty", ErrParse)
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return fmt.Errorf("%w: document too large: %d bytes (max: %d bytes)", ErrParse, len(data), maxSize)
	}
	head := data[:min(len(data), headerWindow)]
	if !bytes.Contains(head, pdfMagic) {
		return fmt.Errorf("%w: not a PDF (missing %s header)", ErrParse, pdfMagic)
	}
	return nil
}
