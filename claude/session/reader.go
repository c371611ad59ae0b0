package session

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// defaultMaxLineSize bounds a single line of CLI output.
const defaultMaxLineSize = 10 * 1024 * 1024 // 10MB

var errLineTooLong = errors.New("line exceeds maximum size")

// lineReader splits the CLI's stdout into lines. A partial final line is
// returned at EOF. Blank lines are skipped.
type lineReader struct {
	r       *bufio.Reader
	maxSize int
}

func newLineReader(r io.Reader, maxSize int) *lineReader {
	if maxSize <= 0 {
		maxSize = defaultMaxLineSize
	}
	return &lineReader{r: bufio.NewReaderSize(r, 64*1024), maxSize: maxSize}
}

// next returns the next non-blank line, io.EOF at end of stream, a
// *ParseError for an oversized line (reading may continue), or the
// underlying read error.
func (lr *lineReader) next() ([]byte, error) {
	var buf []byte
	var preview []byte
	size := 0
	for {
		chunk, err := lr.r.ReadSlice('\n')
		size += len(chunk)
		if size > lr.maxSize {
			if preview == nil {
				preview = append(buf[:0:0], buf...)
				preview = append(preview, chunk...)
				if len(preview) > parseErrorPreview {
					preview = preview[:parseErrorPreview]
				}
			}
			buf = nil
		} else {
			buf = append(buf, chunk...)
		}

		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read stdout: %w", err)
		}

		if preview != nil {
			return nil, &ParseError{Line: preview, Err: fmt.Errorf("%w (%d bytes)", errLineTooLong, size)}
		}
		line := bytes.TrimSpace(buf)
		if len(line) > 0 {
			return line, nil
		}
		if err != nil {
			return nil, io.EOF
		}
		buf = buf[:0]
		size = 0
	}
}
