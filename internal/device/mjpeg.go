package device

import (
	"bufio"
	"fmt"
	"io"
)

const maxFrameBytes = 8 << 20

// mjpegReader splits a concatenated JPEG stream (ffmpeg image2pipe output)
// into frames on SOI/EOI markers. SOI/EOI pairs nested inside a frame, such as
// an EXIF thumbnail, do not end it.
type mjpegReader struct {
	r   *bufio.Reader
	buf []byte
}

func newMJPEGReader(r io.Reader) *mjpegReader {
	return &mjpegReader{r: bufio.NewReaderSize(r, 64<<10)}
}

// Next returns the next complete JPEG. The returned slice is owned by the
// caller.
func (m *mjpegReader) Next() ([]byte, error) {
	if err := m.seekSOI(); err != nil {
		return nil, err
	}
	m.buf = append(m.buf[:0], 0xFF, 0xD8)
	depth := 1
	var prev byte
	for {
		b, err := m.r.ReadByte()
		if err != nil {
			return nil, err
		}
		m.buf = append(m.buf, b)
		if prev == 0xFF {
			switch b {
			case 0xD8:
				depth++
			case 0xD9:
				depth--
				if depth == 0 {
					frame := make([]byte, len(m.buf))
					copy(frame, m.buf)
					return frame, nil
				}
			}
		}
		if len(m.buf) > maxFrameBytes {
			return nil, fmt.Errorf("jpeg frame exceeds %d bytes without EOI", maxFrameBytes)
		}
		prev = b
	}
}

func (m *mjpegReader) seekSOI() error {
	var prev byte
	for {
		b, err := m.r.ReadByte()
		if err != nil {
			return err
		}
		if prev == 0xFF && b == 0xD8 {
			return nil
		}
		prev = b
	}
}
