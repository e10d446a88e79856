// Package videoio defines the video codec boundary and a deterministic,
// symmetric container format. The real video/image codec is an external
// collaborator: decode(bytes) -> sequence of frames, and
// encode(frames) -> bytes. No real video-container/codec dependency fits
// here (see DESIGN.md), so this package implements a minimal
// length-prefixed binary container good enough to round-trip a clip end
// to end in tests, behind the same interface a real muxer would
// implement.
package videoio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Frame is a single decoded frame: its dense index and opaque bytes. The
// image codec itself (pixel decoding) is out of scope; Frame only carries
// what the detector and the container need to round-trip a clip.
type Frame struct {
	ID    int
	Bytes []byte
}

const (
	magic        uint32 = 0x46524d31 // "FRM1"
	fpsEncoded   uint32 = 30
	containerTag        = "mp4v"
)

// Codec decodes a clip into frames and encodes a frame range back into a
// clip. Production code depends on this interface, not the concrete
// container, so a real muxer can be swapped in without touching callers.
type Codec interface {
	Decode(clip []byte) ([]Frame, error)
	Encode(frames []Frame) ([]byte, error)
}

// Container is the default Codec: a deterministic, symmetric binary
// format carrying a small header (fps, container tag, frame count) and
// length-prefixed frame payloads.
type Container struct{}

// Decode splits clip into its constituent frames, in dense id order
// starting at 0.
func (Container) Decode(clip []byte) ([]Frame, error) {
	r := bytes.NewReader(clip)

	var m uint32
	if err := binary.Read(r, binary.BigEndian, &m); err != nil {
		return nil, fmt.Errorf("videoio: truncated header: %w", err)
	}
	if m != magic {
		return nil, fmt.Errorf("videoio: bad magic %x", m)
	}

	var fps uint32
	if err := binary.Read(r, binary.BigEndian, &fps); err != nil {
		return nil, fmt.Errorf("videoio: truncated fps: %w", err)
	}

	tagBuf := make([]byte, 4)
	if _, err := r.Read(tagBuf); err != nil {
		return nil, fmt.Errorf("videoio: truncated tag: %w", err)
	}

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("videoio: truncated frame count: %w", err)
	}

	frames := make([]Frame, 0, count)
	for i := uint32(0); i < count; i++ {
		var size uint32
		if err := binary.Read(r, binary.BigEndian, &size); err != nil {
			return nil, fmt.Errorf("videoio: truncated frame %d length: %w", i, err)
		}
		buf := make([]byte, size)
		if _, err := r.Read(buf); err != nil {
			return nil, fmt.Errorf("videoio: truncated frame %d payload: %w", i, err)
		}
		frames = append(frames, Frame{ID: int(i), Bytes: buf})
	}

	return frames, nil
}

// Encode assembles frames (already in the desired output order) into a
// clip at 30fps, matching the source resolution implicitly carried in
// each frame's bytes, in a standard MPEG-4-tagged container header.
func (Container) Encode(frames []Frame) ([]byte, error) {
	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.BigEndian, magic); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, fpsEncoded); err != nil {
		return nil, err
	}
	buf.WriteString(containerTag)
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(frames))); err != nil {
		return nil, err
	}

	for _, f := range frames {
		if err := binary.Write(&buf, binary.BigEndian, uint32(len(f.Bytes))); err != nil {
			return nil, err
		}
		buf.Write(f.Bytes)
	}

	return buf.Bytes(), nil
}
