package pipeline

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/vitalvas/pktfilter/dissect"
)

var (
	// ErrUnknownCapture is returned when the input is neither pcap nor pcapng.
	ErrUnknownCapture = errors.New("pipeline: unknown capture format")
)

const pcapngMagic = 0x0a0d0d0a

var pcapMagics = map[uint32]struct{}{
	0xa1b2c3d4: {},
	0xa1b23c4d: {},
}

// Source yields frames in capture order. Next returns io.EOF after the last
// frame.
type Source interface {
	Next() (dissect.Frame, error)
}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// CaptureReader reads frames from a pcap or pcapng stream.
type CaptureReader struct {
	r      packetReader
	format string
	number uint32
	closer io.Closer
}

// NewCaptureReader detects the capture format from the first bytes of r.
func NewCaptureReader(r io.Reader) (*CaptureReader, error) {
	br := bufio.NewReader(r)

	head, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownCapture, err)
	}

	if binary.LittleEndian.Uint32(head) == pcapngMagic {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("pipeline: pcapng header: %w", err)
		}
		return &CaptureReader{r: ng, format: "pcapng"}, nil
	}

	_, le := pcapMagics[binary.LittleEndian.Uint32(head)]
	_, be := pcapMagics[binary.BigEndian.Uint32(head)]
	if !le && !be {
		return nil, fmt.Errorf("%w: magic %x", ErrUnknownCapture, head)
	}

	pr, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("pipeline: pcap header: %w", err)
	}
	return &CaptureReader{r: pr, format: "pcap"}, nil
}

// OpenCapture opens a capture file. The caller must Close the reader.
func OpenCapture(path string) (*CaptureReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	cr, err := NewCaptureReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cr.closer = file
	return cr, nil
}

// Format returns "pcap" or "pcapng".
func (c *CaptureReader) Format() string {
	return c.format
}

// LinkType returns the link type of the capture.
func (c *CaptureReader) LinkType() layers.LinkType {
	return c.r.LinkType()
}

// Next returns the next frame, numbered from 1.
func (c *CaptureReader) Next() (dissect.Frame, error) {
	data, ci, err := c.r.ReadPacketData()
	if err != nil {
		return dissect.Frame{}, err
	}

	c.number++
	return dissect.Frame{
		Number:   c.number,
		Info:     ci,
		Data:     data,
		LinkType: c.r.LinkType(),
	}, nil
}

// Close closes the underlying file when the reader was opened by OpenCapture.
func (c *CaptureReader) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}
