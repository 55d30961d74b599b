package extract

import (
	"fmt"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/xuacker/capkit/internal/core"
)

// Source abstracts the capture container: a decoded global header plus a
// sequence of records. The container format itself is a collaborator; the
// pipeline only consumes this interface.
type Source interface {
	LinkType() layers.LinkType
	Snaplen() uint32
	// ReadRecord returns the next raw record. io.EOF signals end-of-input.
	ReadRecord() ([]byte, gopacket.CaptureInfo, error)
	Close() error
}

type fileSource struct {
	f *os.File
	r *pcapgo.Reader
}

// openFile validates the path and decodes the pcap global header.
func openFile(path string) (*fileSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", core.ErrSourceNotFound, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", core.ErrSourceNotFound, path)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", core.ErrDecodeFailure, err)
	}
	return &fileSource{f: f, r: r}, nil
}

func (s *fileSource) LinkType() layers.LinkType { return s.r.LinkType() }
func (s *fileSource) Snaplen() uint32           { return s.r.Snaplen() }

func (s *fileSource) ReadRecord() ([]byte, gopacket.CaptureInfo, error) {
	return s.r.ReadPacketData()
}

func (s *fileSource) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
