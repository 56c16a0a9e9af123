package tcpip

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/gopacket/pcapgo"
	"github.com/valyala/gozstd"
)

// ErrTruncatedPcap means the file ended inside a record.
var ErrTruncatedPcap = fmt.Errorf("truncated PCAP file")

// OpenReader opens a pcap file, transparently decompressing .gz and
// .zst archives, and returns a packet reader over it.
func OpenReader(path string) (*pcapgo.Reader, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}

	var r io.Reader = f
	switch {
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		r = gz
	case strings.HasSuffix(path, ".zst"):
		raw, err := io.ReadAll(f)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		content, err := gozstd.Decompress(nil, raw)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		r = bytes.NewReader(content)
	}

	pcap, err := pcapgo.NewReader(r)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return pcap, f, nil
}
