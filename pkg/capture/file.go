package capture

import (
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket/pcapgo"
	"github.com/rs/zerolog"
)

// OpenFile replays a capture file. Both classic pcap and pcapng are accepted.
func OpenFile(path string, logger zerolog.Logger) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture file %s: %w", path, err)
	}

	if r, err := pcapgo.NewReader(f); err == nil {
		return newStream("file:"+path, r, r.LinkType(), f, logger), nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("rewind capture file %s: %w", path, err)
	}
	ng, err := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("capture file %s is neither pcap nor pcapng: %w", path, err)
	}
	return newStream("file:"+path, ng, ng.LinkType(), f, logger), nil
}
