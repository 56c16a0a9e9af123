package conn

import (
	"net"
	"sort"

	"github.com/m-lab/analysetcp/config"
	"github.com/m-lab/analysetcp/tcp"
)

// Map owns every connection reconstructed from the trace, keyed by the
// sender-side four-tuple.  It is the inbound interface of the core:
// the pcap decoder pushes observations and the map routes them to the
// right connection.
type Map struct {
	cfg   *config.Config
	conns map[string]*Connection
}

// NewMap returns an empty connection map.
func NewMap(cfg *config.Config) *Map {
	return &Map{cfg: cfg, conns: make(map[string]*Connection)}
}

// Len returns the number of connections.
func (m *Map) Len() int {
	return len(m.conns)
}

// Get returns the connection for the four-tuple, or nil.
func (m *Map) Get(srcIP net.IP, srcPort uint16, dstIP net.IP, dstPort uint16) *Connection {
	return m.conns[MakeConnKey(srcIP, srcPort, dstIP, dstPort)]
}

// getOrCreate returns the connection for the four-tuple, creating it
// anchored at firstSeq on first sight.
func (m *Map) getOrCreate(srcIP net.IP, srcPort uint16, dstIP net.IP, dstPort uint16, firstSeq uint32) *Connection {
	key := MakeConnKey(srcIP, srcPort, dstIP, dstPort)
	c, ok := m.conns[key]
	if !ok {
		c = NewConnection(m.cfg, srcIP, srcPort, dstIP, dstPort, firstSeq)
		m.conns[key] = c
	}
	return c
}

// PushSent registers an outgoing segment observed on the sender side.
// The connection is created on first sight, anchored at the segment's
// sequence number.  totalSize is the captured frame length.
func (m *Map) PushSent(srcIP net.IP, srcPort uint16, dstIP net.IP, dstPort uint16, seg *tcp.DataSeg, totalSize uint32) error {
	c := m.getOrCreate(srcIP, srcPort, dstIP, dstPort, seg.SeqAbsolute)
	return c.RegisterSent(seg, totalSize)
}

// PushAck registers an acknowledgment flowing back to the sender.  The
// four-tuple is the sender-side one (the ACK's destination is the
// sender).  Unknown connections are ignored: the trace may start
// mid-stream.
func (m *Map) PushAck(srcIP net.IP, srcPort uint16, dstIP net.IP, dstPort uint16, seg *tcp.DataSeg) bool {
	c := m.Get(srcIP, srcPort, dstIP, dstPort)
	if c == nil {
		return false
	}
	return c.RegisterAck(seg)
}

// PushRecv registers a receiver-side arrival for the sender four-tuple.
func (m *Map) PushRecv(srcIP net.IP, srcPort uint16, dstIP net.IP, dstPort uint16, seg *tcp.DataSeg) error {
	c := m.Get(srcIP, srcPort, dstIP, dstPort)
	if c == nil {
		return nil
	}
	return c.RegisterRecvd(seg)
}

// PushSojourn attaches a kernel-entry sample for the sender four-tuple.
func (m *Map) PushSojourn(srcIP net.IP, srcPort uint16, dstIP net.IP, dstPort uint16, seg *tcp.DataSeg) error {
	c := m.Get(srcIP, srcPort, dstIP, dstPort)
	if c == nil {
		return nil
	}
	return c.RegisterSojourn(seg)
}

// Sorted returns the connections ordered by key, for stable output.
func (m *Map) Sorted() []*Connection {
	keys := make([]string, 0, len(m.conns))
	for k := range m.conns {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Connection, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.conns[k])
	}
	return out
}
