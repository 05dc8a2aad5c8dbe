package client

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/zsiec/sonar/internal/protocol"
)

// StatsReporter packs a registry's stream stats into as few outbound packets
// as fit a maximum packet size.
type StatsReporter struct {
	sender        uuid.UUID
	maxPacketSize int
	capacity      int
}

// NewStatsReporter returns a reporter whose packets carry sender in their
// header and never exceed maxPacketSize bytes.
func NewStatsReporter(sender uuid.UUID, maxPacketSize int) (*StatsReporter, error) {
	capacity := protocol.StatsCapacity(maxPacketSize)
	if capacity < 1 {
		return nil, fmt.Errorf("max packet size %d cannot hold a stats record (need %d)",
			maxPacketSize, protocol.HeaderSize+3+protocol.RecordSize)
	}
	return &StatsReporter{sender: sender, maxPacketSize: maxPacketSize, capacity: capacity}, nil
}

// Capacity returns the number of records per packet.
func (sr *StatsReporter) Capacity() int { return sr.capacity }

// Emit builds the stats packets of one reporting pass over reg, filling each
// packet greedily in registry order. The first packet clears the append
// flag and every later one sets it. A registry with no streams yields no
// packets.
func (sr *StatsReporter) Emit(reg *Registry) [][]byte {
	all := reg.AllStreamStats()
	if len(all) == 0 {
		return nil
	}

	packets := make([][]byte, 0, (len(all)+sr.capacity-1)/sr.capacity)
	recs := make([]protocol.StatsRecord, 0, sr.capacity)
	for start := 0; start < len(all); start += sr.capacity {
		recs = recs[:0]
		for _, st := range all[start:min(start+sr.capacity, len(all))] {
			recs = append(recs, st.Record())
		}
		buf := make([]byte, 0, sr.maxPacketSize)
		packets = append(packets, protocol.AppendStatsPacket(buf, sr.sender, start > 0, recs))
	}
	return packets
}
