package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Stream kinds carried in stats records.
const (
	StreamKindMicrophone uint8 = 0
	StreamKindInjected   uint8 = 1
)

// RecordSize is the encoded length of a StatsRecord.
const RecordSize = 117

// statsPrefixSize covers the append flag and the record count.
const statsPrefixSize = 1 + 2

// StatsRecord is the health report of one stream. Time gaps are in
// microseconds.
type StatsRecord struct {
	Kind     uint8
	StreamID uuid.UUID

	GapMin       uint64
	GapMax       uint64
	GapAvg       float64
	WindowGapMin uint64
	WindowGapMax uint64
	WindowGapAvg float64

	FramesAvailable     uint32
	CurrentJitterFrames int16
	DesiredJitterFrames uint16
	Starves             uint32
	ConsecutiveNotMixed uint32
	Overflows           uint32
	SilentFramesDropped uint32

	Received     uint32
	Unreasonable uint32
	Early        uint32
	Late         uint32
	Lost         uint32
	Recovered    uint32
	Duplicate    uint32
}

// AppendStatsRecord appends the encoding of rec to dst.
func AppendStatsRecord(dst []byte, rec StatsRecord) []byte {
	le := binary.LittleEndian
	dst = append(dst, rec.Kind)
	dst = append(dst, rec.StreamID[:]...)
	dst = le.AppendUint64(dst, rec.GapMin)
	dst = le.AppendUint64(dst, rec.GapMax)
	dst = appendFloat64(dst, rec.GapAvg)
	dst = le.AppendUint64(dst, rec.WindowGapMin)
	dst = le.AppendUint64(dst, rec.WindowGapMax)
	dst = appendFloat64(dst, rec.WindowGapAvg)
	dst = le.AppendUint32(dst, rec.FramesAvailable)
	dst = le.AppendUint16(dst, uint16(rec.CurrentJitterFrames))
	dst = le.AppendUint16(dst, rec.DesiredJitterFrames)
	for _, v := range []uint32{
		rec.Starves, rec.ConsecutiveNotMixed, rec.Overflows, rec.SilentFramesDropped,
		rec.Received, rec.Unreasonable, rec.Early, rec.Late, rec.Lost, rec.Recovered, rec.Duplicate,
	} {
		dst = le.AppendUint32(dst, v)
	}
	return dst
}

func readStatsRecord(r *Reader) (StatsRecord, error) {
	var rec StatsRecord
	var err error
	if rec.Kind, err = r.Uint8("record kind"); err != nil {
		return rec, err
	}
	if rec.StreamID, err = r.UUID("record stream id"); err != nil {
		return rec, err
	}
	for _, f := range []*uint64{&rec.GapMin, &rec.GapMax} {
		if *f, err = r.Uint64("record gap"); err != nil {
			return rec, err
		}
	}
	if rec.GapAvg, err = r.Float64("record gap avg"); err != nil {
		return rec, err
	}
	for _, f := range []*uint64{&rec.WindowGapMin, &rec.WindowGapMax} {
		if *f, err = r.Uint64("record window gap"); err != nil {
			return rec, err
		}
	}
	if rec.WindowGapAvg, err = r.Float64("record window gap avg"); err != nil {
		return rec, err
	}
	if rec.FramesAvailable, err = r.Uint32("record frames available"); err != nil {
		return rec, err
	}
	current, err := r.Uint16("record current jitter frames")
	if err != nil {
		return rec, err
	}
	rec.CurrentJitterFrames = int16(current)
	if rec.DesiredJitterFrames, err = r.Uint16("record desired jitter frames"); err != nil {
		return rec, err
	}
	for _, f := range []*uint32{
		&rec.Starves, &rec.ConsecutiveNotMixed, &rec.Overflows, &rec.SilentFramesDropped,
		&rec.Received, &rec.Unreasonable, &rec.Early, &rec.Late, &rec.Lost, &rec.Recovered, &rec.Duplicate,
	} {
		if *f, err = r.Uint32("record counter"); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

// StatsCapacity returns how many records fit in one stats packet of at most
// maxPacketSize bytes.
func StatsCapacity(maxPacketSize int) int {
	n := (maxPacketSize - HeaderSize - statsPrefixSize) / RecordSize
	if n < 0 {
		return 0
	}
	return n
}

// AppendStatsPacket appends a stream stats packet holding recs. appendFlag is
// false for the first packet of a reporting pass and true for the rest.
func AppendStatsPacket(dst []byte, sender uuid.UUID, appendFlag bool, recs []StatsRecord) []byte {
	dst = AppendHeader(dst, AudioStreamStats, sender)
	var flag uint8
	if appendFlag {
		flag = 1
	}
	dst = append(dst, flag)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(recs)))
	for _, rec := range recs {
		dst = AppendStatsRecord(dst, rec)
	}
	return dst
}

// StatsPacket is a decoded stream stats packet.
type StatsPacket struct {
	Header  Header
	Append  bool
	Records []StatsRecord
}

// ParseStatsPacket decodes a stream stats packet.
func ParseStatsPacket(b []byte) (StatsPacket, error) {
	var p StatsPacket
	r := NewReader(b)

	var err error
	if p.Header, err = readHeader(r); err != nil {
		return p, err
	}
	if p.Header.Type != AudioStreamStats {
		return p, &ParseError{Field: "type", Err: fmt.Errorf("%w: got %s, want %s", ErrMalformedPacket, p.Header.Type, AudioStreamStats)}
	}
	flag, err := r.Uint8("append flag")
	if err != nil {
		return p, err
	}
	p.Append = flag != 0
	count, err := r.Uint16("record count")
	if err != nil {
		return p, err
	}
	if int(count)*RecordSize > r.Len() {
		return p, &ParseError{Field: "records", Err: fmt.Errorf("%w: %d records need %d bytes, have %d", ErrMalformedPacket, count, int(count)*RecordSize, r.Len())}
	}
	p.Records = make([]StatsRecord, 0, count)
	for range count {
		rec, err := readStatsRecord(r)
		if err != nil {
			return p, err
		}
		p.Records = append(p.Records, rec)
	}
	return p, nil
}
