package protocol

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestStatsRecordSize(t *testing.T) {
	t.Parallel()
	if got := len(AppendStatsRecord(nil, StatsRecord{})); got != RecordSize {
		t.Fatalf("encoded record: got %d bytes, want %d", got, RecordSize)
	}
}

func TestStatsPacketDecode(t *testing.T) {
	t.Parallel()
	recs := []StatsRecord{
		{Kind: StreamKindMicrophone, GapMax: 21333, CurrentJitterFrames: -1, DesiredJitterFrames: 3, Received: 900, Lost: 4},
		{Kind: StreamKindInjected, StreamID: uuid.New(), WindowGapAvg: 10666.5, Starves: 2, Duplicate: 1},
	}
	b := AppendStatsPacket(nil, testSender, true, recs)
	if want := HeaderSize + statsPrefixSize + 2*RecordSize; len(b) != want {
		t.Fatalf("packet length: got %d, want %d", len(b), want)
	}

	p, err := ParseStatsPacket(b)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Append {
		t.Error("expected append flag")
	}
	if len(p.Records) != 2 {
		t.Fatalf("records: got %d, want 2", len(p.Records))
	}
	for i := range recs {
		if p.Records[i] != recs[i] {
			t.Errorf("record %d: got %+v, want %+v", i, p.Records[i], recs[i])
		}
	}
}

func TestStatsPacketTruncated(t *testing.T) {
	t.Parallel()
	b := AppendStatsPacket(nil, testSender, false, []StatsRecord{{}})
	_, err := ParseStatsPacket(b[:len(b)-1])
	if !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("got %v, want ErrMalformedPacket", err)
	}
}

func TestStatsCapacity(t *testing.T) {
	t.Parallel()
	tests := []struct {
		maxSize int
		want    int
	}{
		{HeaderSize + statsPrefixSize + RecordSize - 1, 0},
		{HeaderSize + statsPrefixSize + RecordSize, 1},
		{HeaderSize + statsPrefixSize + 2*RecordSize, 2},
		{1200, 10},
		{0, 0},
	}
	for _, tc := range tests {
		if got := StatsCapacity(tc.maxSize); got != tc.want {
			t.Errorf("StatsCapacity(%d): got %d, want %d", tc.maxSize, got, tc.want)
		}
	}
}
