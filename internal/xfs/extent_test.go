package xfs

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// encodeExtent packs an Extent back into its 128-bit on-disk form, the
// inverse of decodeExtent, for building synthetic test fixtures.
func encodeExtent(e Extent) []byte {
	var state uint64
	if e.State == ExtentUnwritten {
		state = 1
	}
	hi := (state << 63) | ((e.LogicalOff & ((1 << 54) - 1)) << 9) | (uint64(e.PhysBlock) >> 43)
	lo := (uint64(e.PhysBlock) << 21) | (e.Blockcount & ((1 << 21) - 1))
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], hi)
	binary.BigEndian.PutUint64(buf[8:16], lo)
	return buf
}

func TestDecodeExtentRoundTrip(t *testing.T) {
	for _, test := range []struct {
		desc string
		want Extent
	}{
		{desc: "zero extent", want: Extent{State: ExtentNormal, LogicalOff: 0, PhysBlock: 0, Blockcount: 1}},
		{desc: "unwritten", want: Extent{State: ExtentUnwritten, LogicalOff: 4, PhysBlock: 1024, Blockcount: 8}},
		{desc: "large physical", want: Extent{State: ExtentNormal, LogicalOff: 1 << 40, PhysBlock: (1 << 51) - 1, Blockcount: (1 << 21) - 1}},
	} {
		t.Run(test.desc, func(t *testing.T) {
			got := decodeExtent(encodeExtent(test.want))
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("decodeExtent round-trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtentListMap(t *testing.T) {
	el := ExtentList{
		{State: ExtentNormal, LogicalOff: 0, PhysBlock: 100, Blockcount: 4},
		{State: ExtentUnwritten, LogicalOff: 4, PhysBlock: 200, Blockcount: 2},
		{State: ExtentNormal, LogicalOff: 10, PhysBlock: 300, Blockcount: 5},
	}

	for _, test := range []struct {
		desc      string
		logical   uint64
		wantPhys  Fsblock
		wantState ExtentState
		wantOK    bool
	}{
		{desc: "start of first extent", logical: 0, wantPhys: 100, wantState: ExtentNormal, wantOK: true},
		{desc: "middle of first extent", logical: 2, wantPhys: 102, wantState: ExtentNormal, wantOK: true},
		{desc: "unwritten extent", logical: 5, wantPhys: 201, wantState: ExtentUnwritten, wantOK: true},
		{desc: "hole between extents", logical: 7, wantOK: false},
		{desc: "third extent", logical: 12, wantPhys: 302, wantState: ExtentNormal, wantOK: true},
		{desc: "past end", logical: 100, wantOK: false},
	} {
		t.Run(test.desc, func(t *testing.T) {
			phys, state, ok := el.Map(test.logical)
			if ok != test.wantOK {
				t.Fatalf("Map(%d) ok = %v, want %v", test.logical, ok, test.wantOK)
			}
			if !ok {
				return
			}
			if phys != test.wantPhys || state != test.wantState {
				t.Errorf("Map(%d) = (%d, %v), want (%d, %v)", test.logical, phys, state, test.wantPhys, test.wantState)
			}
		})
	}
}

func TestExtentListLseekDataHole(t *testing.T) {
	el := ExtentList{
		{State: ExtentNormal, LogicalOff: 2, PhysBlock: 100, Blockcount: 3}, // data: [2,5)
		// hole: [5,8)
		{State: ExtentNormal, LogicalOff: 8, PhysBlock: 200, Blockcount: 2}, // data: [8,10)
	}
	const eof = 12

	for _, test := range []struct {
		desc    string
		start   uint64
		whence  SeekWhence
		want    uint64
		wantErr bool
	}{
		{desc: "data at start of file is a hole", start: 0, whence: SeekData, want: 2},
		{desc: "data already in range", start: 3, whence: SeekData, want: 3},
		{desc: "hole search inside data", start: 3, whence: SeekHole, want: 5},
		{desc: "data search inside hole", start: 6, whence: SeekData, want: 8},
		{desc: "hole search inside hole", start: 6, whence: SeekHole, want: 6},
		{desc: "hole at EOF tail", start: 9, whence: SeekHole, want: 10},
		{desc: "data search past last extent", start: 10, whence: SeekData, wantErr: true},
		{desc: "already in trailing hole", start: 10, whence: SeekHole, want: 10},
		{desc: "start at or past eof", start: eof, whence: SeekData, wantErr: true},
	} {
		t.Run(test.desc, func(t *testing.T) {
			got, err := el.LseekDataHole(test.start, test.whence, eof)
			if test.wantErr {
				if err == nil {
					t.Fatalf("LseekDataHole(%d, %v) = %d, nil, want error", test.start, test.whence, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("LseekDataHole(%d, %v) unexpected error: %v", test.start, test.whence, err)
			}
			if got != test.want {
				t.Errorf("LseekDataHole(%d, %v) = %d, want %d", test.start, test.whence, got, test.want)
			}
		})
	}
}

func TestExtentListBlocksBelow(t *testing.T) {
	el := ExtentList{
		{State: ExtentNormal, LogicalOff: 0, PhysBlock: 100, Blockcount: 2},
		{State: ExtentUnwritten, LogicalOff: 2, PhysBlock: 300, Blockcount: 3},
		{State: ExtentNormal, LogicalOff: 5, PhysBlock: 500, Blockcount: 3},
	}
	want := []LogPhys{
		{Logical: 0, Physical: 100},
		{Logical: 1, Physical: 101},
		{Logical: 5, Physical: 500},
		{Logical: 6, Physical: 501},
	}
	got := el.BlocksBelow(7)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("BlocksBelow(7) mismatch (-want +got):\n%s", diff)
	}
}
