package xfs

import (
	"encoding/binary"
	"sort"
)

// ExtentState distinguishes a normal mapped range from a preallocated but
// never-written one, whose bytes always read as zero without disk I/O
// (§4.4.1).
type ExtentState int

const (
	ExtentNormal ExtentState = iota
	ExtentUnwritten
	ExtentInvalid
)

// Extent is one decoded bit-packed extent record (§3, §4.4.1): a
// contiguous logical run mapped to a contiguous physical run.
type Extent struct {
	State      ExtentState
	LogicalOff uint64 // file-relative block offset (54 bits)
	PhysBlock  Fsblock
	Blockcount uint64 // 21 bits
}

func (e Extent) logicalEnd() uint64 { return e.LogicalOff + e.Blockcount }

// decodeExtent unpacks the 128-bit big-endian record described in §3:
// state (1 bit) | logical start (54 bits) | physical start (52 bits) |
// block count (21 bits), packed from the MSB down.
func decodeExtent(raw []byte) Extent {
	hi := binary.BigEndian.Uint64(raw[0:8])
	lo := binary.BigEndian.Uint64(raw[8:16])

	// Packed from the MSB down: state(1) | logical(54) | physical(52) | count(21).
	blockcount := lo & ((1 << 21) - 1)
	physical := ((hi & 0x1FF) << 43) | (lo >> 21)
	logical := (hi >> 9) & ((1 << 54) - 1)
	state := hi >> 63

	st := ExtentNormal
	if state == 1 {
		st = ExtentUnwritten
	}
	return Extent{
		State:      st,
		LogicalOff: logical,
		PhysBlock:  Fsblock(physical),
		Blockcount: blockcount,
	}
}

// ExtentList is a sorted, non-overlapping sequence of extents describing a
// prefix or sparse map of a file (§3).
type ExtentList []Extent

// Map translates a logical block offset to a physical block, per §4.4.2:
// the first record with logical >= record.start, using binary search
// instead of the original's reverse linear scan (§9 design note).
func (el ExtentList) Map(logical uint64) (Fsblock, ExtentState, bool) {
	i := sort.Search(len(el), func(i int) bool {
		return el[i].logicalEnd() > logical
	})
	if i == len(el) || el[i].LogicalOff > logical {
		return 0, 0, false // hole
	}
	e := el[i]
	return e.PhysBlock + Fsblock(logical-e.LogicalOff), e.State, true
}

// LseekDataHole implements the lseek(2) HOLE/DATA contract of §4.4.4 over a
// flat extent list, in block units. whence selects DATA or HOLE.
func (el ExtentList) LseekDataHole(start uint64, whence SeekWhence, eofBlock uint64) (uint64, error) {
	return lseekGeneric(start, whence, eofBlock, func(logical uint64) (ExtentState, bool, uint64) {
		i := sort.Search(len(el), func(i int) bool { return el[i].logicalEnd() > logical })
		if i == len(el) {
			return 0, false, eofBlock
		}
		e := el[i]
		if e.LogicalOff > logical {
			return 0, false, e.LogicalOff // hole ends where this extent starts
		}
		return e.State, true, e.logicalEnd()
	})
}

// BlocksBelow enumerates every (logical, physical) block pair described by
// normal (written) extents with logical offset strictly below bound, in
// ascending logical order. Used to walk a directory's data blocks without
// having to probe every DA block number up to a fixed, far larger anchor
// offset (§4.5.5).
func (el ExtentList) BlocksBelow(bound uint64) []LogPhys {
	var out []LogPhys
	for _, e := range el {
		if e.LogicalOff >= bound || e.State == ExtentUnwritten {
			continue
		}
		count := e.Blockcount
		if e.LogicalOff+count > bound {
			count = bound - e.LogicalOff
		}
		for i := uint64(0); i < count; i++ {
			out = append(out, LogPhys{Logical: e.LogicalOff + i, Physical: e.PhysBlock + Fsblock(i)})
		}
	}
	return out
}

// LogPhys is one resolved logical-to-physical block mapping.
type LogPhys struct {
	Logical  uint64
	Physical Fsblock
}

// SeekWhence selects the lseek(2)-style search direction of §4.4.4.
type SeekWhence int

const (
	SeekData SeekWhence = iota
	SeekHole
)

// lseekGeneric is shared by the flat extent-list and BMBT mapping
// implementations. lookup(logical) reports the extent covering logical (if
// any), whether logical is mapped, and the logical offset one past the end
// of whatever range contains/follows logical.
func lseekGeneric(start uint64, whence SeekWhence, eofBlock uint64, lookup func(uint64) (ExtentState, bool, uint64)) (uint64, error) {
	if start >= eofBlock {
		if whence == SeekHole {
			return start, nil
		}
		return 0, newErr(KindNotFound, "no data at or after offset")
	}
	cur := start
	for cur < eofBlock {
		state, mapped, next := lookup(cur)
		isData := mapped && state != ExtentUnwritten
		if whence == SeekData && isData {
			return cur, nil
		}
		if whence == SeekHole && !isData {
			return cur, nil
		}
		cur = next
	}
	if whence == SeekHole {
		return eofBlock, nil
	}
	return 0, newErr(KindNotFound, "no data at or after offset")
}
