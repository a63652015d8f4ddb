package xfs

import (
	"encoding/binary"
	"sort"
)

// bmbtRecSize is the on-disk size of one packed extent record (§3).
const bmbtRecSize = 16

// bmbtBlockHdrSize is the on-disk v5 long-form btree block header
// (xfs_btree_lblock): magic(4) level(2) numrecs(2) leftsib(8) rightsib(8)
// blkno(8) lsn(8) uuid(16) owner(8) crc(4) = 68 bytes.
const bmbtBlockHdrSize = 68

// bmbtBlock is one decoded BMBT node: internal nodes carry (key, ptr) pairs,
// leaves carry extent records (§3, §4.4.3).
type bmbtBlock struct {
	level   uint16
	numRecs uint16
	leftSib Fsblock
	rtSib   Fsblock
	keys    []uint64  // internal nodes only
	ptrs    []Fsblock // internal nodes only
	recs    []Extent  // leaves only
}

func readBmbtBlock(br *BlockReader, fsBlockOff int64, blocksize uint32) (*bmbtBlock, error) {
	buf := make([]byte, blocksize)
	if err := br.ReadAt(fsBlockOff, buf); err != nil {
		return nil, err
	}
	magic := binary.BigEndian.Uint32(buf[0:4])
	if magic != bmapCRCMagic && magic != bmapMagic {
		return nil, newErr(KindBadImage, "bad BMBT block magic %#x", magic)
	}
	// xfs_btree_lblock: magic(4) level(2) numrecs(2) leftsib(8) rightsib(8),
	// followed by the v5 CRC extension (blkno/lsn/uuid/owner/crc) that makes
	// up the rest of bmbtBlockHdrSize.
	level := binary.BigEndian.Uint16(buf[4:6])
	numRecs := binary.BigEndian.Uint16(buf[6:8])
	leftSib := binary.BigEndian.Uint64(buf[8:16])
	rtSib := binary.BigEndian.Uint64(buf[16:24])

	b := &bmbtBlock{
		level:   level,
		numRecs: numRecs,
		leftSib: Fsblock(leftSib),
		rtSib:   Fsblock(rtSib),
	}
	body := buf[bmbtBlockHdrSize:]
	if level == 0 {
		b.recs = make([]Extent, numRecs)
		for i := 0; i < int(numRecs); i++ {
			b.recs[i] = decodeExtent(body[i*bmbtRecSize : (i+1)*bmbtRecSize])
		}
	} else {
		keyArea := body
		ptrArea := body[int(numRecs)*8:]
		b.keys = make([]uint64, numRecs)
		b.ptrs = make([]Fsblock, numRecs)
		for i := 0; i < int(numRecs); i++ {
			b.keys[i] = binary.BigEndian.Uint64(keyArea[i*8 : (i+1)*8])
			b.ptrs[i] = Fsblock(binary.BigEndian.Uint64(ptrArea[i*8 : (i+1)*8]))
		}
	}
	return b, nil
}

// Bmbt is a B+tree-rooted extent index for a file or directory whose fork
// format is "btree" (§4.4.3). It is read fresh from disk on every lookup;
// the cache invariant (§3 Lifecycle) applies only to directory blocks, not
// to BMBT traversal state.
type Bmbt struct {
	br        *BlockReader
	blocksize uint32
	root      []Extent // root-level records when the root itself is the sole level (level 0 at root)
	rootKeys  []uint64
	rootPtrs  []Fsblock
	rootLevel uint16
}

// NewBmbt parses the inode literal area's root BMBT block: a key array and
// pointer array (or, if the whole tree fits in one level, extent records
// directly) per §3 "BMBT (extent B+tree)".
func NewBmbt(br *BlockReader, blocksize uint32, rootBuf []byte, numRecs uint16, level uint16) *Bmbt {
	t := &Bmbt{br: br, blocksize: blocksize, rootLevel: level}
	if level == 0 {
		t.root = make([]Extent, numRecs)
		for i := 0; i < int(numRecs); i++ {
			t.root[i] = decodeExtent(rootBuf[i*bmbtRecSize : (i+1)*bmbtRecSize])
		}
		return t
	}
	keyArea := rootBuf
	ptrArea := rootBuf[int(numRecs)*8:]
	t.rootKeys = make([]uint64, numRecs)
	t.rootPtrs = make([]Fsblock, numRecs)
	for i := 0; i < int(numRecs); i++ {
		t.rootKeys[i] = binary.BigEndian.Uint64(keyArea[i*8 : (i+1)*8])
		t.rootPtrs[i] = Fsblock(binary.BigEndian.Uint64(ptrArea[i*8 : (i+1)*8]))
	}
	return t
}

// descend walks from the root to the leaf block covering logical, per
// §4.4.3: at each internal level, binary-search the key array for the
// largest key <= logical and follow that child.
func (t *Bmbt) descend(logical uint64) (*bmbtBlock, error) {
	if t.rootLevel == 0 {
		return &bmbtBlock{level: 0, numRecs: uint16(len(t.root)), recs: t.root}, nil
	}
	ptr := childFor(t.rootKeys, t.rootPtrs, logical)
	blk, err := readBmbtBlock(t.br, int64(ptr)*int64(t.blocksize), t.blocksize)
	if err != nil {
		return nil, err
	}
	for blk.level > 0 {
		ptr := childFor(blk.keys, blk.ptrs, logical)
		blk, err = readBmbtBlock(t.br, int64(ptr)*int64(t.blocksize), t.blocksize)
		if err != nil {
			return nil, err
		}
	}
	return blk, nil
}

func childFor(keys []uint64, ptrs []Fsblock, logical uint64) Fsblock {
	i := sort.Search(len(keys), func(i int) bool { return keys[i] > logical })
	if i == 0 {
		return ptrs[0]
	}
	return ptrs[i-1]
}

// Map implements logical->physical translation through the B+tree (§4.4.3).
func (t *Bmbt) Map(logical uint64) (Fsblock, ExtentState, bool, error) {
	blk, err := t.descend(logical)
	if err != nil {
		return 0, 0, false, err
	}
	recs := ExtentList(blk.recs)
	phys, state, ok := recs.Map(logical)
	return phys, state, ok, nil
}

// BlocksBelow enumerates every (logical, physical) block pair for normal
// extents with logical offset strictly below bound, walking from the
// leftmost leaf across sibling pointers (§4.4.3, §4.5.6).
func (t *Bmbt) BlocksBelow(bound uint64) ([]LogPhys, error) {
	leaf, err := t.descend(0)
	if err != nil {
		return nil, err
	}
	var out []LogPhys
	for {
		out = append(out, ExtentList(leaf.recs).BlocksBelow(bound)...)
		if leaf.rtSib == 0 {
			return out, nil
		}
		next, err := readBmbtBlock(t.br, int64(leaf.rtSib)*int64(t.blocksize), t.blocksize)
		if err != nil {
			return nil, err
		}
		if len(next.recs) > 0 && next.recs[0].LogicalOff >= bound {
			return out, nil
		}
		leaf = next
	}
}

// LseekDataHole implements §4.4.4 over a BMBT by walking leaf sibling
// pointers (§4.4.3 "leaf blocks carry sibling pointers for sequential
// traversal").
func (t *Bmbt) LseekDataHole(start uint64, whence SeekWhence, eofBlock uint64) (uint64, error) {
	leaf, err := t.descend(start)
	if err != nil {
		return 0, err
	}
	cur := start
	for {
		recs := ExtentList(leaf.recs)
		result, err := recs.LseekDataHole(cur, whence, eofBlock)
		if err == nil {
			// A hole found right at the end of this leaf's records is not a
			// hole if the right sibling's first record starts there.
			if whence == SeekHole && leaf.rtSib != 0 && len(leaf.recs) > 0 && result == leaf.recs[len(leaf.recs)-1].logicalEnd() {
				next, err := readBmbtBlock(t.br, int64(leaf.rtSib)*int64(t.blocksize), t.blocksize)
				if err != nil {
					return 0, err
				}
				if len(next.recs) > 0 && next.recs[0].LogicalOff == result {
					leaf, cur = next, result
					continue
				}
			}
			return result, nil
		}
		if ErrKind(err) != KindNotFound {
			return 0, err
		}
		if leaf.rtSib == 0 {
			if whence == SeekHole {
				return eofBlock, nil
			}
			return 0, err
		}
		leaf, err = readBmbtBlock(t.br, int64(leaf.rtSib)*int64(t.blocksize), t.blocksize)
		if err != nil {
			return 0, err
		}
		if len(leaf.recs) > 0 {
			cur = leaf.recs[0].LogicalOff
		}
	}
}
