package xfs

import (
	"encoding/binary"
	"sort"
)

// blockMapper resolves a DA-block (logical, fork-relative) number to a
// physical filesystem block, shared by the directory and attribute Node/
// Btree formats (§4.5.6, §4.6.3).
type blockMapper func(Dablock) (Fsblock, bool)

func extentMapper(el ExtentList) blockMapper {
	return func(d Dablock) (Fsblock, bool) {
		phys, state, ok := el.Map(uint64(d))
		if !ok || state == ExtentUnwritten {
			return 0, false
		}
		return phys, true
	}
}

func bmbtMapper(bt *Bmbt) blockMapper {
	return func(d Dablock) (Fsblock, bool) {
		phys, state, ok, err := bt.Map(uint64(d))
		if err != nil || !ok || state == ExtentUnwritten {
			return 0, false
		}
		return phys, true
	}
}

// da3NodeHdrSize is XfsDa3Blkinfo (56 bytes: forw/back/magic/pad/crc/blkno/
// lsn/uuid/owner) plus count(2) level(2) pad32(4) = 64 bytes (§4.5.6).
const da3NodeHdrSize = 56 + 8

type daNodeEntry struct {
	Hashval Dahash
	Before  Dablock
}

type daIntnode struct {
	Level   uint16
	Entries []daNodeEntry
}

func decodeDaIntnode(buf []byte) (*daIntnode, error) {
	magic := binary.BigEndian.Uint16(buf[8:10])
	if magic != daNodeMagic && magic != da3NodeMagic {
		return nil, newErr(KindBadImage, "DA node: bad magic %#x", magic)
	}
	count := binary.BigEndian.Uint16(buf[56:58])
	level := binary.BigEndian.Uint16(buf[58:60])
	n := &daIntnode{Level: level, Entries: make([]daNodeEntry, count)}
	for i := 0; i < int(count); i++ {
		off := da3NodeHdrSize + i*8
		n.Entries[i] = daNodeEntry{
			Hashval: Dahash(binary.BigEndian.Uint32(buf[off : off+4])),
			Before:  Dablock(binary.BigEndian.Uint32(buf[off+4 : off+8])),
		}
	}
	return n, nil
}

// readBlockAt reads one full filesystem block at fsb. Used for attribute-
// fork blocks, which are always exactly one filesystem block regardless of
// dirblklog (§4.6).
func readBlockAt(br *BlockReader, sb *Superblock, fsb Fsblock) ([]byte, error) {
	buf := make([]byte, sb.Blocksize)
	if err := br.ReadAt(sb.BlockByteOffset(fsb), buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// readDirBlockAt reads one full directory block starting at filesystem
// block fsb. A directory block is blocksize<<dirblklog bytes (§4.2), which
// can span more than one filesystem block; fsb names the first one.
func readDirBlockAt(br *BlockReader, sb *Superblock, fsb Fsblock) ([]byte, error) {
	buf := make([]byte, sb.DirBlockSize())
	if err := br.ReadAt(sb.BlockByteOffset(fsb), buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// descendDaTree walks a directory's DA B+tree from its root DA block to the
// leaf block that would contain hash, per §4.5.6: at each internal level,
// binary search for the largest key <= hash (predecessor) and follow that
// child; at level 1 the "before" pointer is itself the leaf's filesystem
// block (the reference traversal treats leaf children as direct block
// addresses rather than DA blocks requiring a further mapping step).
// Directory DA nodes are sized per sb.DirBlockSize(), not one bare
// filesystem block (§4.2).
func descendDaTree(br *BlockReader, sb *Superblock, mapper blockMapper, rootDablock Dablock, hash Dahash) (Fsblock, error) {
	fsb, ok := mapper(rootDablock)
	if !ok {
		return 0, newErr(KindBadImage, "DA tree: unmapped root block %d", rootDablock)
	}
	buf, err := readDirBlockAt(br, sb, fsb)
	if err != nil {
		return 0, err
	}
	node, err := decodeDaIntnode(buf)
	if err != nil {
		return 0, err
	}
	for {
		pred := daPredecessor(node.Entries, hash)
		before := node.Entries[pred].Before
		if node.Level == 1 {
			return Fsblock(before), nil
		}
		childFsb, ok := mapper(before)
		if !ok {
			return 0, newErr(KindBadImage, "DA tree: unmapped child block %d", before)
		}
		buf, err = readDirBlockAt(br, sb, childFsb)
		if err != nil {
			return 0, err
		}
		node, err = decodeDaIntnode(buf)
		if err != nil {
			return 0, err
		}
	}
}

// daPredecessor finds the largest index whose hashval <= hash, defaulting
// to 0 when hash is smaller than every key (§4.5.6 "binary search for the
// predecessor").
func daPredecessor(entries []daNodeEntry, hash Dahash) int {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].Hashval > hash })
	if i == 0 {
		return 0
	}
	return i - 1
}
