package xfs

import "encoding/binary"

// dirLeafHdrSize is a directory Leaf/Node leaf block's header (§4.5.5):
// XfsDa3Blkinfo (56 bytes) + count(2) + stale(2) + pad(4) = 64 bytes.
const dirLeafHdrSize = 64

// decodeDirLeafEntries reads a directory leaf block's sorted (hashval,
// address) index (§4.5.5). Multiple entries may share a hash value; callers
// must compare the candidate's actual name after following "address".
func decodeDirLeafEntries(buf []byte) (magic uint16, entries []dir2LeafEntry, err error) {
	magic = binary.BigEndian.Uint16(buf[8:10])
	if magic != dir2Leaf1Mag && magic != dir3Leaf1Mag && magic != dir2LeafNMag && magic != dir3LeafNMag {
		return 0, nil, newErr(KindBadImage, "directory leaf block: bad magic %#x", magic)
	}
	count := binary.BigEndian.Uint16(buf[56:58])
	entries = make([]dir2LeafEntry, 0, count)
	for i := 0; i < int(count); i++ {
		off := dirLeafHdrSize + i*dir2LeafEntrySize
		le := decodeDir2LeafEntry(buf[off : off+dir2LeafEntrySize])
		if le.Address == 0 {
			continue // stale/unused slot
		}
		entries = append(entries, le)
	}
	return magic, entries, nil
}

// lookupInDirLeaf searches the already-resolved leaf block at leafFsb for
// name, following its hash index to the owning data block (§4.5.5). Shared
// by the plain Leaf format (leafFsb is always the fixed DA offset) and the
// Node format (leafFsb comes from a prior DA B+tree descent).
func lookupInDirLeaf(br *BlockReader, sb *Superblock, mapper blockMapper, leafFsb Fsblock, name string) (Ino, FileKind, bool, error) {
	hash := hashName(name)
	leafBuf, err := readDirBlockAt(br, sb, leafFsb)
	if err != nil {
		return 0, 0, false, err
	}
	magic, entries, err := decodeDirLeafEntries(leafBuf)
	if err != nil {
		return 0, 0, false, err
	}
	_ = magic

	dirBlockSize := uint64(sb.DirBlockSize())
	for _, le := range entries {
		if le.Hashval != hash {
			continue
		}
		byteAddr := uint64(le.Address) * 8
		dablock := Dablock(byteAddr / dirBlockSize)
		within := int(byteAddr % dirBlockSize)

		dataFsb, ok := mapper(dablock)
		if !ok {
			continue
		}
		dataBuf := make([]byte, dirBlockSize)
		if err := br.ReadAt(sb.BlockByteOffset(dataFsb), dataBuf); err != nil {
			return 0, 0, false, err
		}
		entry, _ := decodeDirEntryAt(dataBuf, within)
		if entry != nil && entry.Name == name {
			return entry.Ino, ftToKind(entry.Ftype), true, nil
		}
	}
	return 0, 0, false, nil
}

// readLeafFormatDirEntries walks the data blocks in blocks (every normal
// extent logically below the fixed DA anchor, per ExtentList.BlocksBelow /
// Bmbt.BlocksBelow), for readdir over a Leaf/Node-format directory (§4.5.5,
// §4.5.6). The cursor packs the data-block's DA number into the high 16
// bits and the in-block byte offset into the low 48 bits, mirroring the
// original Node-format traversal's tag packing.
func readLeafFormatDirEntries(br *BlockReader, sb *Superblock, blocks []LogPhys) ([]Dirent, error) {
	dirBlockSize := sb.DirBlockSize()
	buf := make([]byte, dirBlockSize)
	var out []Dirent
	for _, lp := range blocks {
		if err := br.ReadAt(sb.BlockByteOffset(lp.Physical), buf); err != nil {
			return nil, err
		}
		magic, _ := decodeDir3DataHdr(buf)
		if magic != dir2DataMag && magic != dir3DataMag {
			continue
		}
		pos := dir3DataHdrSize
		for pos < len(buf) {
			entry, size := decodeDirEntryAt(buf, pos)
			if size <= 0 {
				break
			}
			if entry != nil {
				cursor := (lp.Logical << 48) | uint64(pos+size)
				out = append(out, Dirent{
					Ino:    entry.Ino,
					Cursor: cursor,
					Kind:   ftToKind(entry.Ftype),
					Name:   entry.Name,
				})
			}
			pos += size
		}
	}
	return out, nil
}
