package xfs

import "encoding/binary"

// Extended-attribute entry flags (§4.6): which of the three on-disk
// namespaces an entry belongs to, whether its value is stored inline, and
// whether a previous create/remove was interrupted.
const (
	attrLocalBit      = 1 << 0
	attrRootBit       = 1 << 1
	attrSecureBit     = 1 << 2
	attrIncompleteBit = 1 << 7
)

func attrNamespace(flags uint8) string {
	switch {
	case flags&attrSecureBit != 0:
		return "secure."
	case flags&attrRootBit != 0:
		return "trusted."
	default:
		return "user."
	}
}

// attrSfHdrSize is the shortform attribute fork header (§4.6.1): totsize(2)
// count(1) padding(1).
const attrSfHdrSize = 4

// decodeShortformAttrs parses a "local"-format attribute fork (§4.6.1),
// returning every non-incomplete entry with its namespace already applied.
func decodeShortformAttrs(raw []byte) ([]Xattr, error) {
	if len(raw) < attrSfHdrSize {
		return nil, newErr(KindBadImage, "shortform attributes: truncated header")
	}
	count := int(raw[2])
	pos := attrSfHdrSize
	out := make([]Xattr, 0, count)
	for i := 0; i < count; i++ {
		if pos+3 > len(raw) {
			return nil, newErr(KindBadImage, "shortform attributes: truncated entry")
		}
		namelen := int(raw[pos])
		valuelen := int(raw[pos+1])
		flags := raw[pos+2]
		pos += 3
		if pos+namelen+valuelen > len(raw) {
			return nil, newErr(KindBadImage, "shortform attributes: truncated name/value")
		}
		name := raw[pos : pos+namelen]
		value := raw[pos+namelen : pos+namelen+valuelen]
		pos += namelen + valuelen

		if flags&attrIncompleteBit != 0 {
			continue
		}
		out = append(out, Xattr{FullName: attrNamespace(flags) + string(name), Value: append([]byte(nil), value...)})
	}
	return out, nil
}

// attrLeafHdrSize: XfsDa3Blkinfo(56) + count(2) + usedbytes(2) + firstused(2)
// + holes(1) + pad1(1) + freemap[3]*4(12) + pad2(4) = 80 bytes (§4.6.2).
const attrLeafHdrSize = 56 + 2 + 2 + 2 + 1 + 1 + 12 + 4

// attrLeafEntrySize: hashval(4) + nameidx(2) + flags(1) + pad(1) = 8 bytes.
const attrLeafEntrySize = 8

type attrLeafEntry struct {
	Hashval Dahash
	Nameidx uint16
	Flags   uint8
}

func decodeAttrLeafBlock(buf []byte) (magic uint16, entries []attrLeafEntry, err error) {
	magic = binary.BigEndian.Uint16(buf[8:10])
	if magic != attrLeafMagic && magic != attr3LeafMag {
		return 0, nil, newErr(KindBadImage, "attribute leaf block: bad magic %#x", magic)
	}
	count := binary.BigEndian.Uint16(buf[56:58])
	entries = make([]attrLeafEntry, count)
	for i := 0; i < int(count); i++ {
		off := attrLeafHdrSize + i*attrLeafEntrySize
		entries[i] = attrLeafEntry{
			Hashval: Dahash(binary.BigEndian.Uint32(buf[off : off+4])),
			Nameidx: binary.BigEndian.Uint16(buf[off+4 : off+6]),
			Flags:   buf[off+6],
		}
	}
	return magic, entries, nil
}

// attrRmtHdrSize is the remote-value block header (§4.6.4): magic(4)
// offset(4) bytes(4) crc(4) uuid(16) owner(8) blkno(8) lsn(8) = 56 bytes.
const attrRmtHdrSize = 56

// readRemoteAttrValue concatenates the value stored across one or more
// remote blocks starting at valueblk (a DA block number in the attribute
// fork), per §4.6.4: each block carries a header naming how many of this
// value's remaining bytes it holds.
func readRemoteAttrValue(br *BlockReader, sb *Superblock, mapper blockMapper, valueblk Dablock, totalLen uint32) ([]byte, error) {
	out := make([]byte, 0, totalLen)
	blk := valueblk
	for uint32(len(out)) < totalLen {
		fsb, ok := mapper(blk)
		if !ok {
			return nil, newErr(KindBadImage, "remote attribute value: unmapped block %d", blk)
		}
		buf, err := readBlockAt(br, sb, fsb)
		if err != nil {
			return nil, err
		}
		rmBytes := binary.BigEndian.Uint32(buf[8:12])
		rmOffset := binary.BigEndian.Uint32(buf[4:8])
		start := attrRmtHdrSize + int(rmOffset)
		if start+int(rmBytes) > len(buf) {
			return nil, newErr(KindBadImage, "remote attribute value: record exceeds block")
		}
		out = append(out, buf[start:start+int(rmBytes)]...)
		blk++
	}
	return out, nil
}

func decodeAttrLeafNameLocal(buf []byte, nameidx int) (name, value []byte) {
	valuelen := binary.BigEndian.Uint16(buf[nameidx : nameidx+2])
	namelen := buf[nameidx+2]
	start := nameidx + 3
	name = buf[start : start+int(namelen)]
	value = buf[start+int(namelen) : start+int(namelen)+int(valuelen)]
	return
}

func decodeAttrLeafNameRemote(buf []byte, nameidx int) (name []byte, valueblk Dablock, valuelen uint32) {
	valueblk = Dablock(binary.BigEndian.Uint32(buf[nameidx : nameidx+4]))
	valuelen = binary.BigEndian.Uint32(buf[nameidx+4 : nameidx+8])
	namelen := buf[nameidx+8]
	name = buf[nameidx+9 : nameidx+9+int(namelen)]
	return
}

// AttrList returns every extended attribute name/value pair attached to an
// inode (§4.6), dispatching across the shortform, Leaf, and Node/Btree
// attribute-fork formats. Entries with the "incomplete" flag set (a
// create or remove that never finished) are skipped.
func AttrList(br *BlockReader, sb *Superblock, ino *Inode) ([]Xattr, error) {
	if ino.Forkoff == 0 {
		// No attribute fork, whatever di_aformat says.
		return nil, nil
	}
	switch ino.Aformat {
	case fmtLocal:
		raw := ino.AttrShortformBytes()
		if raw == nil {
			return nil, nil
		}
		return decodeShortformAttrs(raw)
	case fmtExtents, fmtBtree:
		return attrListHashed(br, sb, ino)
	default:
		if ino.Forkoff == 0 {
			return nil, nil
		}
		return nil, newErr(KindBadImage, "inode %d: unsupported attribute fork format %d", ino.Ino, ino.Aformat)
	}
}

// AttrGet returns the value of one extended attribute, or ok=false if it
// does not exist (§4.6).
func AttrGet(br *BlockReader, sb *Superblock, ino *Inode, fullName string) ([]byte, bool, error) {
	all, err := AttrList(br, sb, ino)
	if err != nil {
		return nil, false, err
	}
	for _, a := range all {
		if a.FullName == fullName {
			return a.Value, true, nil
		}
	}
	return nil, false, nil
}

func attrMapper(br *BlockReader, sb *Superblock, ino *Inode) (blockMapper, error) {
	switch ino.Aformat {
	case fmtExtents:
		return extentMapper(ino.AttrExtents()), nil
	case fmtBtree:
		return bmbtMapper(ino.AttrBmbt(br, sb)), nil
	default:
		return nil, newErr(KindBadImage, "inode %d: unsupported attribute fork format %d", ino.Ino, ino.Aformat)
	}
}

// attrListHashed enumerates the Leaf/Node/Btree attribute formats. Unlike
// directories, the attribute fork has no fixed data-block region preceding
// a hashed index: every DA block in the fork is itself part of the Leaf/
// Node tree or a remote-value block, so listing walks every leaf reachable
// from the root rather than a data-block range (§4.6.2, §4.6.3).
func attrListHashed(br *BlockReader, sb *Superblock, ino *Inode) ([]Xattr, error) {
	mapper, err := attrMapper(br, sb, ino)
	if err != nil {
		return nil, err
	}
	rootFsb, ok := mapper(0)
	if !ok {
		return nil, newErr(KindBadImage, "inode %d: unmapped attribute root block", ino.Ino)
	}
	buf, err := readBlockAt(br, sb, rootFsb)
	if err != nil {
		return nil, err
	}
	magic := binary.BigEndian.Uint16(buf[8:10])
	var leafFsbs []Fsblock
	switch magic {
	case attrLeafMagic, attr3LeafMag:
		leafFsbs = []Fsblock{rootFsb}
	case daNodeMagic, da3NodeMagic:
		leafFsbs, err = collectAttrLeaves(br, sb, mapper, buf)
		if err != nil {
			return nil, err
		}
	default:
		return nil, newErr(KindBadImage, "attribute root: bad magic %#x", magic)
	}

	var out []Xattr
	for _, leafFsb := range leafFsbs {
		leafBuf, err := readBlockAt(br, sb, leafFsb)
		if err != nil {
			return nil, err
		}
		_, entries, err := decodeAttrLeafBlock(leafBuf)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Flags&attrIncompleteBit != 0 {
				continue
			}
			var name, value []byte
			if e.Flags&attrLocalBit != 0 {
				name, value = decodeAttrLeafNameLocal(leafBuf, int(e.Nameidx))
			} else {
				var valueblk Dablock
				var valuelen uint32
				name, valueblk, valuelen = decodeAttrLeafNameRemote(leafBuf, int(e.Nameidx))
				value, err = readRemoteAttrValue(br, sb, mapper, valueblk, valuelen)
				if err != nil {
					return nil, err
				}
			}
			out = append(out, Xattr{FullName: attrNamespace(e.Flags) + string(name), Value: append([]byte(nil), value...)})
		}
	}
	return out, nil
}

// collectAttrLeaves walks every leaf reachable from an attribute Node root
// by recursively following its "before" pointers (§4.6.3): unlike the
// directory Node format, attribute leaves are not contiguous siblings of a
// single fixed anchor, so the whole subtree is traversed depth-first.
func collectAttrLeaves(br *BlockReader, sb *Superblock, mapper blockMapper, rootBuf []byte) ([]Fsblock, error) {
	node, err := decodeDaIntnode(rootBuf)
	if err != nil {
		return nil, err
	}
	var out []Fsblock
	for _, e := range node.Entries {
		if node.Level == 1 {
			// At the leaf-adjacent level "before" is already a filesystem
			// block address, not a DA block needing translation (§4.6.3).
			out = append(out, Fsblock(e.Before))
			continue
		}
		fsb, ok := mapper(e.Before)
		if !ok {
			continue
		}
		buf, err := readBlockAt(br, sb, fsb)
		if err != nil {
			return nil, err
		}
		childLeaves, err := collectAttrLeaves(br, sb, mapper, buf)
		if err != nil {
			return nil, err
		}
		out = append(out, childLeaves...)
	}
	return out, nil
}
