package xfs

import (
	"encoding/binary"
)

// File type tags stored in a directory entry (§4.5), independent of the
// target inode's own mode bits so that a directory listing never needs to
// fetch every child inode.
const (
	ftUnknown = 0
	ftRegFile = 1
	ftDir     = 2
	ftChrdev  = 3
	ftBlkdev  = 4
	ftFifo    = 5
	ftSock    = 6
	ftSymlink = 7
	ftWht     = 8
)

func ftToKind(ft uint8) FileKind {
	switch ft {
	case ftDir:
		return KindDirectory
	case ftSymlink:
		return KindSymlink
	case ftChrdev, ftBlkdev:
		return KindDevice
	case ftFifo:
		return KindFifo
	case ftSock:
		return KindSocket
	default:
		return KindRegular
	}
}

// hashName computes the directory/attribute name hash (§4.5.2): a
// rotate-left rolling hash over 4-byte chunks of the name (rotating by 28
// per full chunk, and by 21/14/7 for a 3/2/1-byte tail).
func hashName(name string) Dahash {
	b := []byte(name)
	var hash uint32
	i := 0
	for len(b)-i >= 4 {
		hash = (uint32(b[i]) << 21) ^ (uint32(b[i+1]) << 14) ^ (uint32(b[i+2]) << 7) ^ uint32(b[i+3]) ^ rol32(hash, 28)
		i += 4
	}
	switch len(b) - i {
	case 3:
		hash = (uint32(b[i]) << 14) ^ (uint32(b[i+1]) << 7) ^ uint32(b[i+2]) ^ rol32(hash, 21)
	case 2:
		hash = (uint32(b[i]) << 7) ^ uint32(b[i+1]) ^ rol32(hash, 14)
	case 1:
		hash = uint32(b[i]) ^ rol32(hash, 7)
	}
	return Dahash(hash)
}

func rol32(x uint32, y uint) uint32 {
	return (x << y) | (x >> (32 - y))
}

// dir3BlkHdrSize is the v5 directory block header (§4.5.3): magic(4)
// crc(4) blkno(8) lsn(8) uuid(16) owner(8) = 48 bytes.
const dir3BlkHdrSize = 48

// dir3DataHdrSize adds the three best-free descriptors and padding:
// 48 + 3*4 + 4 = 64 bytes.
const dir3DataHdrSize = dir3BlkHdrSize + 3*4 + 4

type dir2DataFree struct {
	Offset uint16
	Length uint16
}

func decodeDir3DataHdr(buf []byte) (magic uint32, bestFree [3]dir2DataFree) {
	magic = binary.BigEndian.Uint32(buf[0:4])
	for i := 0; i < 3; i++ {
		off := dir3BlkHdrSize + i*4
		bestFree[i] = dir2DataFree{
			Offset: binary.BigEndian.Uint16(buf[off : off+2]),
			Length: binary.BigEndian.Uint16(buf[off+2 : off+4]),
		}
	}
	return
}

// dirDataEntry is one decoded directory data entry (§4.5.3): inode number,
// name, file type, and its own byte length including tag/padding.
type dirDataEntry struct {
	Ino     Ino
	Name    string
	Ftype   uint8
	EntSize int // total on-disk size of this record, for cursor advancement
}

const direntFreeTag = 0xffff

// decodeDirEntryAt decodes the record starting at buf[pos:], returning
// either a live entry or (nil, unused-record-length) for a free slot
// (§4.5.3). pos must point at the start of a record.
func decodeDirEntryAt(buf []byte, pos int) (*dirDataEntry, int) {
	tag := binary.BigEndian.Uint16(buf[pos : pos+2])
	if tag == direntFreeTag {
		length := int(binary.BigEndian.Uint16(buf[pos+2 : pos+4]))
		return nil, length
	}
	ino := Ino(binary.BigEndian.Uint64(buf[pos : pos+8]))
	namelen := int(buf[pos+8])
	name := string(buf[pos+9 : pos+9+namelen])
	ftype := buf[pos+9+namelen]
	// record length: inumber(8) namelen(1) name(n) ftype(1) then padding up
	// to an 8-byte boundary, then tag(2).
	unaligned := 8 + 1 + namelen + 1
	entSize := ((unaligned + 2 + 7) / 8) * 8
	return &dirDataEntry{Ino: ino, Name: name, Ftype: ftype, EntSize: entSize}, entSize
}

// Dir2SfEntry is one shortform directory entry (§4.5.4). Offset is the
// entry's on-disk position tag, stable across reads of the same inode and
// usable directly as a readdir cursor.
type dir2SfEntry struct {
	Ino    Ino
	Name   string
	Ftype  uint8
	Offset uint16
}

// decodeShortformDir parses a "local"-format directory fork (§4.5.4): a
// small header (entry count, whether inode numbers are 4 or 8 bytes, the
// parent inode number) followed by count entries, each storing a
// directory-relative "offset" tag that readdir reuses as the entry's cursor.
func decodeShortformDir(raw []byte, parentIno Ino) (parent Ino, entries []dir2SfEntry, err error) {
	if len(raw) < 2 {
		return 0, nil, newErr(KindBadImage, "shortform directory: truncated header")
	}
	count := int(raw[0])
	i8count := raw[1]
	pos := 2
	inoSize := 4
	if i8count > 0 {
		inoSize = 8
	}
	if pos+inoSize > len(raw) {
		return 0, nil, newErr(KindBadImage, "shortform directory: truncated parent inode")
	}
	if inoSize == 8 {
		parent = Ino(binary.BigEndian.Uint64(raw[pos : pos+8]))
	} else {
		parent = Ino(binary.BigEndian.Uint32(raw[pos : pos+4]))
	}
	pos += inoSize

	entries = make([]dir2SfEntry, 0, count)
	for i := 0; i < count; i++ {
		if pos+3 > len(raw) {
			return 0, nil, newErr(KindBadImage, "shortform directory: truncated entry")
		}
		namelen := int(raw[pos])
		pos++
		if pos+2 > len(raw) {
			return 0, nil, newErr(KindBadImage, "shortform directory: truncated offset tag")
		}
		offsetTag := binary.BigEndian.Uint16(raw[pos : pos+2])
		pos += 2
		if pos+namelen+1 > len(raw) {
			return 0, nil, newErr(KindBadImage, "shortform directory: truncated name")
		}
		name := string(raw[pos : pos+namelen])
		pos += namelen
		ftype := raw[pos]
		pos++
		var ino Ino
		if pos+inoSize > len(raw) {
			return 0, nil, newErr(KindBadImage, "shortform directory: truncated child inode")
		}
		if inoSize == 8 {
			ino = Ino(binary.BigEndian.Uint64(raw[pos : pos+8]))
		} else {
			ino = Ino(binary.BigEndian.Uint32(raw[pos : pos+4]))
		}
		pos += inoSize
		entries = append(entries, dir2SfEntry{Ino: ino, Name: name, Ftype: ftype, Offset: offsetTag})
	}
	return parent, entries, nil
}

// dir2BlockTailSize is the trailer appended to a single-block directory
// (§4.5.3): leaf-entry count and stale-entry count, 8 bytes.
const dir2BlockTailSize = 8

// dir2LeafEntrySize is one (hashval, address) pair in a block's trailing
// hash index or in a standalone Leaf block (§4.5.5).
const dir2LeafEntrySize = 8

type dir2LeafEntry struct {
	Hashval Dahash
	Address uint32 // byte offset within the directory's data space, divided by 8; 0 means unused
}

func decodeDir2LeafEntry(buf []byte) dir2LeafEntry {
	return dir2LeafEntry{
		Hashval: Dahash(binary.BigEndian.Uint32(buf[0:4])),
		Address: binary.BigEndian.Uint32(buf[4:8]),
	}
}

// readBlockDirEntries walks the single combined data+leaf block of a
// "Block"-format directory (§4.5.3: exactly one extent, magic
// dir2/dir3BlockMag), returning every live entry with cursor set to the
// byte offset just past it within the block (where the next record
// starts), for use as a readdir resume token.
func readBlockDirEntries(blockBuf []byte) ([]Dirent, error) {
	magic, _ := decodeDir3DataHdr(blockBuf)
	if magic != dir2BlockMag && magic != dir3BlockMag {
		return nil, newErr(KindBadImage, "directory block: bad magic %#x", magic)
	}
	tailOff := len(blockBuf) - dir2BlockTailSize
	leafCount := int(binary.BigEndian.Uint32(blockBuf[tailOff : tailOff+4]))
	dataEnd := tailOff - leafCount*dir2LeafEntrySize

	var out []Dirent
	pos := dir3DataHdrSize
	for pos < dataEnd {
		entry, size := decodeDirEntryAt(blockBuf, pos)
		if entry != nil {
			out = append(out, Dirent{
				Ino:    entry.Ino,
				Cursor: uint64(pos + size),
				Kind:   ftToKind(entry.Ftype),
				Name:   entry.Name,
			})
		}
		pos += size
	}
	return out, nil
}

// lookupBlockDir finds name within a Block-format directory via its
// embedded hash index (§4.5.3), mirroring the hashed lookup used by the
// Leaf/Node formats.
func lookupBlockDir(blockBuf []byte, name string) (Ino, FileKind, bool, error) {
	magic, _ := decodeDir3DataHdr(blockBuf)
	if magic != dir2BlockMag && magic != dir3BlockMag {
		return 0, 0, false, newErr(KindBadImage, "directory block: bad magic %#x", magic)
	}
	tailOff := len(blockBuf) - dir2BlockTailSize
	leafCount := int(binary.BigEndian.Uint32(blockBuf[tailOff : tailOff+4]))
	leafStart := tailOff - leafCount*dir2LeafEntrySize

	hash := hashName(name)
	for i := 0; i < leafCount; i++ {
		off := leafStart + i*dir2LeafEntrySize
		le := decodeDir2LeafEntry(blockBuf[off : off+dir2LeafEntrySize])
		if le.Address == 0 || le.Hashval != hash {
			continue
		}
		pos := int(le.Address) * 8
		entry, _ := decodeDirEntryAt(blockBuf, pos)
		if entry != nil && entry.Name == name {
			return entry.Ino, ftToKind(entry.Ftype), true, nil
		}
	}
	return 0, 0, false, nil
}
