package xfs

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// Fork storage formats, shared by the data and attribute forks (§4.3).
type forkFormat uint8

const (
	fmtDev forkFormat = iota
	fmtLocal
	fmtExtents
	fmtBtree
	fmtUUID
	fmtRmap
)

// coreSize is the on-disk size of the v3 dinode core (§4.3): everything up
// to and including di_uuid, before the fork literal area begins.
const coreSize = 176

// Inode is a decoded dinode core plus its still-raw literal area; fork
// contents are parsed lazily by DataExtents/DataBmbt/attrForkBytes, since
// most callers only need one fork (§4.3).
type Inode struct {
	Ino      Ino
	Mode     uint16
	Version  int8
	Format   forkFormat
	Nlink    uint32
	Uid      uint32
	Gid      uint32
	Atime    Timespec
	Mtime    Timespec
	Ctime    Timespec
	Crtime   Timespec
	Size     int64
	Nblocks  uint64
	Nextents int32
	Anextnts int16
	Forkoff  uint8
	Aformat  forkFormat
	Flags    uint16
	Gen      uint32
	UUID     uuid.UUID

	literal []byte // everything after the core, through the end of the inode record
}

// ReadInode decodes the dinode at ino, per §4.3. Magic mismatch is a fatal
// KindBadImage error; a self-referential inode number or UUID mismatch (v3
// inodes record both) is also treated as a corrupt image.
func ReadInode(br *BlockReader, sb *Superblock, ino Ino) (*Inode, error) {
	off, err := sb.InodeByteOffset(ino)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, sb.InodeSize)
	if err := br.ReadAt(off, buf); err != nil {
		return nil, err
	}

	magic := binary.BigEndian.Uint16(buf[0:2])
	if magic != dinodeMagic {
		return nil, newErr(KindBadImage, "inode %d: bad magic %#x", ino, magic)
	}

	in := &Inode{
		Ino:      ino,
		Mode:     binary.BigEndian.Uint16(buf[2:4]),
		Version:  int8(buf[4]),
		Format:   forkFormat(buf[5]),
		Nlink:    binary.BigEndian.Uint32(buf[16:20]),
		Uid:      binary.BigEndian.Uint32(buf[8:12]),
		Gid:      binary.BigEndian.Uint32(buf[12:16]),
		Size:     int64(binary.BigEndian.Uint64(buf[56:64])),
		Nblocks:  binary.BigEndian.Uint64(buf[64:72]),
		Nextents: int32(binary.BigEndian.Uint32(buf[76:80])),
		Anextnts: int16(binary.BigEndian.Uint16(buf[80:82])),
		Forkoff:  buf[82],
		Aformat:  forkFormat(buf[83]),
		Flags:    binary.BigEndian.Uint16(buf[90:92]),
		Gen:      binary.BigEndian.Uint32(buf[92:96]),
	}
	in.Atime = Timespec{Sec: int64(int32(binary.BigEndian.Uint32(buf[32:36]))), Nsec: int32(binary.BigEndian.Uint32(buf[36:40]))}
	in.Mtime = Timespec{Sec: int64(int32(binary.BigEndian.Uint32(buf[40:44]))), Nsec: int32(binary.BigEndian.Uint32(buf[44:48]))}
	in.Ctime = Timespec{Sec: int64(int32(binary.BigEndian.Uint32(buf[48:52]))), Nsec: int32(binary.BigEndian.Uint32(buf[52:56]))}
	in.Crtime = Timespec{Sec: int64(int32(binary.BigEndian.Uint32(buf[144:148]))), Nsec: int32(binary.BigEndian.Uint32(buf[148:152]))}

	gotIno := Ino(binary.BigEndian.Uint64(buf[152:160]))
	if gotIno != ino {
		return nil, newErr(KindBadImage, "inode %d: self-reference mismatch (found %d)", ino, gotIno)
	}
	u, err := uuid.FromBytes(buf[160:176])
	if err != nil {
		return nil, wrapErr(KindBadImage, err, "parse inode uuid")
	}
	if u != sb.UUID {
		return nil, newErr(KindBadImage, "inode %d: uuid mismatch", ino)
	}
	in.UUID = u

	in.literal = buf[coreSize:]
	return in, nil
}

// Kind classifies the inode by its mode bits (§4.9).
func (in *Inode) Kind() FileKind { return fileKindFromMode(in.Mode) }

// Perm returns the permission bits, stripped of the type bits.
func (in *Inode) Perm() uint16 { return in.Mode &^ modeFmt }

// dataForkBytes returns the raw bytes of the data fork's literal area: the
// whole literal area if there is no attribute fork, else the region before
// forkoff*8 (§4.3).
func (in *Inode) dataForkBytes() []byte {
	if in.Forkoff == 0 {
		return in.literal
	}
	end := int(in.Forkoff) * 8
	if end > len(in.literal) {
		end = len(in.literal)
	}
	return in.literal[:end]
}

// attrForkBytes returns the raw bytes of the attribute fork's literal area,
// or nil if the inode has none (§4.6).
func (in *Inode) attrForkBytes() []byte {
	if in.Forkoff == 0 {
		return nil
	}
	start := int(in.Forkoff) * 8
	if start >= len(in.literal) {
		return nil
	}
	return in.literal[start:]
}

// InlineData returns the raw bytes of a "local"-format data fork: the
// literal content of a shortform directory or an inline symlink target
// (§4.3, §4.8). The result is limited to the inode's size, so padding after
// the inline content is not included.
func (in *Inode) InlineData() []byte {
	data := in.dataForkBytes()
	if in.Size >= 0 && in.Size < int64(len(data)) {
		data = data[:in.Size]
	}
	return data
}

// DataExtents parses an "extents"-format data fork into a flat extent list
// (§4.3, §4.4.2).
func (in *Inode) DataExtents() ExtentList {
	return decodeExtentArray(in.dataForkBytes(), int(in.Nextents))
}

func decodeExtentArray(raw []byte, n int) ExtentList {
	el := make(ExtentList, 0, n)
	for i := 0; i < n && (i+1)*bmbtRecSize <= len(raw); i++ {
		el = append(el, decodeExtent(raw[i*bmbtRecSize:(i+1)*bmbtRecSize]))
	}
	return el
}

// DataBmbt parses a "btree"-format data fork's root (the embedded bmdr
// block: level(2) numrecs(2) then key/ptr arrays) into a Bmbt walker
// (§4.3, §4.4.3).
func (in *Inode) DataBmbt(br *BlockReader, sb *Superblock) *Bmbt {
	return newBmbtFromRoot(br, sb.Blocksize, in.dataForkBytes())
}

func newBmbtFromRoot(br *BlockReader, blocksize uint32, raw []byte) *Bmbt {
	level := binary.BigEndian.Uint16(raw[0:2])
	numRecs := binary.BigEndian.Uint16(raw[2:4])
	return NewBmbt(br, blocksize, raw[4:], numRecs, level)
}

// AttrShortformBytes returns the raw attribute-fork bytes when Aformat is
// "local" (shortform attributes, §4.6).
func (in *Inode) AttrShortformBytes() []byte {
	return in.attrForkBytes()
}

// AttrExtents parses an "extents"-format attribute fork into a flat extent
// list addressing the attribute fork's own DA block space (§4.6).
func (in *Inode) AttrExtents() ExtentList {
	return decodeExtentArray(in.attrForkBytes(), int(in.Anextnts))
}

// AttrBmbt parses a "btree"-format attribute fork's embedded root.
func (in *Inode) AttrBmbt(br *BlockReader, sb *Superblock) *Bmbt {
	return newBmbtFromRoot(br, sb.Blocksize, in.attrForkBytes())
}
