package xfs

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/google/uuid"
)

const (
	sbMagic       = 0x58465342 // "XFSB"
	sbSize        = 512
	sbCRCOffset   = 224 // byte offset of sb_crc within the superblock
	dinodeMagic   = 0x494e   // "IN"
	dir2BlockMag  = 0x58443242
	dir3BlockMag  = 0x58444233
	dir2DataMag   = 0x58443244
	dir3DataMag   = 0x58444433
	dir2Leaf1Mag  = 0xd2f1
	dir3Leaf1Mag  = 0x3df1
	dir2LeafNMag  = 0xd2ff
	dir3LeafNMag  = 0x3dff
	bmapMagic     = 0x424d4150
	bmapCRCMagic  = 0x424d4133
	daNodeMagic   = 0xfebe
	da3NodeMagic  = 0x3ebe
	attrLeafMagic = 0xfbee
	attr3LeafMag  = 0x3bee
	attrRmtMagic  = 0x5841524d
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// crc32c computes the CRC-32C (iSCSI polynomial) checksum used by every v5
// on-disk block, per §6: the check is computed with the block's own CRC
// field treated as zero.
func crc32c(data []byte, crcOffset int) uint32 {
	buf := make([]byte, len(data))
	copy(buf, data)
	for i := 0; i < 4; i++ {
		buf[crcOffset+i] = 0
	}
	return crc32.Checksum(buf, crc32cTable)
}

// Superblock holds the geometry fields the core needs to turn inode numbers
// and file-relative offsets into byte offsets (§3, §4.2). All disk integers
// are big-endian.
type Superblock struct {
	Blocksize        uint32
	DBlocks          uint64
	AgBlocks         uint32
	AgCount          uint32
	SectSize         uint16
	InodeSize        uint16
	InopBlock        uint16
	BlockLog         uint8
	SectLog          uint8
	InodeLog         uint8
	InopBlog         uint8
	AgBlklog         uint8
	DirBlklog        uint8
	RootIno          Ino
	UUID             uuid.UUID
	VersionNum       uint16
	FeaturesIncompat uint32
	ICount           uint64
	IFree            uint64
	FdBlocks         uint64

	raw [sbSize]byte
}

// ReadSuperblock parses and validates the first sector of an XFS image
// (§3, §4.2). Magic mismatch, unsupported (non-v5) version, or CRC mismatch
// are fatal KindBadImage errors.
func ReadSuperblock(br *BlockReader) (*Superblock, error) {
	var buf [sbSize]byte
	if err := br.ReadAt(0, buf[:]); err != nil {
		return nil, err
	}

	magic := binary.BigEndian.Uint32(buf[0:4])
	if magic != sbMagic {
		return nil, newErr(KindBadImage, "bad superblock magic %#x", magic)
	}

	sb := &Superblock{raw: buf}
	sb.Blocksize = binary.BigEndian.Uint32(buf[4:8])
	sb.DBlocks = binary.BigEndian.Uint64(buf[8:16])
	u, err := uuid.FromBytes(buf[32:48])
	if err != nil {
		return nil, wrapErr(KindBadImage, err, "parse superblock uuid")
	}
	sb.UUID = u
	sb.RootIno = Ino(binary.BigEndian.Uint64(buf[56:64]))
	sb.AgBlocks = binary.BigEndian.Uint32(buf[84:88])
	sb.AgCount = binary.BigEndian.Uint32(buf[88:92])
	sb.VersionNum = binary.BigEndian.Uint16(buf[100:102])
	sb.SectSize = binary.BigEndian.Uint16(buf[102:104])
	sb.InodeSize = binary.BigEndian.Uint16(buf[104:106])
	sb.InopBlock = binary.BigEndian.Uint16(buf[106:108])
	sb.BlockLog = buf[120]
	sb.SectLog = buf[121]
	sb.InodeLog = buf[122]
	sb.InopBlog = buf[123]
	sb.AgBlklog = buf[124]
	sb.ICount = binary.BigEndian.Uint64(buf[128:136])
	sb.IFree = binary.BigEndian.Uint64(buf[136:144])
	sb.FdBlocks = binary.BigEndian.Uint64(buf[144:152])
	sb.DirBlklog = buf[167]
	sb.FeaturesIncompat = binary.BigEndian.Uint32(buf[196:200])

	if sb.VersionNum&0xf != 5 {
		return nil, newErr(KindNotSupported, "XFS version %d unsupported (v5 only)", sb.VersionNum&0xf)
	}

	wantCRC := binary.LittleEndian.Uint32(buf[sbCRCOffset : sbCRCOffset+4])
	gotCRC := crc32c(buf[:], sbCRCOffset)
	if gotCRC != wantCRC {
		return nil, newErr(KindBadImage, "superblock CRC mismatch: got %#x, want %#x", gotCRC, wantCRC)
	}

	return sb, nil
}

// InodeByteOffset computes the byte offset of inode ino, per §4.2:
// ((agno*agblocks)+agblk)*blocksize + inoinblock*inodesize, with agno,
// agblk, and inoinblock bit-sliced out of ino using inopblog/agblklog.
func (sb *Superblock) InodeByteOffset(ino Ino) (int64, error) {
	agBlkLog := sb.AgBlklog
	inopBlog := sb.InopBlog

	agno := uint64(ino) >> (agBlkLog + inopBlog)
	if uint32(agno) >= sb.AgCount {
		return 0, newErr(KindInvalid, "agno %d >= agcount %d", agno, sb.AgCount)
	}
	rel := uint64(ino) & ((1 << (agBlkLog + inopBlog)) - 1)
	agblk := rel >> inopBlog
	inoInBlock := rel & ((1 << inopBlog) - 1)

	blockOff := (agno*uint64(sb.AgBlocks) + agblk) * uint64(sb.Blocksize)
	return int64(blockOff) + int64(inoInBlock)*int64(sb.InodeSize), nil
}

// BlockByteOffset converts a filesystem block number to a byte offset.
func (sb *Superblock) BlockByteOffset(fsb Fsblock) int64 {
	return int64(fsb) * int64(sb.Blocksize)
}

// DirLeafOffset is the fixed logical DA block at which a directory's Leaf/
// Leaf-N block(s) are anchored: 32 GiB / blocksize (§4.2).
func (sb *Superblock) DirLeafOffset() Dablock {
	return Dablock((32 * 1024 * 1024 * 1024) / uint64(sb.Blocksize))
}

// DirFreeOffset is the fixed logical DA block anchoring the directory
// freeindex: 64 GiB / blocksize. Read-only operation ignores it (§4.5.8).
func (sb *Superblock) DirFreeOffset() Dablock {
	return Dablock((64 * 1024 * 1024 * 1024) / uint64(sb.Blocksize))
}

// DirBlockSize is the directory block size in bytes: blocksize << dirblklog.
func (sb *Superblock) DirBlockSize() uint32 {
	return sb.Blocksize << sb.DirBlklog
}
