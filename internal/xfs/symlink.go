package xfs

import "encoding/binary"

// symlinkHdrSize is the per-block header on an extent-stored symlink
// target (§4.8): magic(4) offset(4) bytes(4) crc(4) uuid(16) owner(8)
// blkno(8) lsn(8) = 56 bytes.
const symlinkHdrSize = 56

// ReadSymlink returns the target of a symlink inode (§4.8): the literal
// data fork content when stored inline, or the concatenation of every
// extent's data block (each carrying its own header) when the target
// exceeds the inline threshold.
func ReadSymlink(br *BlockReader, sb *Superblock, ino *Inode) (string, error) {
	if ino.Format == fmtLocal {
		return string(ino.InlineData()), nil
	}
	if ino.Format != fmtExtents {
		return "", newErr(KindBadImage, "inode %d: unsupported symlink fork format %d", ino.Ino, ino.Format)
	}

	extents := ino.DataExtents()
	out := make([]byte, 0, ino.Size)
	for _, e := range extents {
		for i := uint64(0); i < e.Blockcount && int64(len(out)) < ino.Size; i++ {
			buf := make([]byte, sb.Blocksize)
			if err := br.ReadAt(sb.BlockByteOffset(e.PhysBlock+Fsblock(i)), buf); err != nil {
				return "", err
			}
			if len(buf) < symlinkHdrSize {
				return "", newErr(KindBadImage, "inode %d: symlink block too small", ino.Ino)
			}
			rmBytes := binary.BigEndian.Uint32(buf[8:12])
			rmOffset := binary.BigEndian.Uint32(buf[4:8])
			start := symlinkHdrSize + int(rmOffset)
			if start+int(rmBytes) > len(buf) {
				return "", newErr(KindBadImage, "inode %d: symlink block record exceeds block", ino.Ino)
			}
			out = append(out, buf[start:start+int(rmBytes)]...)
		}
	}
	if int64(len(out)) > ino.Size {
		out = out[:ino.Size]
	}
	return string(out), nil
}
