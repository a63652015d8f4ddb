package xfs

// File is a read-only view over a regular file's data fork (§4.7).
type File struct {
	br  *BlockReader
	sb  *Superblock
	ino *Inode
}

// NewFile wraps a regular-file inode. The caller is responsible for having
// already confirmed ino.Kind() == KindRegular.
func NewFile(br *BlockReader, sb *Superblock, ino *Inode) *File {
	return &File{br: br, sb: sb, ino: ino}
}

func (f *File) mapLogicalBlock(logical uint64) (Fsblock, ExtentState, bool, error) {
	switch f.ino.Format {
	case fmtExtents:
		phys, state, ok := f.ino.DataExtents().Map(logical)
		return phys, state, ok, nil
	case fmtBtree:
		return f.ino.DataBmbt(f.br, f.sb).Map(logical)
	default:
		return 0, 0, false, newErr(KindBadImage, "inode %d: unsupported fork format %d for read", f.ino.Ino, f.ino.Format)
	}
}

// Read fills buf with up to len(buf) bytes starting at byte offset off,
// clamped to the file's size, and returns the number of bytes filled
// (§4.7). Holes and unwritten extents read back as zero without touching
// the underlying device, matching the rest of the decoder's lazy I/O.
func (f *File) Read(off int64, buf []byte) (int, error) {
	if f.ino.Format == fmtLocal {
		data := f.ino.InlineData()
		if off >= int64(len(data)) {
			return 0, nil
		}
		n := copy(buf, data[off:])
		return n, nil
	}

	if off >= f.ino.Size {
		return 0, nil
	}
	want := int64(len(buf))
	if off+want > f.ino.Size {
		want = f.ino.Size - off
	}

	blocksize := int64(f.sb.Blocksize)
	total := 0
	for int64(total) < want {
		abs := off + int64(total)
		logical := uint64(abs / blocksize)
		blockOff := int(abs % blocksize)
		n := int(blocksize) - blockOff
		remaining := int(want) - total
		if n > remaining {
			n = remaining
		}

		phys, state, ok, err := f.mapLogicalBlock(logical)
		if err != nil {
			return total, err
		}
		if !ok || state == ExtentUnwritten {
			for i := 0; i < n; i++ {
				buf[total+i] = 0
			}
		} else {
			blk := make([]byte, blocksize)
			if err := f.br.ReadAt(f.sb.BlockByteOffset(phys), blk); err != nil {
				return total, err
			}
			copy(buf[total:total+n], blk[blockOff:blockOff+n])
		}
		total += n
	}
	return total, nil
}

// LseekDataHole implements the lseek(2) SEEK_DATA/SEEK_HOLE contract
// (§4.4.4, §4.7) in byte units, translating to and from the block-unit
// implementation in ExtentList/Bmbt.
func (f *File) LseekDataHole(offset int64, whence SeekWhence) (int64, error) {
	if f.ino.Format == fmtLocal {
		if whence == SeekHole {
			return f.ino.Size, nil
		}
		if offset >= f.ino.Size {
			return 0, newErr(KindNotFound, "no data at or after offset")
		}
		return offset, nil
	}

	blocksize := int64(f.sb.Blocksize)
	eofBlock := uint64((f.ino.Size + blocksize - 1) / blocksize)
	startBlock := uint64(offset / blocksize)

	var resultBlock uint64
	var err error
	switch f.ino.Format {
	case fmtExtents:
		resultBlock, err = f.ino.DataExtents().LseekDataHole(startBlock, whence, eofBlock)
	case fmtBtree:
		resultBlock, err = f.ino.DataBmbt(f.br, f.sb).LseekDataHole(startBlock, whence, eofBlock)
	default:
		return 0, newErr(KindBadImage, "inode %d: unsupported fork format %d for lseek", f.ino.Ino, f.ino.Format)
	}
	if err != nil {
		return 0, err
	}
	result := int64(resultBlock) * blocksize
	if result > f.ino.Size {
		result = f.ino.Size
	}
	if result < offset && whence == SeekData {
		result = offset
	}
	return result, nil
}
