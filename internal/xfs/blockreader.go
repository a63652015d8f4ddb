package xfs

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// BlockReader is a single-threaded, sector-aligned buffered reader over a
// block device or regular file holding an XFS image (spec §4.1). It
// maintains exactly one buffer, always a positive multiple of the device's
// sector size. It is not safe for concurrent use; a parallel request must
// open its own BlockReader (§5).
type BlockReader struct {
	f          *os.File
	sectorSize int
	buf        []byte
	idx        int // read cursor within buf; buf[idx:] is unconsumed
	bufPos     int64
}

// Open opens path and detects its sector size: via BLKSSZGET on a
// block/character device, via st_blksize otherwise (§4.1).
func Open(path string) (*BlockReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapErr(KindIo, err, "open image")
	}
	sectorSize, err := deviceSectorSize(f)
	if err != nil {
		f.Close()
		return nil, wrapErr(KindIo, err, "determine sector size")
	}
	br := &BlockReader{
		f:          f,
		sectorSize: sectorSize,
		buf:        make([]byte, sectorSize),
	}
	br.idx = len(br.buf) // buffer considered empty until first Seek
	return br, nil
}

func deviceSectorSize(f *os.File) (int, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if fi.Mode()&os.ModeDevice != 0 {
		if sz, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKSSZGET); err == nil && sz > 0 {
			return sz, nil
		}
	}
	if st, ok := fi.Sys().(*syscall.Stat_t); ok && st.Blksize > 0 {
		return int(st.Blksize), nil
	}
	return 512, nil
}

// Close releases the underlying file handle.
func (br *BlockReader) Close() error { return br.f.Close() }

// BufSize returns the current buffer size in bytes.
func (br *BlockReader) BufSize() int { return len(br.buf) }

// SetBufSize resizes the buffer to a positive multiple of the sector size.
// After this call the buffer is undefined until the next absolute Seek.
func (br *BlockReader) SetBufSize(n int) {
	rem := n % br.sectorSize
	if rem != 0 {
		n += br.sectorSize - rem
	}
	br.buf = make([]byte, n)
	br.idx = n
}

// Seek moves to an absolute byte offset, snapping down to the nearest
// buffer-size boundary, refilling, and advancing the in-buffer cursor by the
// remainder. Negative offsets fail with KindInvalid.
func (br *BlockReader) Seek(off int64) error {
	if off < 0 {
		return newErr(KindInvalid, "seek to negative offset %d", off)
	}
	bs := int64(len(br.buf))
	aligned := (off / bs) * bs
	if err := br.refillAt(aligned); err != nil {
		return err
	}
	br.idx = int(off - aligned)
	return nil
}

// SeekRelative moves by offset bytes from the current position. If the
// target stays within the currently buffered block, no re-read happens.
func (br *BlockReader) SeekRelative(offset int64) error {
	newIdx := int64(br.idx) + offset
	if newIdx >= 0 && newIdx < int64(len(br.buf)) {
		br.idx = int(newIdx)
		return nil
	}
	cur := br.bufPos + int64(br.idx)
	target := cur + offset
	if target < 0 {
		return newErr(KindInvalid, "seek to negative offset")
	}
	return br.Seek(target)
}

// Position returns the current absolute byte offset.
func (br *BlockReader) Position() int64 { return br.bufPos + int64(br.idx) }

func (br *BlockReader) refillAt(pos int64) error {
	if _, err := br.f.Seek(pos, os.SEEK_SET); err != nil {
		return wrapErr(KindIo, err, "seek")
	}
	n, err := readFull(br.f, br.buf)
	if err != nil && n == 0 {
		return wrapErr(KindIo, err, "refill buffer")
	}
	// Short reads (EOF partway into the last block) zero-fill the remainder
	// so callers decoding trailing padding see defined bytes.
	for i := n; i < len(br.buf); i++ {
		br.buf[i] = 0
	}
	br.bufPos = pos
	br.idx = 0
	return nil
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

func (br *BlockReader) refillIfEmpty() error {
	if br.idx < len(br.buf) {
		return nil
	}
	return br.refillAt(br.bufPos + int64(len(br.buf)))
}

// Peek returns up to n unconsumed bytes without advancing the cursor.
func (br *BlockReader) Peek(n int) ([]byte, error) {
	if err := br.refillIfEmpty(); err != nil {
		return nil, err
	}
	avail := len(br.buf) - br.idx
	if n > avail {
		n = avail
	}
	return br.buf[br.idx : br.idx+n], nil
}

// Consume advances the cursor by n bytes, which must already be buffered.
func (br *BlockReader) Consume(n int) {
	if br.idx+n > len(br.buf) {
		panic("xfs: Consume past buffered region")
	}
	br.idx += n
}

// Read implements io.Reader over the aligned buffer, refilling as needed.
func (br *BlockReader) Read(p []byte) (int, error) {
	if err := br.refillIfEmpty(); err != nil {
		return 0, err
	}
	n := copy(p, br.buf[br.idx:])
	br.idx += n
	return n, nil
}

// ReadFull reads exactly len(p) bytes, issuing as many buffer refills as
// required, and advances the cursor accordingly.
func (br *BlockReader) ReadFull(p []byte) error {
	read := 0
	for read < len(p) {
		n, err := br.Read(p[read:])
		read += n
		if err != nil {
			return err
		}
		if n == 0 {
			return wrapErr(KindIo, xerrors.Errorf("short read"), "ReadFull")
		}
	}
	return nil
}

// ReadAt is a convenience used throughout the decoder: seek to off, then
// read exactly len(p) bytes. It is equivalent to Seek+ReadFull but named to
// mirror call sites that treat the reader as addressable, even though the
// reader itself is stateful and single-threaded (§4.1, §5).
func (br *BlockReader) ReadAt(off int64, p []byte) error {
	if err := br.Seek(off); err != nil {
		return err
	}
	return br.ReadFull(p)
}
