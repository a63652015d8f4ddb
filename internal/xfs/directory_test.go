package xfs

import (
	"encoding/binary"
	"testing"
)

func TestDirectoryShortform(t *testing.T) {
	entries := []dir2SfEntry{
		{Ino: 200, Name: "file1", Ftype: ftRegFile, Offset: 8},
		{Ino: 201, Name: "sub", Ftype: ftDir, Offset: 20},
	}
	raw := encodeShortformDir(128, entries)
	in := &Inode{Ino: 128, Mode: modeDir, Format: fmtLocal, Size: int64(len(raw)), literal: raw}
	d := NewDirectory(nil, &Superblock{}, in)

	ino, kind, ok, err := d.Lookup("sub")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok || ino != 201 || kind != KindDirectory {
		t.Errorf("Lookup(sub) = (%d, %v, %v), want (201, KindDirectory, true)", ino, kind, ok)
	}

	_, _, ok, err = d.Lookup("missing")
	if err != nil {
		t.Fatalf("Lookup(missing): %v", err)
	}
	if ok {
		t.Error("Lookup(missing) = true, want false")
	}

	all, err := d.Readdir(0)
	if err != nil {
		t.Fatalf("Readdir: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Readdir(0) returned %d entries, want 2", len(all))
	}

	after := all[0].Cursor
	rest, err := d.Readdir(after)
	if err != nil {
		t.Fatalf("Readdir(%d): %v", after, err)
	}
	if len(rest) != len(all)-1 {
		t.Errorf("Readdir(%d) returned %d entries, want %d", after, len(rest), len(all)-1)
	}
}

// encodeDir3DataBlock builds a single combined data+leaf directory block
// (the "Block" format, §4.5.3): a header, the live entries packed
// sequentially, then a trailing hash index and tail, matching what
// readBlockDirEntries/lookupBlockDir expect.
func encodeDir3DataBlock(blockSize int, entries []dirDataEntry) []byte {
	buf := make([]byte, blockSize)
	binary.BigEndian.PutUint32(buf[0:4], dir3BlockMag)

	type placed struct {
		pos  int
		size int
		e    dirDataEntry
	}
	var all []placed
	pos := dir3DataHdrSize
	for _, e := range entries {
		unaligned := 8 + 1 + len(e.Name) + 1
		size := ((unaligned + 2 + 7) / 8) * 8
		binary.BigEndian.PutUint64(buf[pos:pos+8], uint64(e.Ino))
		buf[pos+8] = byte(len(e.Name))
		copy(buf[pos+9:], e.Name)
		buf[pos+9+len(e.Name)] = e.Ftype
		// tag (last 2 bytes of the record) holds this entry's own start
		// offset divided by 8, matching the reference encoding; the decoder
		// here never reads the tag, only EntSize derived from layout.
		binary.BigEndian.PutUint16(buf[pos+size-2:pos+size], uint16(pos/8))
		all = append(all, placed{pos: pos, size: size, e: e})
		pos += size
	}
	leafStart := blockSize - dir2BlockTailSize - len(all)*dir2LeafEntrySize
	if rem := leafStart - pos; rem > 0 {
		// Mark the rest of the data area as one free record so the decoder
		// doesn't mistake zero bytes for more (bogus) live entries.
		binary.BigEndian.PutUint16(buf[pos:pos+2], direntFreeTag)
		binary.BigEndian.PutUint16(buf[pos+2:pos+4], uint16(rem))
	}
	for i, p := range all {
		off := leafStart + i*dir2LeafEntrySize
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(hashName(p.e.Name)))
		binary.BigEndian.PutUint32(buf[off+4:off+8], uint32(p.pos/8))
	}
	tailOff := blockSize - dir2BlockTailSize
	binary.BigEndian.PutUint32(buf[tailOff:tailOff+4], uint32(len(all)))
	return buf
}

func TestDirectoryBlockFormat(t *testing.T) {
	const blockSize = 512
	entries := []dirDataEntry{
		{Ino: 300, Name: "a", Ftype: ftRegFile},
		{Ino: 301, Name: "bb", Ftype: ftDir},
	}
	blockBuf := encodeDir3DataBlock(blockSize, entries)
	img := make([]byte, blockSize*2)
	copy(img[blockSize:], blockBuf) // place the directory block at phys block 1
	path := writeTempImage(t, img)
	br, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer br.Close()

	sb := &Superblock{Blocksize: blockSize, DirBlklog: 0}
	in := &Inode{
		Ino: 128, Mode: modeDir, Format: fmtExtents, Nextents: 1,
		literal: encodeExtent(Extent{State: ExtentNormal, LogicalOff: 0, PhysBlock: 1, Blockcount: 1}),
	}
	d := NewDirectory(br, sb, in)

	ino, kind, ok, err := d.Lookup("bb")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok || ino != 301 || kind != KindDirectory {
		t.Errorf("Lookup(bb) = (%d, %v, %v), want (301, KindDirectory, true)", ino, kind, ok)
	}

	_, _, ok, err = d.Lookup("nope")
	if err != nil {
		t.Fatalf("Lookup(nope): %v", err)
	}
	if ok {
		t.Error("Lookup(nope) = true, want false")
	}

	all, err := d.Readdir(0)
	if err != nil {
		t.Fatalf("Readdir: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Readdir(0) returned %d entries, want 2", len(all))
	}
}

// TestDirectoryBlockFormatDirBlklog locks in §4.2's directory block size
// (blocksize<<dirblklog) for a geometry where one directory block spans
// more than one filesystem block.
func TestDirectoryBlockFormatDirBlklog(t *testing.T) {
	const blockSize = 512
	const dirBlklog = 1
	const dirBlockSize = blockSize << dirBlklog // 1024: two fs blocks per dir block.

	entries := []dirDataEntry{
		{Ino: 300, Name: "a", Ftype: ftRegFile},
		{Ino: 301, Name: "bb", Ftype: ftDir},
	}
	blockBuf := encodeDir3DataBlock(dirBlockSize, entries)
	img := make([]byte, blockSize*4)
	copy(img[2*blockSize:], blockBuf) // directory block occupies fs blocks 2-3.
	path := writeTempImage(t, img)
	br, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer br.Close()

	sb := &Superblock{Blocksize: blockSize, DirBlklog: dirBlklog}
	in := &Inode{
		Ino: 128, Mode: modeDir, Format: fmtExtents, Nextents: 1,
		literal: encodeExtent(Extent{State: ExtentNormal, LogicalOff: 0, PhysBlock: 2, Blockcount: 2}),
	}
	d := NewDirectory(br, sb, in)

	ino, kind, ok, err := d.Lookup("bb")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok || ino != 301 || kind != KindDirectory {
		t.Errorf("Lookup(bb) = (%d, %v, %v), want (301, KindDirectory, true)", ino, kind, ok)
	}

	all, err := d.Readdir(0)
	if err != nil {
		t.Fatalf("Readdir: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Readdir(0) returned %d entries, want 2 (dir block spans fs blocks 2-3)", len(all))
	}
}
