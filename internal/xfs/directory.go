package xfs

// Directory is a read-only view over one directory inode, dispatching to
// whichever on-disk format its fork actually uses (§4.5.1): Shortform
// (inline), Block (one combined data+leaf extent), or Leaf/Node/Btree (a
// separate hashed index anchored at a fixed DA offset).
type Directory struct {
	br  *BlockReader
	sb  *Superblock
	ino *Inode
}

// NewDirectory wraps a directory inode. The caller is responsible for
// having already confirmed ino.Kind() == KindDirectory.
func NewDirectory(br *BlockReader, sb *Superblock, ino *Inode) *Directory {
	return &Directory{br: br, sb: sb, ino: ino}
}

func (d *Directory) mapper() (blockMapper, error) {
	switch d.ino.Format {
	case fmtExtents:
		return extentMapper(d.ino.DataExtents()), nil
	case fmtBtree:
		return bmbtMapper(d.ino.DataBmbt(d.br, d.sb)), nil
	default:
		return nil, newErr(KindBadImage, "directory inode %d: unsupported fork format %d", d.ino.Ino, d.ino.Format)
	}
}

// Lookup resolves name to its inode number and kind tag (§4.5).
func (d *Directory) Lookup(name string) (Ino, FileKind, bool, error) {
	if d.ino.Format == fmtLocal {
		_, entries, err := decodeShortformDir(d.ino.InlineData(), d.ino.Ino)
		if err != nil {
			return 0, 0, false, err
		}
		for _, e := range entries {
			if e.Name == name {
				return e.Ino, ftToKind(e.Ftype), true, nil
			}
		}
		return 0, 0, false, nil
	}

	if d.ino.Nextents == 1 && d.ino.Format == fmtExtents {
		el := d.ino.DataExtents()
		fsb, _, ok := el.Map(0)
		if !ok {
			return 0, 0, false, newErr(KindBadImage, "directory inode %d: unmapped single block", d.ino.Ino)
		}
		buf, err := readDirBlockAt(d.br, d.sb, fsb)
		if err != nil {
			return 0, 0, false, err
		}
		return lookupBlockDir(buf, name)
	}

	mapper, err := d.mapper()
	if err != nil {
		return 0, 0, false, err
	}
	return lookupHashedFormatDir(d.br, d.sb, mapper, name)
}

// Readdir returns every live entry whose packed cursor is > afterCursor, in
// cursor order, suitable for incremental FUSE readdir resumption (§4.5,
// §4.9). Passing 0 starts from the beginning.
func (d *Directory) Readdir(afterCursor uint64) ([]Dirent, error) {
	var all []Dirent
	var err error

	switch {
	case d.ino.Format == fmtLocal:
		_, entries, derr := decodeShortformDir(d.ino.InlineData(), d.ino.Ino)
		if derr != nil {
			return nil, derr
		}
		for _, e := range entries {
			all = append(all, Dirent{Ino: e.Ino, Cursor: uint64(e.Offset), Kind: ftToKind(e.Ftype), Name: e.Name})
		}

	case d.ino.Nextents == 1 && d.ino.Format == fmtExtents:
		el := d.ino.DataExtents()
		fsb, _, ok := el.Map(0)
		if !ok {
			return nil, newErr(KindBadImage, "directory inode %d: unmapped single block", d.ino.Ino)
		}
		buf, rerr := readDirBlockAt(d.br, d.sb, fsb)
		if rerr != nil {
			return nil, rerr
		}
		all, err = readBlockDirEntries(buf)

	default:
		var blocks []LogPhys
		bound := uint64(d.sb.DirLeafOffset())
		if d.ino.Format == fmtBtree {
			blocks, err = d.ino.DataBmbt(d.br, d.sb).BlocksBelow(bound)
		} else {
			blocks = d.ino.DataExtents().BlocksBelow(bound)
		}
		if err != nil {
			return nil, err
		}
		all, err = readLeafFormatDirEntries(d.br, d.sb, blocks)
	}
	if err != nil {
		return nil, err
	}

	out := all[:0:0]
	for _, e := range all {
		if e.Cursor > afterCursor {
			out = append(out, e)
		}
	}
	return out, nil
}
