package xfs

import "encoding/binary"

// resolveDirLeaf finds the filesystem block of the leaf block that would
// hold hash, for a directory whose hashed index is anchored at the fixed
// DA offset (§4.5.1, §4.5.6): if that block is itself a leaf, return it
// directly (plain Leaf format); if it is an intermediate node, descend the
// DA B+tree (Node/Btree format).
func resolveDirLeaf(br *BlockReader, sb *Superblock, mapper blockMapper, hash Dahash) (Fsblock, error) {
	rootDablock := sb.DirLeafOffset()
	rootFsb, ok := mapper(rootDablock)
	if !ok {
		return 0, newErr(KindBadImage, "directory: unmapped leaf/node root block")
	}
	buf, err := readDirBlockAt(br, sb, rootFsb)
	if err != nil {
		return 0, err
	}
	magic := binary.BigEndian.Uint16(buf[8:10])
	switch magic {
	case dir2Leaf1Mag, dir3Leaf1Mag, dir2LeafNMag, dir3LeafNMag:
		return rootFsb, nil
	case daNodeMagic, da3NodeMagic:
		return descendDaTree(br, sb, mapper, rootDablock, hash)
	default:
		return 0, newErr(KindBadImage, "directory: bad leaf/node root magic %#x", magic)
	}
}

// lookupHashedFormatDir implements lookup for both the Leaf and Node/Btree
// directory formats (§4.5.5, §4.5.6): resolve the owning leaf block, then
// search its hash index.
func lookupHashedFormatDir(br *BlockReader, sb *Superblock, mapper blockMapper, name string) (Ino, FileKind, bool, error) {
	leafFsb, err := resolveDirLeaf(br, sb, mapper, hashName(name))
	if err != nil {
		return 0, 0, false, err
	}
	return lookupInDirLeaf(br, sb, mapper, leafFsb, name)
}
