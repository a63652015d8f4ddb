package xfs

import (
	"github.com/sirupsen/logrus"
)

// Filesystem is the read-only facade over one open XFS image (§4.9): a
// cached superblock and root inode, plus the eight operations a mount host
// actually needs. It owns one BlockReader; concurrent requests each need
// their own Filesystem (§5).
type Filesystem struct {
	br  *BlockReader
	sb  *Superblock
	log logrus.FieldLogger

	root *Inode
}

// Mount reads and validates the superblock and root inode of the image at
// path, and returns a ready-to-use Filesystem. Superblock and root-inode
// failures are fatal, per §7's startup policy.
func Mount(path string, log logrus.FieldLogger) (*Filesystem, error) {
	br, err := Open(path)
	if err != nil {
		return nil, err
	}
	sb, err := ReadSuperblock(br)
	if err != nil {
		br.Close()
		return nil, err
	}
	root, err := ReadInode(br, sb, sb.RootIno)
	if err != nil {
		br.Close()
		return nil, wrapErr(KindBadImage, err, "read root inode")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Filesystem{br: br, sb: sb, log: log, root: root}, nil
}

// Close releases the underlying image handle.
func (fs *Filesystem) Close() error { return fs.br.Close() }

// RootIno is the inode number a mount host should use for its root
// sentinel.
func (fs *Filesystem) RootIno() Ino { return fs.sb.RootIno }

// Superblock exposes the decoded geometry, e.g. for statfs.
func (fs *Filesystem) Superblock() *Superblock { return fs.sb }

func (fs *Filesystem) openInode(ino Ino) (*Inode, error) {
	if ino == fs.root.Ino {
		return fs.root, nil
	}
	return ReadInode(fs.br, fs.sb, ino)
}

func attrFromInode(in *Inode) Attr {
	return Attr{
		Ino:        in.Ino,
		Size:       in.Size,
		Blocks:     in.Nblocks,
		Atime:      in.Atime,
		Mtime:      in.Mtime,
		Ctime:      in.Ctime,
		Birthtime:  in.Crtime,
		Kind:       in.Kind(),
		Perm:       in.Perm(),
		Nlink:      in.Nlink,
		Uid:        in.Uid,
		Gid:        in.Gid,
		Rdev:       0,
		Flags:      0,
		Generation: in.Gen,
	}
}

// Lookup resolves name within the directory parent (§4.9).
func (fs *Filesystem) Lookup(parent Ino, name string) (Attr, error) {
	parentIno, err := fs.openInode(parent)
	if err != nil {
		return Attr{}, err
	}
	if parentIno.Kind() != KindDirectory {
		return Attr{}, newErr(KindInvalid, "inode %d is not a directory", parent)
	}
	childIno, _, ok, err := NewDirectory(fs.br, fs.sb, parentIno).Lookup(name)
	if err != nil {
		return Attr{}, err
	}
	if !ok {
		return Attr{}, newErr(KindNotFound, "no such entry %q in directory %d", name, parent)
	}
	child, err := fs.openInode(childIno)
	if err != nil {
		return Attr{}, err
	}
	fs.log.WithFields(logrus.Fields{"op": "lookup", "parent": parent, "name": name}).Debug("resolved")
	return attrFromInode(child), nil
}

// Getattr returns the attributes of ino (§4.9).
func (fs *Filesystem) Getattr(ino Ino) (Attr, error) {
	in, err := fs.openInode(ino)
	if err != nil {
		return Attr{}, err
	}
	return attrFromInode(in), nil
}

// Readdir lists directory entries with cursor strictly greater than after
// (§4.9, §5 resume contract).
func (fs *Filesystem) Readdir(ino Ino, after uint64) ([]Dirent, error) {
	in, err := fs.openInode(ino)
	if err != nil {
		return nil, err
	}
	if in.Kind() != KindDirectory {
		return nil, newErr(KindInvalid, "inode %d is not a directory", ino)
	}
	entries, err := NewDirectory(fs.br, fs.sb, in).Readdir(after)
	if err != nil {
		fs.log.WithFields(logrus.Fields{"op": "readdir", "ino": ino}).WithError(err).Warn("readdir failed")
		return nil, err
	}
	return entries, nil
}

// Read fills buf from the regular file ino starting at byte offset off
// (§4.9, §4.7).
func (fs *Filesystem) Read(ino Ino, off int64, buf []byte) (int, error) {
	in, err := fs.openInode(ino)
	if err != nil {
		return 0, err
	}
	if in.Kind() != KindRegular {
		return 0, newErr(KindInvalid, "inode %d is not a regular file", ino)
	}
	return NewFile(fs.br, fs.sb, in).Read(off, buf)
}

// LseekDataHole implements SEEK_DATA/SEEK_HOLE over a regular file's
// content (§4.4.4, §4.9).
func (fs *Filesystem) LseekDataHole(ino Ino, offset int64, whence SeekWhence) (int64, error) {
	in, err := fs.openInode(ino)
	if err != nil {
		return 0, err
	}
	if in.Kind() != KindRegular {
		return 0, newErr(KindInvalid, "inode %d is not a regular file", ino)
	}
	return NewFile(fs.br, fs.sb, in).LseekDataHole(offset, whence)
}

// Readlink returns the target of the symlink ino (§4.9, §4.8).
func (fs *Filesystem) Readlink(ino Ino) (string, error) {
	in, err := fs.openInode(ino)
	if err != nil {
		return "", err
	}
	if in.Kind() != KindSymlink {
		return "", newErr(KindInvalid, "inode %d is not a symlink", ino)
	}
	return ReadSymlink(fs.br, fs.sb, in)
}

// Listxattr returns every extended attribute attached to ino (§4.9, §4.6).
func (fs *Filesystem) Listxattr(ino Ino) ([]Xattr, error) {
	in, err := fs.openInode(ino)
	if err != nil {
		return nil, err
	}
	return AttrList(fs.br, fs.sb, in)
}

// Getxattr returns the value of one named attribute, or ok=false if absent
// (§4.9, §4.6).
func (fs *Filesystem) Getxattr(ino Ino, fullName string) ([]byte, bool, error) {
	in, err := fs.openInode(ino)
	if err != nil {
		return nil, false, err
	}
	return AttrGet(fs.br, fs.sb, in, fullName)
}

// Statfs reports aggregate filesystem usage (§6 scenario 1, "fusefs.xfs"),
// grounded on original_source/volume.rs's statfs.
type Statfs struct {
	Blocks     uint64
	BlocksFree uint64
	Files      uint64
	FilesFree  uint64
	Bsize      uint32
}

func (fs *Filesystem) Statfs() Statfs {
	return Statfs{
		Blocks:     fs.sb.DBlocks,
		BlocksFree: fs.sb.FdBlocks,
		Files:      fs.sb.ICount,
		FilesFree:  fs.sb.IFree,
		Bsize:      fs.sb.Blocksize,
	}
}
