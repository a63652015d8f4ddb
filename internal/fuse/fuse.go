// Package fuse mounts a decoded XFS image as a read-only FUSE file system.
package fuse

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/distr1/xfsfuse/internal/oninterrupt"
	"github.com/distr1/xfsfuse/internal/xfs"
)

const help = `xfsfuse [-flags] <image> <mountpoint>

Mount an XFS v5 disk image read-only via FUSE.

Example:
  % xfsfuse disk.img /mnt/xfs
`

// recognizedOptions is the mount-option vocabulary named in spec.md §6; any
// other token is still passed through verbatim as a host-specific option.
var recognizedOptions = map[string]bool{
	"auto_unmount": true, "allow_other": true, "allow_root": true,
	"default_permissions": true, "dev": true, "nodev": true,
	"suid": true, "nosuid": true, "exec": true, "noexec": true,
	"atime": true, "noatime": true, "dirsync": true, "sync": true, "async": true,
}

// Mount parses subcommand flags, opens the image named by the first
// positional argument, and mounts it at the second. The returned join
// function blocks until the file system is unmounted; unmount triggers that
// unmount explicitly (e.g. from a signal handler).
func Mount(ctx context.Context, args []string) (join func(context.Context) error, unmount func() error, _ error) {
	fset := flag.NewFlagSet("xfsfuse", flag.ExitOnError)
	var (
		options    = fset.String("o", "", "comma-separated list of mount options")
		foreground = fset.Bool("f", false, "run in the foreground")
		verbose    = fset.Bool("v", false, "enable debug logging")
	)
	fset.Usage = func() {
		fmt.Fprintln(os.Stderr, help)
		fmt.Fprintln(os.Stderr, "Flags:")
		fset.PrintDefaults()
	}
	fset.Parse(args)
	if fset.NArg() != 2 {
		return nil, nil, xerrors.Errorf("syntax: xfsfuse [-flags] <image> <mountpoint>")
	}
	image := fset.Arg(0)
	mountpoint := fset.Arg(1)
	_ = foreground // accepted, but the process never daemonizes: it always runs in the foreground

	log := logrus.StandardLogger()
	if env, ok := os.LookupEnv("XFSFUSE_LOG"); ok {
		if lvl, err := logrus.ParseLevel(env); err == nil {
			log.SetLevel(lvl)
		} else {
			log.WithError(err).Warn("ignoring invalid XFSFUSE_LOG")
		}
	}
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	xfsFS, err := xfs.Mount(image, log)
	if err != nil {
		return nil, nil, xerrors.Errorf("opening %s: %w", image, err)
	}

	fs := &fuseFS{xfs: xfsFS, rootIno: xfsFS.RootIno(), log: log}
	server := fuseutil.NewFileSystemServer(fs)

	opts := make(map[string]string)
	for _, tok := range strings.Split(*options, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		opts[tok] = "" // recognizedOptions and passthrough tokens alike
	}

	mfs, err := fuse.Mount(mountpoint, server, &fuse.MountConfig{
		FSName:   "xfsfuse",
		ReadOnly: true,
		Options:  opts,
		// Opt into caching resolved symlinks in the kernel page cache:
		EnableSymlinkCaching: true,
		// Opt into returning -ENOSYS on OpenFile and OpenDir:
		EnableNoOpenSupport:    true,
		EnableNoOpendirSupport: true,
	})
	if err != nil {
		xfsFS.Close()
		return nil, nil, xerrors.Errorf("fuse.Mount: %w", err)
	}

	unmount = func() error { return fuse.Unmount(mountpoint) }

	// Ctrl-C (SIGINT) unmounts even if the caller never calls unmount itself;
	// SIGTERM is left to the caller's own errgroup-joined signal handling.
	oninterrupt.Register(func() {
		if err := unmount(); err != nil {
			fmt.Fprintf(os.Stderr, "fuse.Unmount: %v\n", err)
		}
	})

	// xfsFS.Close happens in Destroy, called by the FUSE connection teardown
	// that Join waits on; closing it again here would double-close.
	join = func(ctx context.Context) error {
		return mfs.Join(ctx)
	}
	return join, unmount, nil
}

// never is used for FUSE expiration timestamps: the image is read-only and
// inode numbers never change, so the kernel can cache attributes
// indefinitely (one cache miss a year is an acceptable cost).
var never = time.Now().Add(365 * 24 * time.Hour)

type fuseFS struct {
	fuseutil.NotImplementedFileSystem

	xfs     *xfs.Filesystem
	rootIno xfs.Ino
	log     logrus.FieldLogger
}

// toFuseIno maps a decoded XFS inode number to the FUSE inode space: FUSE
// requires RootInodeID == 1 (github.com/libfuse/libfuse/issues/267), so the
// image's actual root inode is remapped to 1 and every other inode number
// passes through unchanged.
func (fs *fuseFS) toFuseIno(ino xfs.Ino) fuseops.InodeID {
	if ino == fs.rootIno {
		return fuseops.RootInodeID
	}
	return fuseops.InodeID(ino)
}

// toXfsIno reverses toFuseIno.
func (fs *fuseFS) toXfsIno(id fuseops.InodeID) xfs.Ino {
	if id == fuseops.RootInodeID {
		return fs.rootIno
	}
	return xfs.Ino(id)
}

// fuseErrno maps a decode Kind to the errno FUSE expects (§7).
func fuseErrno(err error) error {
	switch xfs.ErrKind(err) {
	case xfs.KindNotFound:
		return fuse.ENOENT
	case xfs.KindNotSupported:
		return syscall.ENOTSUP
	case xfs.KindInvalid:
		return syscall.EINVAL
	default:
		return fuse.EIO
	}
}

func fuseMode(a xfs.Attr) os.FileMode {
	mode := os.FileMode(a.Perm)
	switch a.Kind {
	case xfs.KindDirectory:
		mode |= os.ModeDir
	case xfs.KindSymlink:
		mode |= os.ModeSymlink
	case xfs.KindDevice:
		mode |= os.ModeDevice
	case xfs.KindFifo:
		mode |= os.ModeNamedPipe
	case xfs.KindSocket:
		mode |= os.ModeSocket
	}
	return mode
}

func toTime(t xfs.Timespec) time.Time {
	return time.Unix(t.Sec, int64(t.Nsec))
}

func fuseAttributes(a xfs.Attr) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:  uint64(a.Size),
		Nlink: a.Nlink,
		Mode:  fuseMode(a),
		Atime: toTime(a.Atime),
		Mtime: toTime(a.Mtime),
		Ctime: toTime(a.Ctime),
		Uid:   a.Uid,
		Gid:   a.Gid,
	}
}

func direntType(k xfs.FileKind) fuseutil.DirentType {
	switch k {
	case xfs.KindDirectory:
		return fuseutil.DT_Directory
	case xfs.KindSymlink:
		return fuseutil.DT_Link
	case xfs.KindDevice:
		return fuseutil.DT_Block
	case xfs.KindFifo, xfs.KindSocket:
		return fuseutil.DT_File
	default:
		return fuseutil.DT_File
	}
}

func (fs *fuseFS) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	st := fs.xfs.Statfs()
	op.BlockSize = st.Bsize
	op.Blocks = st.Blocks
	op.BlocksFree = st.BlocksFree
	op.BlocksAvailable = st.BlocksFree
	op.Inodes = st.Files
	op.InodesFree = st.FilesFree
	op.IoSize = 65536
	return nil
}

func (fs *fuseFS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	attr, err := fs.xfs.Lookup(fs.toXfsIno(op.Parent), op.Name)
	if err != nil {
		if xfs.IsNotFound(err) {
			return fuse.ENOENT
		}
		fs.log.WithError(err).Warn("lookup failed")
		return fuseErrno(err)
	}
	op.Entry.Child = fs.toFuseIno(attr.Ino)
	op.Entry.Attributes = fuseAttributes(attr)
	op.Entry.Generation = fuseops.GenerationNumber(attr.Generation)
	op.Entry.AttributesExpiration = never
	op.Entry.EntryExpiration = never
	return nil
}

func (fs *fuseFS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	attr, err := fs.xfs.Getattr(fs.toXfsIno(op.Inode))
	if err != nil {
		fs.log.WithError(err).Warn("getattr failed")
		return fuseErrno(err)
	}
	op.Attributes = fuseAttributes(attr)
	op.AttributesExpiration = never
	return nil
}

func (fs *fuseFS) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	// Instruct the kernel to not send OpenDir requests for performance:
	// https://github.com/torvalds/linux/commit/7678ac50615d9c7a491d9861e020e4f5f71b594c
	return fuse.ENOSYS
}

// dirCursorSentinel marks the two synthetic entries ("." and "..") that
// precede the image's own directory entries in every readdir stream. Real
// per-format cursors (§4.5) always encode at least a non-zero in-block byte
// offset, so biasing them by dirCursorSentinel keeps the two spaces
// disjoint.
const dirCursorSentinel = 2

func (fs *fuseFS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	ino := fs.toXfsIno(op.Inode)
	offset := uint64(op.Offset)

	var fis []fuseutil.Dirent
	if offset == 0 {
		fis = append(fis, fuseutil.Dirent{Offset: 1, Inode: op.Inode, Name: ".", Type: fuseutil.DT_Directory})
		offset = 1
	}
	if offset == 1 {
		fis = append(fis, fuseutil.Dirent{Offset: dirCursorSentinel, Inode: op.Inode, Name: "..", Type: fuseutil.DT_Directory})
		offset = dirCursorSentinel
	}

	entries, err := fs.xfs.Readdir(ino, offset-dirCursorSentinel)
	if err != nil {
		fs.log.WithError(err).Warn("readdir failed")
		return fuseErrno(err)
	}
	for _, e := range entries {
		fis = append(fis, fuseutil.Dirent{
			Offset: fuseops.DirOffset(e.Cursor + dirCursorSentinel),
			Inode:  fs.toFuseIno(e.Ino),
			Name:   e.Name,
			Type:   direntType(e.Kind),
		})
	}

	for _, e := range fis {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], e)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (fs *fuseFS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	// Instruct the kernel to not send OpenFile requests for performance:
	// https://github.com/torvalds/linux/commit/7678ac50615d9c7a491d9861e020e4f5f71b594c
	return fuse.ENOSYS
}

func (fs *fuseFS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	n, err := fs.xfs.Read(fs.toXfsIno(op.Inode), op.Offset, op.Dst)
	op.BytesRead = n
	if err != nil {
		fs.log.WithError(err).Warn("read failed")
		return fuseErrno(err)
	}
	return nil
}

func (fs *fuseFS) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	target, err := fs.xfs.Readlink(fs.toXfsIno(op.Inode))
	if err != nil {
		fs.log.WithError(err).Warn("readlink failed")
		return fuseErrno(err)
	}
	op.Target = target
	return nil
}

func (fs *fuseFS) ListXattr(ctx context.Context, op *fuseops.ListXattrOp) error {
	attrs, err := fs.xfs.Listxattr(fs.toXfsIno(op.Inode))
	if err != nil {
		fs.log.WithError(err).Warn("listxattr failed")
		return fuseErrno(err)
	}
	for _, a := range attrs {
		op.BytesRead += len(a.FullName) + 1 // NUL-terminated
	}
	if op.BytesRead > len(op.Dst) {
		if len(op.Dst) == 0 {
			return nil
		}
		return syscall.ERANGE
	}
	copied := 0
	for _, a := range attrs {
		copy(op.Dst[copied:], []byte(a.FullName))
		copied += len(a.FullName) + 1
		op.Dst[copied-1] = 0
	}
	return nil
}

func (fs *fuseFS) GetXattr(ctx context.Context, op *fuseops.GetXattrOp) error {
	val, ok, err := fs.xfs.Getxattr(fs.toXfsIno(op.Inode), op.Name)
	if err != nil {
		fs.log.WithError(err).Warn("getxattr failed")
		return fuseErrno(err)
	}
	if !ok {
		return syscall.ENODATA
	}
	op.BytesRead = len(val)
	if op.BytesRead > len(op.Dst) {
		if len(op.Dst) == 0 {
			return nil
		}
		return syscall.ERANGE
	}
	copy(op.Dst, val)
	return nil
}

func (fs *fuseFS) Destroy() {
	if err := fs.xfs.Close(); err != nil {
		fs.log.WithError(err).Warn("close image")
	}
}
