package xfs

// Scalar types named per §3: all disk integers are big-endian unless noted.
type (
	// Ino is an absolute inode number.
	Ino uint64
	// Fsblock is a filesystem-relative (physical) block number.
	Fsblock uint64
	// Dablock is a block number within a directory's or attribute fork's
	// own 32-bit logical ("directory address") space.
	Dablock uint32
	// Dahash is the 32-bit unsigned hash of a directory or attribute name.
	Dahash uint32
)

// Kind of filesystem entity, derived from inode mode bits (§4.9).
type FileKind int

const (
	KindRegular FileKind = iota
	KindDirectory
	KindSymlink
	KindDevice
	KindFifo
	KindSocket
)

const (
	modeFmt    = 0170000
	modeDir    = 0040000
	modeReg    = 0100000
	modeLink   = 0120000
	modeBlk    = 0060000
	modeChr    = 0020000
	modeFifo   = 0010000
	modeSocket = 0140000
)

func fileKindFromMode(mode uint16) FileKind {
	switch mode & modeFmt {
	case modeDir:
		return KindDirectory
	case modeLink:
		return KindSymlink
	case modeBlk, modeChr:
		return KindDevice
	case modeFifo:
		return KindFifo
	case modeSocket:
		return KindSocket
	default:
		return KindRegular
	}
}

// Attr is the attribute set the facade returns for getattr/lookup (§4.9).
type Attr struct {
	Ino        Ino
	Size       int64
	Blocks     uint64
	Atime      Timespec
	Mtime      Timespec
	Ctime      Timespec
	Birthtime  Timespec
	Kind       FileKind
	Perm       uint16
	Nlink      uint32
	Uid        uint32
	Gid        uint32
	Rdev       uint32
	Flags      uint32
	Generation uint32
}

// Timespec avoids a hard dependency on any particular time package at the
// decode layer; the mount-host converts to time.Time at the boundary.
type Timespec struct {
	Sec  int64
	Nsec int32
}

// Dirent is one directory entry as returned by readdir (§4.9).
type Dirent struct {
	Ino    Ino
	Cursor uint64
	Kind   FileKind
	Name   string
}

// Xattr is one decoded extended attribute (§4.6).
type Xattr struct {
	FullName string // namespace prefix + raw name, e.g. "user.foo"
	Value    []byte
}
