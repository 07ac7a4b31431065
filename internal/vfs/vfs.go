// Package vfs implements the contract shared by all virtual filesystem backends.
//
// A backend ([FS]) operates on relative, normalized, '/'-separated paths only,
// with "" denoting its own root. Backends are composed into one hierarchical
// namespace by a mount table, which attaches them with [Attach] and detaches
// them again with [Detach]. Opened files are negotiated per [Capability] and
// returned as a bound [Handle].
package vfs

// FileKind is the kind of a node within a filesystem.
type FileKind uint8

const (
	KindUnknown FileKind = iota
	KindRegular
	KindDirectory
	KindMountPoint
	KindSymlink
	KindSocket
	KindPipe
	KindNotFound
	KindInvalid
)

var kindNames = [...]string{
	KindUnknown:    "unknown",
	KindRegular:    "regular",
	KindDirectory:  "directory",
	KindMountPoint: "mount_point",
	KindSymlink:    "symlink",
	KindSocket:     "socket",
	KindPipe:       "pipe",
	KindNotFound:   "not_found",
	KindInvalid:    "invalid",
}

func (k FileKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}

	return kindNames[KindUnknown]
}

// IsDir returns true for kinds that can hold children.
func (k FileKind) IsDir() bool {
	return k == KindDirectory || k == KindMountPoint
}

// Node is a non-owning reference to a path within its owning [FS].
type Node struct {
	Path string
	FS   FS
}

// State is the result of a state query. A [KindNotFound] state is a valid
// answer and not an error.
type State struct {
	Node Node
	Kind FileKind
	Size int64
}

// Exists returns true if the state describes an existing node.
func (s State) Exists() bool {
	return s.Kind != KindNotFound && s.Kind != KindInvalid
}

// OpenFlag controls whether [FS.Open] opens, creates or does either.
type OpenFlag uint8

const (
	// OpenExisting requires the file to exist.
	OpenExisting OpenFlag = iota

	// CreateNew requires the file to not exist.
	CreateNew

	// CreateOrOpen opens the file, creating it when missing.
	CreateOrOpen
)

// Namespace is what a backend is attached to once mounted.
type Namespace interface {
	State(path string) State
}

// FS is the uniform set of node operations implemented by every backend.
// All paths are relative to the backend's own root; handing an absolute
// path to any of these methods is a programming error and panics.
//
// Implementations embed [Attachment] to track their mount state.
type FS interface {
	Remove(path string) error
	CreateDir(path string) error
	Copy(from, to string) error
	Truncate(path string, size int64) error
	Sync() error
	Children(path string) ([]Node, error)
	State(path string) State
	Open(path string, caps Capability, flag OpenFlag) (*Handle, error)

	Mounted() bool
	Root() Namespace
	MountPoint() string

	attachment() *Attachment
}

// Attachment records where a backend is mounted. Its zero value is detached.
type Attachment struct {
	root       Namespace
	mountPoint string
}

// Mounted returns true while the backend is attached to a namespace.
func (a *Attachment) Mounted() bool {
	return a.root != nil
}

// Root returns the namespace the backend is attached to, or nil.
func (a *Attachment) Root() Namespace {
	return a.root
}

// MountPoint returns the absolute path the backend is mounted at, or "".
func (a *Attachment) MountPoint() string {
	return a.mountPoint
}

func (a *Attachment) attachment() *Attachment {
	return a
}

// Attach marks fsys as mounted at mountPoint of root.
// It is meant to be called by a mount table only.
func Attach(fsys FS, root Namespace, mountPoint string) {
	a := fsys.attachment()
	a.root = root
	a.mountPoint = mountPoint
}

// Detach marks fsys as no longer mounted.
// It is meant to be called by a mount table only.
func Detach(fsys FS) {
	a := fsys.attachment()
	a.root = nil
	a.mountPoint = ""
}

// Absolute returns the path within the namespace that rel of fsys maps to.
// It fails with [ErrFSNotFound] while fsys is detached.
func Absolute(fsys FS, rel string) (string, error) {
	MustRelative(OpResolve, rel)

	if !fsys.Mounted() {
		return "", NewError(OpResolve, rel, ErrFSNotFound)
	}

	return Join(fsys.MountPoint(), rel), nil
}

// RemoveRoot is the shared answer of backends asked to remove their own root.
func RemoveRoot(fsys FS) error {
	if fsys.Mounted() {
		return NewError(OpRemove, "", ErrBusyMounted)
	}

	return NewError(OpRemove, "", ErrInvalid)
}
