package fs

// MaxFds bounds a task's descriptor table.
const MaxFds = 64

// Descriptor is an open file shared by every table slot that refers to it.
type Descriptor struct {
	file File
	refs int
}

// File returns the open file.
func (d *Descriptor) File() File { return d.file }

// Refs returns the number of slots referring to d.
func (d *Descriptor) Refs() int { return d.refs }

func (d *Descriptor) put() error {
	d.refs--
	if d.refs > 0 {
		return nil
	}
	return d.file.Close()
}

// FdTable maps small integers to descriptors.
type FdTable struct {
	fds []*Descriptor
}

// NewFdTable returns a table with the three standard streams installed.
func NewFdTable(stdin, stdout, stderr File) *FdTable {
	t := &FdTable{}
	t.Alloc(stdin)
	t.Alloc(stdout)
	t.Alloc(stderr)
	return t
}

func (t *FdTable) install(d *Descriptor) (int, error) {
	for fd, slot := range t.fds {
		if slot == nil {
			t.fds[fd] = d
			return fd, nil
		}
	}
	if len(t.fds) >= MaxFds {
		return -1, ErrTooManyOpen
	}
	t.fds = append(t.fds, d)
	return len(t.fds) - 1, nil
}

// Alloc installs f in the lowest free slot.
func (t *FdTable) Alloc(f File) int {
	fd, err := t.install(&Descriptor{file: f, refs: 1})
	if err != nil {
		_ = f.Close()
		return -1
	}
	return fd
}

func (t *FdTable) slot(fd int) (*Descriptor, error) {
	if fd < 0 || fd >= len(t.fds) || t.fds[fd] == nil {
		return nil, ErrBadFd
	}
	return t.fds[fd], nil
}

// Get returns the file open at fd.
func (t *FdTable) Get(fd int) (File, error) {
	d, err := t.slot(fd)
	if err != nil {
		return nil, err
	}
	return d.file, nil
}

// Descriptor returns the shared descriptor at fd.
func (t *FdTable) Descriptor(fd int) (*Descriptor, error) { return t.slot(fd) }

// Close frees fd. The file is closed when no slot refers to it any more.
func (t *FdTable) Close(fd int) error {
	d, err := t.slot(fd)
	if err != nil {
		return err
	}
	t.fds[fd] = nil
	return d.put()
}

// Dup installs another reference to fd's descriptor in the lowest free slot.
func (t *FdTable) Dup(fd int) (int, error) {
	d, err := t.slot(fd)
	if err != nil {
		return -1, err
	}
	nfd, err := t.install(d)
	if err != nil {
		return -1, err
	}
	d.refs++
	return nfd, nil
}

// Clone returns a table sharing every descriptor of t (fork).
func (t *FdTable) Clone() *FdTable {
	c := &FdTable{fds: make([]*Descriptor, len(t.fds))}
	for fd, d := range t.fds {
		if d != nil {
			d.refs++
			c.fds[fd] = d
		}
	}
	return c
}

// CloseAll closes every slot and returns the first close error.
func (t *FdTable) CloseAll() error {
	var first error
	for fd := range t.fds {
		if t.fds[fd] == nil {
			continue
		}
		if err := t.Close(fd); err != nil && first == nil {
			first = err
		}
	}
	t.fds = nil
	return first
}

// Open returns the number of occupied slots.
func (t *FdTable) Open() int {
	n := 0
	for _, d := range t.fds {
		if d != nil {
			n++
		}
	}
	return n
}
