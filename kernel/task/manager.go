package task

import (
	"fmt"
	"slices"

	"taskos/kernel/abi"
	"taskos/kernel/fs"
	"taskos/kernel/ksync"
	"taskos/kernel/loader"
)

var (
	ErrNoChild      = fmt.Errorf("task: no such child: %w", abi.ENOENT)
	ErrChildRunning = fmt.Errorf("task: child has not exited: %w", abi.EAGAIN)
)

type managerState struct {
	ready []*TCB
	tasks map[int]*TCB
	init  *TCB
}

// Manager owns the ready queue and the registry of live and zombie tasks.
type Manager struct {
	mach  *Machine
	state *ksync.UPCell[managerState]
}

// NewManager returns an empty manager building tasks on mach.
func NewManager(mach *Machine) *Manager {
	return &Manager{
		mach:  mach,
		state: ksync.NewUPCell("task manager", managerState{tasks: make(map[int]*TCB)}),
	}
}

func (m *Manager) Machine() *Machine { return m.mach }

// Add appends t to the ready queue.
func (m *Manager) Add(t *TCB) {
	m.state.With(func(st *managerState) { st.ready = append(st.ready, t) })
}

// FindNextTask removes and returns the first Ready task in the queue. A task
// that yields is re-appended, so this is a circular scan that starts just
// after the task that ran last.
func (m *Manager) FindNextTask() (*TCB, bool) {
	var next *TCB
	m.state.With(func(st *managerState) {
		for len(st.ready) > 0 {
			t := st.ready[0]
			st.ready[0] = nil
			st.ready = st.ready[1:]
			if t.Status() == Ready {
				next = t
				return
			}
		}
	})
	return next, next != nil
}

// ReadyLen returns the length of the ready queue.
func (m *Manager) ReadyLen() int {
	n := 0
	m.state.With(func(st *managerState) { n = len(st.ready) })
	return n
}

// Lookup resolves a pid to a registered task.
func (m *Manager) Lookup(pid int) (*TCB, bool) {
	var t *TCB
	m.state.With(func(st *managerState) { t = st.tasks[pid] })
	return t, t != nil
}

// Init returns the task orphans are given to.
func (m *Manager) Init() *TCB {
	var t *TCB
	m.state.With(func(st *managerState) { t = st.init })
	return t
}

// Tasks returns every registered task ordered by pid.
func (m *Manager) Tasks() []*TCB {
	var all []*TCB
	m.state.With(func(st *managerState) {
		for _, t := range st.tasks {
			all = append(all, t)
		}
	})
	slices.SortFunc(all, func(a, b *TCB) int { return a.pid - b.pid })
	return all
}

// Alive counts registered tasks that have not exited.
func (m *Manager) Alive() int {
	n := 0
	for _, t := range m.Tasks() {
		if t.Status() != Zombie {
			n++
		}
	}
	return n
}

func (m *Manager) register(t *TCB) {
	m.state.With(func(st *managerState) {
		st.tasks[t.pid] = t
		if st.init == nil {
			st.init = t
		}
	})
}

func (m *Manager) unregister(t *TCB) {
	m.state.With(func(st *managerState) { delete(st.tasks, t.pid) })
}

// Spawn loads img as a new parentless task and queues it. The first task
// spawned becomes init.
func (m *Manager) Spawn(img *loader.Image, args []string) (*TCB, error) {
	t, err := NewTCB(m.mach, img, args)
	if err != nil {
		return nil, err
	}
	m.register(t)
	m.Add(t)
	return t, nil
}

// Fork duplicates parent and queues the child.
func (m *Manager) Fork(parent *TCB) (*TCB, error) {
	child, err := parent.Fork(m.mach)
	if err != nil {
		return nil, err
	}
	m.register(child)
	m.Add(child)
	return child, nil
}

// Exec replaces t's program with img.
func (m *Manager) Exec(t *TCB, img *loader.Image, args []string) error {
	return t.Exec(m.mach, img, args)
}

// Reap collects an exited child of parent. pid -1 matches any child. It
// returns the child's pid and exit code; ErrNoChild if no child matches and
// ErrChildRunning if none of the matches has exited.
func (m *Manager) Reap(parent *TCB, pid int) (int, int, error) {
	var zombie *TCB
	var err error
	parent.With(func(in *TaskInner) {
		found := false
		for i, c := range in.Children {
			if pid != -1 && c.pid != pid {
				continue
			}
			found = true
			if c.Status() == Zombie {
				zombie = c
				in.Children = slices.Delete(in.Children, i, i+1)
				return
			}
		}
		if !found {
			err = ErrNoChild
		} else {
			err = ErrChildRunning
		}
	})
	if zombie == nil {
		return -1, 0, err
	}
	code := zombie.ExitCode()
	m.unregister(zombie)
	zombie.release(m.mach)
	return zombie.pid, code, nil
}

// retire turns t into a zombie: exit code set, descriptors closed, user
// pages released, children handed to init.
func (m *Manager) retire(t *TCB, code int) {
	initTask := m.Init()
	var children []*TCB
	var fds *fs.FdTable
	t.With(func(in *TaskInner) {
		in.ExitCode = code
		in.Space.RecycleDataPages()
		fds = in.Fds
		in.Fds = nil
		children = in.Children
		in.Children = nil
		in.Status = Zombie
	})
	if fds != nil {
		_ = fds.CloseAll()
	}
	if initTask == nil || initTask == t || len(children) == 0 {
		return
	}
	for _, c := range children {
		c.With(func(in *TaskInner) { in.Parent = initTask.pid })
	}
	initTask.With(func(in *TaskInner) { in.Children = append(in.Children, children...) })
}
