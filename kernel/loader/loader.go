// Package loader provides program images to the kernel.
package loader

import (
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"taskos/kernel/abi"
	"taskos/kernel/arch"
	"taskos/kernel/mm"
)

var (
	ErrDuplicate   = errors.New("loader: duplicate application name")
	ErrNoEntry     = errors.New("loader: application has no entry point")
	ErrIncompatABI = errors.New("loader: application ABI not supported by kernel")
)

// Image is a loadable program: its memory segments and its user-mode entry.
type Image struct {
	Name string
	// ABI is the syscall contract version the program was built against.
	ABI      string
	Segments []mm.Segment
	Entry    arch.Program
}

// Loader is the kernel's view of the application table.
type Loader interface {
	AppData(name string) (*Image, bool)
	NumApp() int
	Names() []string
}

// Table is an in-memory application table. Images are admitted only if
// their ABI is compatible with the kernel's.
type Table struct {
	gate   *semver.Constraints
	images []*Image
	byName map[string]*Image
}

// NewTable returns an empty table for a kernel implementing kernelABI.
// Images must share its major version and not be newer than it.
func NewTable(kernelABI string) (*Table, error) {
	v, err := semver.NewVersion(kernelABI)
	if err != nil {
		return nil, fmt.Errorf("loader: kernel ABI %q: %w", kernelABI, err)
	}
	gate, err := semver.NewConstraint(fmt.Sprintf("^%d.0.0, <= %s", v.Major(), v.String()))
	if err != nil {
		return nil, err
	}
	return &Table{gate: gate, byName: make(map[string]*Image)}, nil
}

// NewDefaultTable returns a table gated on abi.ABIVersion.
func NewDefaultTable() *Table {
	t, err := NewTable(abi.ABIVersion)
	if err != nil {
		panic(err)
	}
	return t
}

// Register admits img.
func (t *Table) Register(img *Image) error {
	if img.Entry == nil {
		return fmt.Errorf("%w: %s", ErrNoEntry, img.Name)
	}
	if _, ok := t.byName[img.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, img.Name)
	}
	v, err := semver.NewVersion(img.ABI)
	if err != nil {
		return fmt.Errorf("loader: %s: ABI %q: %w", img.Name, img.ABI, err)
	}
	if ok, reasons := t.gate.Validate(v); !ok {
		return fmt.Errorf("%w: %s wants %s: %v", ErrIncompatABI, img.Name, img.ABI, errors.Join(reasons...))
	}
	t.images = append(t.images, img)
	t.byName[img.Name] = img
	return nil
}

// MustRegister is Register for the built-in table; it panics on error.
func (t *Table) MustRegister(imgs ...*Image) *Table {
	for _, img := range imgs {
		if err := t.Register(img); err != nil {
			panic(err)
		}
	}
	return t
}

func (t *Table) AppData(name string) (*Image, bool) {
	img, ok := t.byName[name]
	return img, ok
}

func (t *Table) NumApp() int { return len(t.images) }

// Names lists the applications in registration order.
func (t *Table) Names() []string {
	names := make([]string, len(t.images))
	for i, img := range t.images {
		names[i] = img.Name
	}
	return names
}

// InitAppContext is the trap context img starts from.
func InitAppContext(img *Image, userSP, kernelSatp, kernelSP uint64) arch.TrapContext {
	return arch.AppInitContext(img.Entry, userSP, kernelSatp, kernelSP)
}
