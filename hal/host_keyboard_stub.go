//go:build !tinygo && !cgo

package hal

type hostKeyboard struct {
	ch chan KeyEvent
}

func newHostKeyboard() *hostKeyboard {
	return &hostKeyboard{ch: make(chan KeyEvent, 64)}
}

func (k *hostKeyboard) Events() <-chan KeyEvent { return k.ch }

// No keyboard without the window backend.
func (k *hostKeyboard) poll()                  {}
func (k *hostKeyboard) drainTo(s *hostSerial) {}
