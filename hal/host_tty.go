//go:build !tinygo

package hal

import (
	"bytes"
	"errors"
	"io"
	"unicode/utf8"

	tty "github.com/mattn/go-tty"
)

const ttyInterrupt = 0x03

// hostTTY is the controlling terminal in raw mode.
type hostTTY struct {
	io      *tty.TTY
	restore func() error
}

func openHostTTY() (*hostTTY, error) {
	t, err := tty.Open()
	if err != nil {
		return nil, err
	}
	restore, err := t.Raw()
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	return &hostTTY{io: t, restore: restore}, nil
}

// Output returns the terminal output with newlines expanded for raw mode.
func (t *hostTTY) Output() io.Writer { return crlfWriter{w: t.io.Output()} }

// pump moves typed runes into s until the terminal closes. Ctrl-C calls
// interrupt instead of being delivered.
func (t *hostTTY) pump(s *hostSerial, interrupt func()) {
	var buf [utf8.UTFMax]byte
	for {
		r, err := t.io.ReadRune()
		if err != nil {
			return
		}
		switch r {
		case ttyInterrupt:
			if interrupt != nil {
				interrupt()
			}
			continue
		case '\r':
			r = '\n'
		}
		n := utf8.EncodeRune(buf[:], r)
		s.Feed(buf[:n])
	}
}

func (t *hostTTY) Close() error {
	return errors.Join(t.restore(), t.io.Close())
}

type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	if _, err := c.w.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}
