package hal

import "unicode/utf8"

// KeyCode is a minimal key identifier.
type KeyCode uint16

const (
	KeyUnknown KeyCode = iota
	KeyUp
	KeyDown
	KeyLeft
	KeyRight
	KeyEnter
	KeyEscape
	KeyBackspace
	KeyTab
	KeyDelete
	KeyHome
	KeyEnd
)

// KeyEvent is a key press. Text input carries Rune with KeyUnknown.
type KeyEvent struct {
	Code KeyCode
	Rune rune
}

// Bytes returns what a VT100 terminal sends for the key.
func (e KeyEvent) Bytes() []byte {
	switch e.Code {
	case KeyUp:
		return []byte("\x1b[A")
	case KeyDown:
		return []byte("\x1b[B")
	case KeyRight:
		return []byte("\x1b[C")
	case KeyLeft:
		return []byte("\x1b[D")
	case KeyHome:
		return []byte("\x1b[H")
	case KeyEnd:
		return []byte("\x1b[F")
	case KeyDelete:
		return []byte("\x1b[3~")
	case KeyEnter:
		return []byte{'\n'}
	case KeyEscape:
		return []byte{0x1b}
	case KeyBackspace:
		return []byte{0x7f}
	case KeyTab:
		return []byte{'\t'}
	}
	if e.Rune == 0 {
		return nil
	}
	return utf8.AppendRune(nil, e.Rune)
}
