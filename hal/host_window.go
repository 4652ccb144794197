//go:build !tinygo && cgo

package hal

import (
	"context"
	"errors"
	"image"

	"github.com/hajimehoshi/ebiten/v2"
	"golang.org/x/sync/errgroup"

	"taskos/internal/buildinfo"
)

// RunWindow starts a desktop window that shows the framebuffer and types into
// the serial console. It blocks until the window closes or the OS shuts down.
func RunWindow(ctx context.Context, hc HostConfig, newMachine func(HAL) (Machine, error)) error {
	h, err := newHost(hc)
	if err != nil {
		return err
	}
	defer h.Close()
	m, err := newMachine(h)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	var runErr error
	g.Go(func() error {
		runErr = m.Run(ctx)
		return nil
	})

	game := &hostGame{h: h, m: m, ctx: ctx}
	ebiten.SetWindowTitle("taskos (" + buildinfo.Short() + ")")
	ebiten.SetWindowSize(h.fb.width*2, h.fb.height*2)
	ebiten.SetTPS(60)
	gameErr := ebiten.RunGame(game)
	if errors.Is(gameErr, ebiten.Termination) {
		gameErr = nil
	}
	cancel()
	_ = g.Wait()
	return errors.Join(gameErr, runResult(h, runErr))
}

type hostGame struct {
	h       *hostHAL
	m       Machine
	ctx     context.Context
	img     *image.RGBA
	fbImg   *ebiten.Image
	scratch []byte
}

func (g *hostGame) Update() error {
	select {
	case <-g.ctx.Done():
		return ebiten.Termination
	case <-g.h.platform.done:
		return ebiten.Termination
	default:
	}
	g.h.kbd.poll()
	g.h.kbd.drainTo(g.h.serial)
	return g.m.Step()
}

func (g *hostGame) Draw(screen *ebiten.Image) {
	fb := g.h.fb
	if g.img == nil {
		g.img = image.NewRGBA(image.Rect(0, 0, fb.width, fb.height))
		g.scratch = make([]byte, len(fb.front))
		g.fbImg = ebiten.NewImage(fb.width, fb.height)
	}

	fb.snapshotRGB565(g.scratch)

	src := g.scratch
	dst := g.img.Pix
	for i := 0; i+1 < len(src) && i/2*4+3 < len(dst); i += 2 {
		r, gg, b := rgb888From565(uint16(src[i]) | uint16(src[i+1])<<8)
		j := (i / 2) * 4
		dst[j+0] = r
		dst[j+1] = gg
		dst[j+2] = b
		dst[j+3] = 0xFF
	}

	g.fbImg.WritePixels(g.img.Pix)
	screen.DrawImage(g.fbImg, nil)
}

func (g *hostGame) Layout(outsideWidth, outsideHeight int) (int, int) {
	return g.h.fb.width, g.h.fb.height
}
