//go:build !tinygo

// Command mkflash builds a flash image whose disk holds the regular files of
// a host directory.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"taskos/hal"
	"taskos/internal/hostsync"
	"taskos/kernel/fs"
	"taskos/kernel/klog"
)

const (
	defaultFlashPath = "Flash.bin"
	defaultFlashSize = 2 * 1024 * 1024
)

func main() {
	var srcDir string
	var outPath string
	var flashSize uint
	var verbose bool
	flag.StringVar(&srcDir, "src", "", "Source directory to import into the disk.")
	flag.StringVar(&outPath, "out", defaultFlashPath, "Output flash image path.")
	flag.UintVar(&flashSize, "size", defaultFlashSize, "Flash image size (bytes).")
	flag.BoolVar(&verbose, "v", false, "List imported files.")
	flag.Parse()

	if srcDir == "" {
		fmt.Fprintln(os.Stderr, "error: -src is required")
		os.Exit(2)
	}
	if outPath == "" {
		fmt.Fprintln(os.Stderr, "error: -out is required")
		os.Exit(2)
	}

	level := klog.Off
	if verbose {
		level = klog.Debug
	}
	if err := run(srcDir, outPath, uint32(flashSize), level); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(srcDir, outPath string, flashSize uint32, level klog.Level) error {
	if err := os.Remove(outPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove old image %q: %w", outPath, err)
	}
	h, err := hal.New(hal.HostConfig{FlashPath: outPath, FlashSize: flashSize})
	if err != nil {
		return err
	}
	if c, ok := h.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	disk, err := fs.OpenDisk(h.Flash())
	if err != nil {
		return err
	}
	imp, err := hostsync.New(srcDir, disk, klog.New(h.Logger(), level).Plain())
	if err != nil {
		_ = disk.Close()
		return err
	}
	n, err := imp.Sync()
	_ = imp.Close()
	if err != nil {
		_ = disk.Close()
		return err
	}
	if err := disk.Close(); err != nil {
		return err
	}
	fmt.Printf("%s: %d file(s) from %s\n", outPath, n, srcDir)
	return nil
}
