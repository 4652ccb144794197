package apps

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"taskos/kernel/abi"
	"taskos/user"
)

func yieldTest(e *user.Env) int {
	var pids []int
	for _, name := range []string{"A", "B", "C"} {
		pid := e.Fork(func(c *user.Env) int {
			for i := 0; i < 3; i++ {
				c.Printf("yield %s: step %d\n", name, i)
				c.Yield()
			}
			return 0
		})
		e.Assert(pid > 0, "fork = %d", pid)
		pids = append(pids, pid)
	}
	for _, pid := range pids {
		got, code := e.Wait(pid)
		e.Assert(got == pid && code == 0, "wait %d = %d, %d", pid, got, code)
	}
	e.Println("yield_test passed")
	return 0
}

func sleepTest(e *user.Env) int {
	start, _ := e.Time()
	e.Assert(e.Sleep(100) == 0, "sleep failed")
	end, tv := e.Time()
	e.Assert(end-start >= 100, "slept %dms, want at least 100", end-start)
	e.Assert(tv.Sec*1000+tv.Usec/1000 == uint64(end), "timeval %+v disagrees with %dms", tv, end)
	e.Println("sleep_test passed")
	return 0
}

const forkCount = 8

func forkTest(e *user.Env) int {
	for i := 0; i < forkCount; i++ {
		pid := e.Fork(func(c *user.Env) int {
			c.Printf("I am child %d\n", i)
			c.Exit(100 + i)
			return 0
		})
		e.Assert(pid > 0, "fork = %d", pid)
	}
	seen := make(map[int]bool)
	for i := 0; i < forkCount; i++ {
		pid, code := e.Wait(-1)
		e.Assert(pid > 0, "wait = %d", pid)
		e.Assert(code >= 100 && code < 100+forkCount && !seen[code], "unexpected exit code %d", code)
		seen[code] = true
	}
	pid, _ := e.TryWait(-1)
	e.Assert(pid == abi.ENOENT.Ret(), "wait with no children = %d", pid)
	e.Println("forktest passed")
	return 0
}

func execTest(e *user.Env) int {
	pid := e.Fork(func(c *user.Env) int {
		c.Exec("echo", "echo", "exec", "works")
		return -1
	})
	_, code := e.Wait(pid)
	e.Assert(code == 0, "echo exited with %d", code)
	e.Assert(e.Exec("no_such_program") == abi.ENOENT.Ret(), "exec of a missing program did not fail")
	e.Println("exec_test passed")
	return 0
}

func eventfdTest(e *user.Env) int {
	flags := []uint32{0, abi.EfdNonblock, abi.EfdSemaphore, abi.EfdNonblock | abi.EfdSemaphore}
	var fd [4]int
	for i, f := range flags {
		fd[i] = e.EventFd(0, f)
		e.Assert(fd[i] >= 0, "eventfd = %d", fd[i])
	}
	e.Println("fd allocated")

	var buf [8]byte
	e.Assert(e.Read(fd[1], buf[:]) == abi.EAGAIN.Ret(), "non-blocking read did not fail")
	e.Assert(e.Read(fd[3], buf[:]) == abi.EAGAIN.Ret(), "non-blocking semaphore read did not fail")
	e.Println("failed read completed")

	var input [8]byte
	binary.NativeEndian.PutUint64(input[:], 1919810)
	e.Write(fd[1], input[:])
	e.Write(fd[3], input[:])
	e.Assert(e.Read(fd[1], buf[:]) == 0, "counting read")
	e.Assert(binary.NativeEndian.Uint64(buf[:]) == 1919810, "counter = %d", binary.NativeEndian.Uint64(buf[:]))
	e.Assert(e.Read(fd[3], buf[:]) == 1, "semaphore read")
	e.Println("successful read completed")

	pid := e.Fork(func(c *user.Env) int {
		c.Sleep(500)
		c.Println("child wakes up")
		c.Println("child writes fd 0 & 2")
		c.Write(fd[0], input[:])
		c.Write(fd[2], input[:])
		return 0
	})

	e.Println("parent tries to read from fd 0 & 2 with blocking")
	e.Assert(e.Read(fd[0], buf[:]) == 0, "blocking counting read")
	e.Assert(binary.NativeEndian.Uint64(buf[:]) == 1919810, "counter = %d", binary.NativeEndian.Uint64(buf[:]))
	e.Assert(e.Read(fd[2], buf[:]) == 1, "blocking semaphore read")
	e.Println("parent read from fd 0 & 2 successfully")

	_, code := e.Wait(pid)
	e.Printf("parent: child exited with code %d\n", code)
	for _, f := range fd {
		e.Close(f)
	}
	return 0
}

func mailTest(e *user.Env) int {
	self := e.Getpid()
	var buf [abi.PostMaxLen]byte
	e.Assert(e.MailRead(nil) == abi.EFAIL.Ret(), "zero-length read of empty mailbox")
	e.Assert(e.MailRead(buf[:]) == abi.EFAIL.Ret(), "read of empty mailbox")
	for i := 0; i < abi.MailCapacity; i++ {
		msg := fmt.Sprintf("post %d", i)
		e.Assert(e.MailWrite(self, []byte(msg)) == len(msg), "post %d rejected", i)
	}
	e.Assert(e.MailWrite(self, nil) == abi.EFAIL.Ret(), "zero-length write to full mailbox")
	e.Assert(e.MailWrite(self, []byte("overflow")) == abi.EFAIL.Ret(), "full mailbox accepted a post")
	for i := 0; i < abi.MailCapacity; i++ {
		n := e.MailRead(buf[:])
		want := fmt.Sprintf("post %d", i)
		e.Assert(string(buf[:max(n, 0)]) == want, "fetch %d = %q, want %q", i, buf[:max(n, 0)], want)
	}

	long := bytes.Repeat([]byte{'x'}, abi.PostMaxLen+44)
	pid := e.Fork(func(c *user.Env) int {
		var in [abi.PostMaxLen]byte
		for c.MailRead(nil) != 0 {
			c.Yield()
		}
		n := c.MailRead(in[:])
		if n != abi.PostMaxLen {
			return 1
		}
		return 0
	})
	e.Assert(e.MailWrite(pid, long) == abi.PostMaxLen, "long post not truncated")
	_, code := e.Wait(pid)
	e.Assert(code == 0, "child exited with %d", code)
	e.Assert(e.MailWrite(pid, []byte("gone")) == abi.ENOENT.Ret(), "post to a reaped task")
	e.Println("mail_test passed")
	return 0
}

func pipeTest(e *user.Env) int {
	r, w, ret := e.Pipe()
	e.Assert(ret == 0, "pipe = %d", ret)
	msg := strings.Repeat("Hello, pipe! ", 8)
	pid := e.Fork(func(c *user.Env) int {
		c.Close(r)
		n := c.Write(w, []byte(msg))
		c.Close(w)
		if n != len(msg) {
			return 1
		}
		return 0
	})
	e.Close(w)
	var got []byte
	buf := make([]byte, 24)
	for {
		n := e.Read(r, buf)
		e.Assert(n >= 0, "read = %d", n)
		if n == 0 {
			break
		}
		got = append(got, buf[:n]...)
	}
	e.Close(r)
	e.Assert(string(got) == msg, "read %q, want %q", got, msg)
	_, code := e.Wait(pid)
	e.Assert(code == 0, "writer exited with %d", code)
	e.Println("pipe_test passed")
	return 0
}

const mmapBase = 0x1000_0000

func mmapTest(e *user.Env) int {
	e.Assert(e.Mmap(mmapBase+1, 4096, abi.ProtRead|abi.ProtWrite) < 0, "misaligned mmap accepted")
	e.Assert(e.Mmap(mmapBase, 4096, 0) < 0, "mmap without permission accepted")
	e.Assert(e.Mmap(mmapBase, 8192, abi.ProtRead|abi.ProtWrite) == 0, "mmap failed")
	e.Assert(e.Mmap(mmapBase+4096, 4096, abi.ProtRead) < 0, "overlapping mmap accepted")

	h := e.Hart()
	h.Store(mmapBase+8190, []byte{0xAB, 0xCD})
	var b [2]byte
	h.Load(mmapBase+8190, b[:])
	e.Assert(b == [2]byte{0xAB, 0xCD}, "read back %x", b)

	e.Assert(e.Munmap(mmapBase, 8192) == 0, "munmap failed")
	e.Assert(e.Munmap(mmapBase, 4096) < 0, "second munmap accepted")

	pid := e.Fork(func(c *user.Env) int {
		c.Hart().Store(mmapBase, []byte{1})
		return 0
	})
	_, code := e.Wait(pid)
	e.Assert(code == -2, "store to unmapped page exited with %d, want -2", code)
	e.Println("mmap_test passed")
	return 0
}

func fileTest(e *user.Env) int {
	fd := e.Open("file_test.txt", abi.OCreate|abi.OTrunc|abi.OWrOnly)
	if fd == abi.ENOENT.Ret() {
		e.Println("file_test skipped: no disk")
		return 0
	}
	e.Assert(fd >= 0, "open for write = %d", fd)
	msg := []byte("Hello, flash!")
	e.Assert(e.Write(fd, msg) == len(msg), "short write")
	e.Assert(e.Read(fd, make([]byte, 4)) == abi.EBADF.Ret(), "read from a write-only file")
	e.Close(fd)

	fd = e.Open("file_test.txt", abi.ORdOnly)
	e.Assert(fd >= 0, "open for read = %d", fd)
	dup := e.Dup(fd)
	e.Assert(dup >= 0 && dup != fd, "dup = %d", dup)
	e.Close(fd)
	buf := make([]byte, 64)
	n := e.Read(dup, buf)
	e.Assert(string(buf[:max(n, 0)]) == string(msg), "read back %q", buf[:max(n, 0)])
	e.Close(dup)
	e.Assert(e.Close(dup) == abi.EBADF.Ret(), "double close")
	e.Assert(e.Open("missing.txt", abi.ORdOnly) == abi.ENOENT.Ret(), "open of a missing file")
	e.Println("file_test passed")
	return 0
}
