// Package apps holds the programs built into the kernel image.
package apps

import (
	"taskos/kernel/abi"
	"taskos/kernel/loader"
	"taskos/kernel/mm"
	"taskos/user"
)

// DefaultInit is the init command line when none is configured.
var DefaultInit = []string{
	"initproc",
	"hello_world",
	"taskinfo",
	"yield_test",
	"sleep_test",
	"forktest",
	"exec_test",
	"eventfd_test",
	"mail_test",
	"pipe_test",
	"mmap_test",
	"file_test",
}

func image(name string, fn func(e *user.Env) int) *loader.Image {
	return &loader.Image{
		Name: name,
		ABI:  abi.ABIVersion,
		Segments: []mm.Segment{
			{Data: []byte(name), Perm: mm.PermR | mm.PermX},
			{MemSize: mm.PageSize, Perm: mm.PermR | mm.PermW},
		},
		Entry: user.Main(fn),
	}
}

// Table returns a loader table holding every built-in program.
func Table() *loader.Table {
	return loader.NewDefaultTable().MustRegister(
		image("initproc", initproc),
		image("hello_world", helloWorld),
		image("echo", echo),
		image("taskinfo", taskInfo),
		image("yield_test", yieldTest),
		image("sleep_test", sleepTest),
		image("forktest", forkTest),
		image("exec_test", execTest),
		image("eventfd_test", eventfdTest),
		image("mail_test", mailTest),
		image("pipe_test", pipeTest),
		image("mmap_test", mmapTest),
		image("file_test", fileTest),
		image("readline", readline),
	)
}

// initproc runs each program named in its arguments to completion, one at a
// time, then reaps whatever orphans are left. Its exit code is the number of
// programs that failed.
func initproc(e *user.Env) int {
	failed := 0
	for _, name := range e.Args()[1:] {
		pid := e.Fork(func(c *user.Env) int {
			ret := c.Exec(name)
			c.Printf("[initproc] exec %s: %v\n", name, abi.Errno(ret))
			return -1
		})
		if pid < 0 {
			e.Printf("[initproc] fork: %v\n", abi.Errno(pid))
			failed++
			continue
		}
		_, code := e.Wait(pid)
		if code != 0 {
			failed++
		}
		e.Printf("[initproc] %s exited with code %d\n", name, code)
	}
	for {
		pid, code := e.TryWait(-1)
		switch pid {
		case abi.ENOENT.Ret():
			return failed
		case abi.EAGAIN.Ret():
			e.Yield()
		default:
			e.Printf("[initproc] released a zombie process, pid=%d, exit_code=%d\n", pid, code)
		}
	}
}

func helloWorld(e *user.Env) int {
	e.Println("Hello, world!")
	return 0
}

func echo(e *user.Env) int {
	for i, a := range e.Args()[1:] {
		if i > 0 {
			e.Print(" ")
		}
		e.Print(a)
	}
	e.Print("\n")
	return 0
}

func taskInfo(e *user.Env) int {
	ti, ret := e.TaskInfo()
	e.Assert(ret == 0, "get_task_info = %d", ret)
	e.Assert(int(ti.Pid) == e.Getpid(), "pid %d != getpid %d", ti.Pid, e.Getpid())
	e.Printf("task %d %q status=%d user=%dus kernel=%dus\n",
		ti.Pid, ti.NameString(), ti.Status, ti.UserTimeUs, ti.KernelTimeUs)
	return 0
}

// readline echoes one line of console input.
func readline(e *user.Env) int {
	var line []byte
	var c [1]byte
	for {
		if n := e.Read(abi.FdStdin, c[:]); n <= 0 {
			break
		}
		if c[0] == '\n' {
			break
		}
		line = append(line, c[0])
	}
	e.Printf("%s\n", line)
	return 0
}
