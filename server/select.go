//go:build linux

package server

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// waitSelect implements Server.Wait: a convenience blocking loop for
// callers that would otherwise have to hand-write a select(2) loop
// themselves. It is deliberately kept separate from the engine's
// ReadReady/WriteReady/ProcessEvents, which remain usable with any
// externally supplied readiness source (spec §4.5, §1).
func waitSelect(s *Server, timeout time.Duration) error {
	var readFDs, writeFDs unix.FdSet
	maxFD := -1

	addFD := func(set *unix.FdSet, fd uintptr) {
		set.Bits[fd/64] |= 1 << (uint(fd) % 64)
		if int(fd) > maxFD {
			maxFD = int(fd)
		}
	}

	if lfd, ok := listenerFD(s.listener); ok {
		addFD(&readFDs, lfd)
	}

	byFD := make(map[uintptr]*Connection)
	for c := range s.conns {
		rs, ok := c.sock.(rawSocket)
		if !ok {
			continue
		}
		fd, ok := rs.rawFD()
		if !ok {
			continue
		}
		byFD[fd] = c
		addFD(&readFDs, fd)
		if c.hasDataToSend() {
			addFD(&writeFDs, fd)
		}
	}

	if maxFD < 0 {
		time.Sleep(timeout)
		s.Sweep()
		return nil
	}

	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	n, err := unix.Select(maxFD+1, &readFDs, &writeFDs, nil, &tv)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	if n == 0 {
		s.Sweep()
		return nil
	}

	readable := make(map[*Connection]bool)
	writable := make(map[*Connection]bool)
	for fd, c := range byFD {
		if fdIsSet(&readFDs, fd) {
			readable[c] = true
		}
		if fdIsSet(&writeFDs, fd) {
			writable[c] = true
		}
	}
	s.ProcessEvents(readable, writable)
	return nil
}

func fdIsSet(set *unix.FdSet, fd uintptr) bool {
	return set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}

func listenerFD(ln net.Listener) (uintptr, bool) {
	tl, ok := ln.(*net.TCPListener)
	if !ok {
		return 0, false
	}
	sc, err := tl.SyscallConn()
	if err != nil {
		return 0, false
	}
	var fd uintptr
	if err := sc.Control(func(f uintptr) { fd = f }); err != nil {
		return 0, false
	}
	return fd, true
}
