//go:build linux

package client

import (
	"time"

	"golang.org/x/sys/unix"
)

// waitSelect implements Connection.Wait using select(2) over the single
// connection socket, mirroring the blocking convenience helper the
// teacher's own select-based tools provide alongside the caller-driven
// ProcessEvents path (spec §4.7, see DESIGN.md).
func waitSelect(c *Connection, timeout time.Duration) (*Response, error) {
	deadline := c.cfg.Clock.Now().Add(timeout)
	for {
		remaining := deadline.Sub(c.cfg.Clock.Now())
		if remaining <= 0 {
			return nil, nil
		}

		fd, ok := rawFD(c.sock)
		if !ok {
			return nil, ErrConnectionLost
		}

		var readFDs, writeFDs unix.FdSet
		readFDs.Bits[fd/64] |= 1 << (uint(fd) % 64)
		wantWrite := c.state == StateSending
		if wantWrite {
			writeFDs.Bits[fd/64] |= 1 << (uint(fd) % 64)
		}

		tv := unix.NsecToTimeval(remaining.Nanoseconds())
		n, err := unix.Select(int(fd)+1, &readFDs, &writeFDs, nil, &tv)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}

		readable := readFDs.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
		writable := wantWrite && writeFDs.Bits[fd/64]&(1<<(uint(fd)%64)) != 0

		resp, err := c.ProcessEvents(readable, writable)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, nil
		}
	}
}

func rawFD(s Socket) (uintptr, bool) {
	if s == nil {
		return 0, false
	}
	rs, ok := s.(rawSocket)
	if !ok {
		return 0, false
	}
	return rs.rawFD()
}
