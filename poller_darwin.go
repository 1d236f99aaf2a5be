//go:build darwin

package arbor

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// kqueuePoller implements poller using Darwin/BSD kqueue.
type kqueuePoller struct {
	kq       int
	mu       sync.Mutex
	events   map[int]IOEvents
	eventBuf [256]unix.Kevent_t
}

func newPoller() poller {
	return &kqueuePoller{events: make(map[int]IOEvents)}
}

func (p *kqueuePoller) init() error {
	fd, err := unix.Kqueue()
	if err != nil {
		return err
	}
	p.kq = fd
	return nil
}

func (p *kqueuePoller) close() error {
	return unix.Close(p.kq)
}

func (p *kqueuePoller) applyChanges(fd int, old, new IOEvents) error {
	var changes []unix.Kevent_t
	addRead := new&EventRead != 0 && old&EventRead == 0
	delRead := new&EventRead == 0 && old&EventRead != 0
	addWrite := new&EventWrite != 0 && old&EventWrite == 0
	delWrite := new&EventWrite == 0 && old&EventWrite != 0

	appendChange := func(filter int16, flags uint16) {
		changes = append(changes, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: filter,
			Flags:  flags,
		})
	}
	if addRead {
		appendChange(unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE)
	}
	if delRead {
		appendChange(unix.EVFILT_READ, unix.EV_DELETE)
	}
	if addWrite {
		appendChange(unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_ENABLE)
	}
	if delWrite {
		appendChange(unix.EVFILT_WRITE, unix.EV_DELETE)
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

func (p *kqueuePoller) registerFD(fd int, events IOEvents) error {
	p.mu.Lock()
	p.events[fd] = events
	p.mu.Unlock()
	return p.applyChanges(fd, 0, events)
}

func (p *kqueuePoller) modifyFD(fd int, events IOEvents) error {
	p.mu.Lock()
	old := p.events[fd]
	p.events[fd] = events
	p.mu.Unlock()
	return p.applyChanges(fd, old, events)
}

func (p *kqueuePoller) unregisterFD(fd int) error {
	p.mu.Lock()
	old := p.events[fd]
	delete(p.events, fd)
	p.mu.Unlock()
	return p.applyChanges(fd, old, 0)
}

func (p *kqueuePoller) poll(timeoutMs int, dispatch func(fd int, events IOEvents)) error {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		d := time.Duration(timeoutMs) * time.Millisecond
		t := unix.NsecToTimespec(d.Nanoseconds())
		ts = &t
	}
	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	for i := 0; i < n; i++ {
		ev := p.eventBuf[i]
		fd := int(ev.Ident)
		var events IOEvents
		switch ev.Filter {
		case unix.EVFILT_READ:
			events = EventRead
		case unix.EVFILT_WRITE:
			events = EventWrite
		}
		if ev.Flags&unix.EV_EOF != 0 {
			events |= EventHangup
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			events |= EventError
		}
		dispatch(fd, events)
	}
	return nil
}

// createWakePipe returns (readFD, writeFD) for the loop's cross-thread
// wake mechanism using a pipe, since eventfd is Linux-only.
func createWakePipe() (int, int, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return 0, 0, err
	}
	_ = unix.SetNonblock(fds[0], true)
	_ = unix.SetNonblock(fds[1], true)
	return fds[0], fds[1], nil
}

func drainWakePipe(fd int) {
	var buf [64]byte
	for {
		_, err := unix.Read(fd, buf[:])
		if err != nil {
			return
		}
	}
}

func writeWakePipe(fd int) error {
	_, err := unix.Write(fd, []byte{1})
	return err
}
