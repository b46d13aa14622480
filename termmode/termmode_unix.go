//go:build linux || freebsd
// +build linux freebsd

// Package termmode switches the local terminal into and out of raw mode
// for OpenShell, and reports its size for the initial and SIGWINCH-driven
// "window-change" channel requests.
package termmode

import (
	"golang.org/x/sys/unix"
)

// State is a terminal's termios settings, saved by MakeRaw for Restore.
type State struct {
	termios unix.Termios
}

// MakeRaw puts the terminal connected to fd into raw mode (no echo, no
// line buffering, no signal generation) and returns the previous state.
func MakeRaw(fd int) (*State, error) {
	termios, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return nil, err
	}
	oldState := State{termios: *termios}

	raw := *termios
	raw.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	raw.Oflag &^= unix.OPOST
	raw.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	raw.Cflag &^= unix.CSIZE | unix.PARENB
	raw.Cflag |= unix.CS8
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, &raw); err != nil {
		return nil, err
	}
	return &oldState, nil
}

// Restore restores the terminal connected to fd to a previously saved state.
func Restore(fd int, state *State) error {
	if state == nil {
		return errNilState
	}
	return unix.IoctlSetTermios(fd, ioctlSetTermios, &state.termios)
}

// GetSize reports the terminal's current column and row count via a
// direct TIOCGWINSZ ioctl.
func GetSize(fd int) (cols, rows int, err error) {
	ws, err := unix.IoctlGetWinsize(fd, unix.TIOCGWINSZ)
	if err != nil {
		return 0, 0, err
	}
	return int(ws.Col), int(ws.Row), nil
}
