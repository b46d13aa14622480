//go:build linux || freebsd
// +build linux freebsd

package termmode

import (
	"os"
	"os/signal"
	"syscall"
)

// WatchResize invokes onResize once immediately and again on every
// SIGWINCH, until the returned stop function is called. It generalizes
// xs/termsize_unix.go's handleTermResizes, which sent the new size to the
// server as a raw CSOTermSize control packet; here the caller decides what
// to do with the new size (typically issue a CHANNEL_REQUEST
// "window-change").
func WatchResize(fd int, onResize func(cols, rows int)) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGWINCH)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ch:
				if cols, rows, err := GetSize(fd); err == nil {
					onResize(cols, rows)
				}
			case <-done:
				return
			}
		}
	}()
	ch <- syscall.SIGWINCH

	return func() {
		signal.Stop(ch)
		close(done)
	}
}
