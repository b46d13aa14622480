//go:build windows
// +build windows

package termmode

// WatchResize has no SIGWINCH equivalent on this platform; it invokes
// onResize once with the fallback size and returns a no-op stop.
func WatchResize(fd int, onResize func(cols, rows int)) (stop func()) {
	if cols, rows, err := GetSize(fd); err == nil {
		onResize(cols, rows)
	}
	return func() {}
}
