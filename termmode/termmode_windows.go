//go:build windows
// +build windows

// Note: terminal manipulation on Windows is mostly a stub. mintty uses
// named pipes/ptys rather than Windows console mode, so raw mode is
// approximated by shelling out to `stty` in a wrapper the caller is
// expected to run under (MSYS/mintty), not by manipulating the console
// directly.
package termmode

import "os/exec"

type State struct{}

func MakeRaw(fd int) (*State, error) {
	cmd := exec.Command("stty", "-echo", "raw")
	_ = cmd.Run()
	return &State{}, nil
}

func Restore(fd int, state *State) error {
	cmd := exec.Command("stty", "echo", "cooked")
	return cmd.Run()
}

// GetSize falls back to a conventional 80x24 since there is no portable
// ioctl-based size query on this platform without a real console handle.
func GetSize(fd int) (cols, rows int, err error) {
	return 80, 24, nil
}
