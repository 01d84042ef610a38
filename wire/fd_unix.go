package wire

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// dupFile returns a new *os.File backed by a dup() of file's
// descriptor, so the marshalled message owns a descriptor independent
// of the caller's.
func dupFile(file *os.File) (*os.File, error) {
	raw, err := file.SyscallConn()
	if err != nil {
		return nil, err
	}
	var (
		newFD int
		dupErr error
	)
	err = raw.Control(func(fd uintptr) {
		newFD, dupErr = unix.Dup(int(fd))
	})
	if err != nil {
		return nil, err
	}
	if dupErr != nil {
		return nil, fmt.Errorf("dup: %w", dupErr)
	}
	unix.CloseOnExec(newFD)
	return os.NewFile(uintptr(newFD), file.Name()), nil
}
