//go:build unix

package auth

import "os"

func currentUID() int {
	return os.Getuid()
}
