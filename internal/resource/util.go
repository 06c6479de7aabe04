package resource

import "os/exec"

// commandExists reports whether a binary is on PATH, the Go equivalent of
// shutil.which used throughout the original resource managers.
func commandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
