package helper

import (
	"fmt"
	"os"
	"os/exec"
)

// ResolveBinary finds the executable workers are started from. An empty name means the
// running binary itself.
func ResolveBinary(name string) (string, error) {
	if name == "" {
		self, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("failed to locate own executable: %w", err)
		}
		return self, nil
	}

	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("worker binary %q not found: %w", name, err)
	}
	return p, nil
}
