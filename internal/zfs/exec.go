package zfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/ixsystems/zlinkd/internal/util/envconst"
)

// Error wraps a failed `zfs` invocation with its exit state.
type Error struct {
	Cmd    string
	Args   []string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("zfs: %s %v: %v: %s", e.Cmd, e.Args, e.Err, e.Stderr)
}

func (e *Error) Unwrap() error { return e.Err }

// binPath returns the `zfs` executable to invoke, overridable for tests
// that stub the binary on PATH without a shared mutable global.
func binPath() string {
	return envconst.String("ZLINKD_ZFS_BIN", "zfs")
}

func run(ctx context.Context, args ...string) ([]byte, error) {
	zfsBin := binPath()
	cmd := exec.CommandContext(ctx, zfsBin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return nil, &Error{Cmd: zfsBin, Args: args, Stderr: stderr.String(), Err: err}
		}
		return nil, &Error{Cmd: zfsBin, Args: args, Err: err}
	}
	return out, nil
}
