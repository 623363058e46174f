package zfs

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// DrySendInfo is the parsed machine-readable output of `zfs send -nvP`.
type DrySendInfo struct {
	Type         string // "full" or "incremental"
	Filesystem   string
	From         string // empty for full sends
	To           string
	SizeEstimate int64
}

// EstimateSend returns the estimated byte size of sending `to` (optionally
// incremental from `from`) on dataset.
func EstimateSend(ctx context.Context, dataset string, from, to string) (uint64, error) {
	args := []string{"send", "-nvP"}
	if from != "" {
		args = append(args, "-i", from)
	}
	args = append(args, fmt.Sprintf("%s@%s", dataset, to))
	out, err := run(ctx, args...)
	if err != nil {
		return 0, err
	}
	info, err := parseDrySendInfo(dataset, out)
	if err != nil {
		return 0, err
	}
	if info.SizeEstimate < 0 {
		return 0, nil
	}
	return uint64(info.SizeEstimate), nil
}

func parseDrySendInfo(filesystem string, out []byte) (DrySendInfo, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		switch {
		case len(fields) == 3 && fields[0] == "full":
			size, _ := strconv.ParseInt(fields[2], 10, 64)
			return DrySendInfo{Type: "full", Filesystem: filesystem, To: fields[1], SizeEstimate: size}, nil
		case len(fields) == 4 && fields[0] == "incremental":
			size, _ := strconv.ParseInt(fields[3], 10, 64)
			return DrySendInfo{Type: "incremental", Filesystem: filesystem, From: fields[1], To: fields[2], SizeEstimate: size}, nil
		case len(fields) == 2 && fields[0] == "size":
			size, _ := strconv.ParseInt(fields[1], 10, 64)
			return DrySendInfo{Filesystem: filesystem, SizeEstimate: size}, nil
		}
	}
	return DrySendInfo{}, fmt.Errorf("zfs: could not parse dry send output for %q: %q", filesystem, string(out))
}

// Send starts `zfs send [-i anchor] dataset@snapshot`, streaming its stdout
// into w. It returns once the process has been started; callers must call
// the returned wait function to reap it and observe the final error.
func Send(ctx context.Context, dataset, anchor, snapshot string, w io.Writer) (wait func() error, err error) {
	args := []string{"send"}
	if anchor != "" {
		args = append(args, "-i", anchor)
	}
	args = append(args, fmt.Sprintf("%s@%s", dataset, snapshot))

	zfsBin := binPath()
	cmd := exec.CommandContext(ctx, zfsBin, args...)
	cmd.Stdout = w
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, &Error{Cmd: zfsBin, Args: args, Err: err}
	}
	return func() error {
		if err := cmd.Wait(); err != nil {
			return &Error{Cmd: zfsBin, Args: args, Stderr: stderr.String(), Err: err}
		}
		return nil
	}, nil
}

// Receive starts `zfs receive` on remotefs reading from r, parameterised by
// force/nomount.
func Receive(ctx context.Context, remotefs string, force, nomount bool, r io.Reader) (wait func() error, err error) {
	args := []string{"receive"}
	if force {
		args = append(args, "-F")
	}
	if nomount {
		args = append(args, "-u")
	}
	args = append(args, remotefs)

	zfsBin := binPath()
	cmd := exec.CommandContext(ctx, zfsBin, args...)
	cmd.Stdin = r
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, &Error{Cmd: zfsBin, Args: args, Err: err}
	}
	return func() error {
		if err := cmd.Wait(); err != nil {
			return &Error{Cmd: zfsBin, Args: args, Stderr: stderr.String(), Err: err}
		}
		return nil
	}, nil
}
