package gate

import (
	"fmt"
	"io"
	"os"
	"os/exec"
)

// localConn runs the entry stub as a local subprocess, for hosts with
// domain.TransportLocal. The frame protocol is identical to the SSH
// case; only how the stub's stdio is wired differs.
type localConn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
}

func (c *localConn) Stdin() io.Writer  { return c.stdin }
func (c *localConn) Stdout() io.Reader { return c.stdout }

func (c *localConn) Close() error {
	c.stdin.Close()
	if c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
	return c.cmd.Wait()
}

// dialLocalStub launches binaryPath rpc --bundle <path> as a local
// process, staging the bundle by writing its archive to a cache path
// under localDir (a local directory in this case, not a remote one)
// first — the same contract the SSH path upholds by uploading the
// archive before the stub's first execute request needs it.
func dialLocalStub(binaryPath, localDir, fingerprint string, archive []byte) (*localConn, error) {
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return nil, fmt.Errorf("create local gate dir: %w", err)
	}
	archivePath := localDir + "/" + fingerprint + ".tar.gz"
	if _, err := os.Stat(archivePath); os.IsNotExist(err) {
		if err := os.WriteFile(archivePath, archive, 0o644); err != nil {
			return nil, fmt.Errorf("stage local bundle: %w", err)
		}
	}

	cmd := exec.Command(binaryPath, "rpc", "--bundle", archivePath)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start local gate %s: %w", binaryPath, err)
	}

	return &localConn{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}
