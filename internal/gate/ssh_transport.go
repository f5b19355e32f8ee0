package gate

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/oriys/ftl2/internal/domain"
)

// sshConn bundles the pieces of a live SSH session that the transport
// reads and writes across: an exec'd remote process's stdin/stdout,
// plus the underlying client and session so Close can tear both down.
type sshConn struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
}

func (c *sshConn) Stdin() io.Writer  { return c.stdin }
func (c *sshConn) Stdout() io.Reader { return c.stdout }

func (c *sshConn) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// dialHost opens an SSH connection to host and starts the remote gate
// binary in RPC mode, wiring its stdin/stdout for frame exchange. The
// remote command line is deliberately minimal: the entry stub speaks
// the same length-prefixed protocol regardless of how it was invoked.
func dialHost(host domain.Host, binaryPath, remoteDir, fingerprint string, connectTimeout time.Duration) (*sshConn, error) {
	authMethods, err := hostAuthMethods(host)
	if err != nil {
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            nonEmpty(host.User, "root"),
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         connectTimeout,
	}

	addr := fmt.Sprintf("%s:%d", host.Address, nonZeroInt(host.Port, 22))
	conn, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	sshConnUnderlying, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	client := ssh.NewClient(sshConnUnderlying, chans, reqs)

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ssh session: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	// --bundle names the archive path the entry stub will extract on its
	// first execute request; it need not exist yet (stageBundle uploads
	// it in parallel with the stub starting up), only by the time the
	// controller's first call arrives.
	remotePath := remoteDir + "/" + fingerprint + ".tar.gz"
	cmd := fmt.Sprintf("%s rpc --bundle %s", binaryPath, remotePath)
	if err := session.Start(cmd); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("start remote gate %q: %w", cmd, err)
	}

	return &sshConn{
		client:  client,
		session: session,
		stdin:   stdin,
		stdout:  bufio.NewReaderSize(stdout, 64<<10),
	}, nil
}

// stageBundle uploads a bundle archive to remoteDir on host unless a
// file matching its fingerprint is already present, via a throwaway
// "cat > path" session — the minimal upload primitive any SSH server
// supports without requiring SFTP or rsync on the remote end.
func stageBundle(client *ssh.Client, remoteDir, fingerprint string, archive []byte) (string, error) {
	remotePath := remoteDir + "/" + fingerprint + ".tar.gz"

	checkSession, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("ssh session: %w", err)
	}
	checkCmd := fmt.Sprintf("test -f %s && echo present", remotePath)
	out, _ := checkSession.CombinedOutput(checkCmd)
	checkSession.Close()
	if string(out) == "present\n" || string(out) == "present" {
		return remotePath, nil
	}

	mkdirSession, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("ssh session: %w", err)
	}
	mkdirSession.Run(fmt.Sprintf("mkdir -p %s", remoteDir))
	mkdirSession.Close()

	uploadSession, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("ssh session: %w", err)
	}
	defer uploadSession.Close()

	stdin, err := uploadSession.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("upload stdin pipe: %w", err)
	}
	if err := uploadSession.Start(fmt.Sprintf("cat > %s", remotePath)); err != nil {
		return "", fmt.Errorf("start upload: %w", err)
	}
	if _, err := stdin.Write(archive); err != nil {
		return "", fmt.Errorf("upload bundle: %w", err)
	}
	stdin.Close()
	if err := uploadSession.Wait(); err != nil {
		return "", fmt.Errorf("upload bundle wait: %w", err)
	}

	return remotePath, nil
}

func hostAuthMethods(host domain.Host) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if host.PrivateKeyFile != "" {
		signer, err := loadSigner(host.PrivateKeyFile)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if host.Password != "" {
		methods = append(methods, ssh.Password(host.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("host %s: no SSH credentials configured", host.Name)
	}
	return methods, nil
}

func nonEmpty(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
