package registry

import (
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/oriys/ftl2/internal/domain"
)

// dialOneShot opens a short-lived SSH connection for a single native
// command, independent of internal/gate's persistent multiplexed
// transport. Credential handling mirrors gate's host auth (password
// or private key), duplicated in miniature here rather than imported,
// since a one-shot control call has no business depending on the
// gate's connection-pooling and framing machinery.
func dialOneShot(host domain.Host) (*ssh.Client, error) {
	var methods []ssh.AuthMethod
	if host.PrivateKeyFile != "" {
		if signer, err := loadOneShotSigner(host.PrivateKeyFile); err == nil {
			methods = append(methods, ssh.PublicKeys(signer))
		}
	}
	if host.Password != "" {
		methods = append(methods, ssh.Password(host.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("host %s: no SSH credentials configured", host.Name)
	}

	user := host.User
	if user == "" {
		user = "root"
	}
	port := host.Port
	if port == 0 {
		port = 22
	}

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	}

	addr := fmt.Sprintf("%s:%d", host.Address, port)
	conn, err := net.DialTimeout("tcp", addr, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func loadOneShotSigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(data)
}
