package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/oriys/ftl2/internal/domain"
	"github.com/oriys/ftl2/internal/ferr"
)

// Native fast-path module FQCNs, per spec.md's "no reimplementation of
// the module library beyond native fast-path modules" non-goal.
const (
	FQCNCommand = "ftl2.builtin.command"
	FQCNFile    = "ftl2.builtin.file"
	FQCNAddHost = "ftl2.builtin.add_host"
)

// AddHostFunc mutates the running context's inventory; it is supplied
// by whatever owns the inventory (internal/ftl's Context), since the
// registry itself holds no inventory state.
type AddHostFunc func(name string, attrs map[string]any) error

// RegisterBuiltins wires the three native fast-path modules into r.
// addHost may be nil if add_host calls should be rejected (e.g. a
// registry built for a context that never runs untrusted playbooks).
func RegisterBuiltins(r *Registry, addHost AddHostFunc) {
	r.RegisterNative(FQCNCommand, &commandModule{})
	r.RegisterNative(FQCNFile, &fileModule{})
	r.RegisterNative(FQCNAddHost, &addHostModule{fn: addHost})
}

func successResult(changed bool, output map[string]any) *domain.ResultPayload {
	body, _ := json.Marshal(output)
	return &domain.ResultPayload{Success: true, Changed: changed, Output: body}
}

func failureResult(msg string) *domain.ResultPayload {
	return &domain.ResultPayload{Success: false, Error: msg}
}

// commandModule runs a shell command on the target host, locally via
// os/exec for a local host or over a throwaway SSH session for a
// remote one. It is deliberately connectionless: unlike internal/gate
// it opens (and tears down) its own transport per call, since native
// calls are meant to be occasional control operations, not the
// high-throughput path the gate's persistent stream optimizes for.
type commandModule struct{}

func (m *commandModule) Run(ctx context.Context, host domain.Host, params map[string]any, checkMode bool) (*domain.ResultPayload, error) {
	cmd, _ := params["cmd"].(string)
	if cmd == "" {
		return failureResult("command module requires a non-empty 'cmd' parameter"), nil
	}
	chdir, _ := params["chdir"].(string)

	if checkMode {
		return successResult(false, map[string]any{"cmd": cmd, "check_mode": true}), nil
	}

	var stdout, stderr string
	var exitCode int
	var err error
	if host.Transport == domain.TransportSSH {
		stdout, stderr, exitCode, err = runSSHCommand(ctx, host, shellWithChdir(cmd, chdir))
	} else {
		stdout, stderr, exitCode, err = runLocalCommand(ctx, cmd, chdir)
	}
	if err != nil {
		return nil, &ferr.TransportLost{Host: host.Name, Detail: err.Error()}
	}

	output := map[string]any{
		"cmd":       cmd,
		"stdout":    stdout,
		"stderr":    stderr,
		"exit_code": exitCode,
	}
	if exitCode != 0 {
		return &domain.ResultPayload{
			Success: false,
			Changed: false,
			Error:   fmt.Sprintf("command exited %d", exitCode),
			Output:  mustJSON(output),
		}, nil
	}
	return successResult(true, output), nil
}

func shellWithChdir(cmd, chdir string) string {
	if chdir == "" {
		return cmd
	}
	return fmt.Sprintf("cd %q && %s", chdir, cmd)
}

func runLocalCommand(ctx context.Context, cmd, chdir string) (stdout, stderr string, exitCode int, err error) {
	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	if chdir != "" {
		c.Dir = chdir
	}
	var outBuf, errBuf bytes.Buffer
	c.Stdout = &outBuf
	c.Stderr = &errBuf
	runErr := c.Run()
	stdout, stderr = outBuf.String(), errBuf.String()
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		return stdout, stderr, exitErr.ExitCode(), nil
	}
	if runErr != nil {
		return stdout, stderr, -1, runErr
	}
	return stdout, stderr, 0, nil
}

func runSSHCommand(ctx context.Context, host domain.Host, cmd string) (stdout, stderr string, exitCode int, err error) {
	client, err := dialOneShot(host)
	if err != nil {
		return "", "", -1, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", "", -1, err
	}
	defer session.Close()

	var outBuf, errBuf bytes.Buffer
	session.Stdout = &outBuf
	session.Stderr = &errBuf

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case runErr := <-done:
		stdout, stderr = outBuf.String(), errBuf.String()
		if exitErr, ok := runErr.(*ssh.ExitError); ok {
			return stdout, stderr, exitErr.ExitStatus(), nil
		}
		if runErr != nil {
			return stdout, stderr, -1, runErr
		}
		return stdout, stderr, 0, nil
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return "", "", -1, ctx.Err()
	}
}

// fileModule ensures a path is present, absent, or touched, with an
// optional mode and content, on the local machine or a remote host.
type fileModule struct{}

func (m *fileModule) Run(ctx context.Context, host domain.Host, params map[string]any, checkMode bool) (*domain.ResultPayload, error) {
	path, _ := params["path"].(string)
	if path == "" {
		return failureResult("file module requires a non-empty 'path' parameter"), nil
	}
	state, _ := params["state"].(string)
	if state == "" {
		state = "present"
	}
	mode, _ := params["mode"].(string)
	content, hasContent := params["content"].(string)

	if checkMode {
		return successResult(false, map[string]any{"path": path, "state": state, "check_mode": true}), nil
	}

	if host.Transport == domain.TransportSSH {
		return m.runRemote(ctx, host, path, state, mode, content, hasContent)
	}
	return m.runLocal(path, state, mode, content, hasContent)
}

func (m *fileModule) runLocal(path, state, mode string, content string, hasContent bool) (*domain.ResultPayload, error) {
	switch state {
	case "absent":
		if err := os.RemoveAll(path); err != nil {
			return failureResult(err.Error()), nil
		}
		return successResult(true, map[string]any{"path": path, "state": "absent"}), nil

	case "directory":
		if err := os.MkdirAll(path, 0o755); err != nil {
			return failureResult(err.Error()), nil
		}

	default: // "present" / "touch"
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return failureResult(err.Error()), nil
		}
		if hasContent {
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return failureResult(err.Error()), nil
			}
		} else if _, err := os.Stat(path); os.IsNotExist(err) {
			f, err := os.Create(path)
			if err != nil {
				return failureResult(err.Error()), nil
			}
			f.Close()
		} else {
			now := time.Now()
			os.Chtimes(path, now, now)
		}
	}

	if mode != "" {
		if parsed, err := parseOctalMode(mode); err == nil {
			os.Chmod(path, parsed)
		}
	}

	return successResult(true, map[string]any{"path": path, "state": state}), nil
}

func (m *fileModule) runRemote(ctx context.Context, host domain.Host, path, state, mode string, content string, hasContent bool) (*domain.ResultPayload, error) {
	var script string
	switch state {
	case "absent":
		script = fmt.Sprintf("rm -rf %q", path)
	case "directory":
		script = fmt.Sprintf("mkdir -p %q", path)
	default:
		script = fmt.Sprintf("mkdir -p %q && ", filepath.Dir(path))
		if hasContent {
			script += fmt.Sprintf("cat > %q <<'FTL2_EOF'\n%s\nFTL2_EOF", path, content)
		} else {
			script += fmt.Sprintf("touch %q", path)
		}
	}
	if mode != "" {
		script += fmt.Sprintf(" && chmod %s %q", mode, path)
	}

	_, stderr, exitCode, err := runSSHCommand(ctx, host, script)
	if err != nil {
		return nil, &ferr.TransportLost{Host: host.Name, Detail: err.Error()}
	}
	if exitCode != 0 {
		return failureResult(stderr), nil
	}
	return successResult(true, map[string]any{"path": path, "state": state}), nil
}

// addHostModule registers a new host into the running inventory,
// the one native module with no target host of its own: it mutates
// controller-side state rather than dispatching anywhere.
type addHostModule struct {
	fn AddHostFunc
}

func (m *addHostModule) Run(ctx context.Context, host domain.Host, params map[string]any, checkMode bool) (*domain.ResultPayload, error) {
	if m.fn == nil {
		return failureResult("add_host is not available in this context"), nil
	}
	name, _ := params["name"].(string)
	if name == "" {
		return failureResult("add_host requires a non-empty 'name' parameter"), nil
	}
	attrs := map[string]any{}
	for k, v := range params {
		if k == "name" {
			continue
		}
		attrs[k] = v
	}

	if checkMode {
		return successResult(false, map[string]any{"name": name, "check_mode": true}), nil
	}

	if err := m.fn(name, attrs); err != nil {
		return failureResult(err.Error()), nil
	}
	return successResult(true, map[string]any{"name": name}), nil
}

func parseOctalMode(mode string) (os.FileMode, error) {
	var parsed uint32
	_, err := fmt.Sscanf(mode, "%o", &parsed)
	return os.FileMode(parsed), err
}

func mustJSON(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
