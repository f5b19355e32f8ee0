package main

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/oriys/ftl2/internal/domain"
)

// maxFrameBytes mirrors internal/gate's own bound; the stub enforces
// it independently since it shares no code with the controller side.
const maxFrameBytes = 64 << 20

// gateStub holds one rpc session's state: the bundle archive it was
// told to serve, extracted lazily on first request so a session can
// start answering frames before its bundle finishes uploading (see
// internal/gate/ssh_transport.go's dialHost comment).
type gateStub struct {
	bundlePath string

	mu        sync.Mutex
	extracted bool
	workDir   string
	manifest  domain.BundleManifest
	modules   map[string]string // FQCN -> extracted .py path
}

// serve runs the frame protocol loop: send ready, then read and
// dispatch frames from in until a shutdown frame or stream EOF.
// Grounded on oriys-nova/cmd/agent/main.go's handleConnection loop.
func serve(bundlePath string, in io.Reader, out io.Writer) error {
	stub := &gateStub{bundlePath: bundlePath}
	defer stub.cleanup()

	if err := writeFrame(out, &domain.GateFrame{Type: domain.FrameReady}); err != nil {
		return fmt.Errorf("write ready frame: %w", err)
	}

	for {
		frame, err := readFrame(in)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}

		switch frame.Type {
		case domain.FrameExecute:
			stub.handleExecute(out, frame)
		case domain.FrameInfo:
			stub.handleInfo(out, frame)
		case domain.FrameListModules:
			stub.handleListModules(out, frame)
		case domain.FrameShutdown:
			return nil
		default:
			writeErrorFrame(out, frame.ID, fmt.Sprintf("unknown frame type %q", frame.Type))
		}
	}
}

// runOnce is the one-shot diagnostic path: run module directly against
// bundle without any frame stream, for an operator inspecting a bundle
// by hand.
func runOnce(bundlePath, module, paramsJSON string, out io.Writer) error {
	var params map[string]any
	if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
		return fmt.Errorf("parse --params: %w", err)
	}

	stub := &gateStub{bundlePath: bundlePath}
	defer stub.cleanup()

	result, err := stub.runModule(module, params, false)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func (s *gateStub) handleExecute(out io.Writer, frame *domain.GateFrame) {
	var req domain.ExecutePayload
	if err := json.Unmarshal(frame.Payload, &req); err != nil {
		writeErrorFrame(out, frame.ID, fmt.Sprintf("malformed execute payload: %v", err))
		return
	}

	result, err := s.runModule(req.Module, req.Params, req.CheckMode)
	if err != nil {
		writeErrorFrame(out, frame.ID, err.Error())
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		writeErrorFrame(out, frame.ID, fmt.Sprintf("marshal result: %v", err))
		return
	}
	writeFrame(out, &domain.GateFrame{Type: domain.FrameResult, ID: frame.ID, Payload: payload})
}

// handleInfo and handleListModules both wrap their type-specific
// result in a domain.ResultPayload's Output field, exactly as
// handleExecute's result travels as a FrameResult payload: the
// controller's FrameResult handler (internal/gate's dispatch) decodes
// every result frame into a domain.ResultPayload before a caller reads
// its Output, so a bare type-specific struct as the frame payload
// would never reach the caller that asked for it.
func (s *gateStub) handleInfo(out io.Writer, frame *domain.GateFrame) {
	if err := s.ensureExtracted(); err != nil {
		writeErrorFrame(out, frame.ID, err.Error())
		return
	}
	info := domain.InfoResult{
		InterpreterVersion: pythonVersion(),
		OS:                 runtime.GOOS,
		Arch:               runtime.GOARCH,
		BundleFingerprint:  s.manifest.Fingerprint,
	}
	output, err := json.Marshal(info)
	if err != nil {
		writeErrorFrame(out, frame.ID, fmt.Sprintf("marshal info result: %v", err))
		return
	}
	payload, _ := json.Marshal(domain.ResultPayload{Success: true, Output: output})
	writeFrame(out, &domain.GateFrame{Type: domain.FrameResult, ID: frame.ID, Payload: payload})
}

func (s *gateStub) handleListModules(out io.Writer, frame *domain.GateFrame) {
	if err := s.ensureExtracted(); err != nil {
		writeErrorFrame(out, frame.ID, err.Error())
		return
	}
	s.mu.Lock()
	names := make([]string, 0, len(s.modules))
	for fqcn := range s.modules {
		names = append(names, fqcn)
	}
	s.mu.Unlock()

	output, err := json.Marshal(domain.ListModulesResult{Modules: names})
	if err != nil {
		writeErrorFrame(out, frame.ID, fmt.Sprintf("marshal list_modules result: %v", err))
		return
	}
	payload, _ := json.Marshal(domain.ResultPayload{Success: true, Output: output})
	writeFrame(out, &domain.GateFrame{Type: domain.FrameResult, ID: frame.ID, Payload: payload})
}

// runModule extracts the bundle on first use, locates module's source
// by FQCN, and runs it as a Python subprocess (the module convention
// this inventory's ansible_* host attributes already imply): stdin
// gets one JSON object {"params": ..., "check_mode": ...}, and the module's own JSON
// object on stdout carries {changed, failed, msg, ...}, translated
// into a domain.ResultPayload.
func (s *gateStub) runModule(fqcn string, params map[string]any, checkMode bool) (*domain.ResultPayload, error) {
	if err := s.ensureExtracted(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	path, ok := s.modules[fqcn]
	s.mu.Unlock()
	if !ok {
		return &domain.ResultPayload{Success: false, Error: fmt.Sprintf("module not found in bundle: %s", fqcn)}, nil
	}

	input := map[string]any{"params": params, "check_mode": checkMode}
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal module input: %w", err)
	}

	cmd := exec.Command(pythonBinary(), path)
	cmd.Stdin = bytes.NewReader(inputJSON)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.Output()
	if err != nil {
		return &domain.ResultPayload{Success: false, Error: fmt.Sprintf("module execution failed: %v: %s", err, stderr.String())}, nil
	}

	var raw map[string]any
	if err := json.Unmarshal(stdout, &raw); err != nil {
		return nil, fmt.Errorf("parse module output for %s: %w", fqcn, err)
	}

	result := &domain.ResultPayload{Success: true}
	if failed, _ := raw["failed"].(bool); failed {
		result.Success = false
	}
	if changed, _ := raw["changed"].(bool); changed {
		result.Changed = changed
	}
	if msg, _ := raw["msg"].(string); msg != "" {
		result.Error = msg
	}
	delete(raw, "failed")
	delete(raw, "changed")
	delete(raw, "msg")
	outputJSON, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal module output for %s: %w", fqcn, err)
	}
	result.Output = outputJSON
	return result, nil
}

func (s *gateStub) ensureExtracted() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.extracted {
		return nil
	}

	data, err := os.ReadFile(s.bundlePath)
	if err != nil {
		return fmt.Errorf("read bundle %s: %w", s.bundlePath, err)
	}

	workDir, err := os.MkdirTemp("", "ftl2-gate-bundle-*")
	if err != nil {
		return fmt.Errorf("create bundle workdir: %w", err)
	}

	manifest, modules, err := extractArchive(data, workDir)
	if err != nil {
		os.RemoveAll(workDir)
		return fmt.Errorf("extract bundle: %w", err)
	}

	s.workDir = workDir
	s.manifest = manifest
	s.modules = modules
	s.extracted = true
	return nil
}

func (s *gateStub) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workDir != "" {
		os.RemoveAll(s.workDir)
	}
}

// extractArchive unpacks a gzip-compressed tar produced by
// internal/bundle.packArchive into workDir, returning the manifest
// and a FQCN -> extracted-path map built from the manifest's module
// list rather than by re-deriving paths, since the manifest already
// names each module's FQCN authoritatively.
func extractArchive(data []byte, workDir string) (domain.BundleManifest, map[string]string, error) {
	var manifest domain.BundleManifest
	modules := map[string]string{}

	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return manifest, nil, err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	bodies := map[string]string{} // tar-relative name -> extracted path

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return manifest, nil, err
		}

		dest := filepath.Join(workDir, filepath.FromSlash(hdr.Name))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return manifest, nil, err
		}
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return manifest, nil, err
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return manifest, nil, err
		}
		f.Close()

		if hdr.Name == "manifest.json" {
			raw, err := os.ReadFile(dest)
			if err != nil {
				return manifest, nil, err
			}
			if err := json.Unmarshal(raw, &manifest); err != nil {
				return manifest, nil, err
			}
		} else if strings.HasPrefix(hdr.Name, "modules/") {
			bodies[hdr.Name] = dest
		}
	}

	for _, m := range manifest.Modules {
		rel := "modules/" + filepath.ToSlash(strings.Join(strings.Split(m.FQCN, "."), "/")) + ".py"
		if path, ok := bodies[rel]; ok {
			modules[m.FQCN] = path
		}
	}

	return manifest, modules, nil
}

func writeErrorFrame(out io.Writer, id int64, message string) {
	payload, _ := json.Marshal(domain.ErrorPayload{Message: message})
	writeFrame(out, &domain.GateFrame{Type: domain.FrameError, ID: id, Payload: payload})
}

// writeFrame and readFrame duplicate internal/gate's tiny framing
// helpers deliberately: this binary is the remote-side collaborator
// internal/gate's own doc comment calls "a documented external
// contract", not a consumer of the controller's internal package.
func writeFrame(w io.Writer, frame *domain.GateFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(data)))
	copy(buf[4:], data)
	_, err = w.Write(buf)
	return err
}

func readFrame(r io.Reader) (*domain.GateFrame, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf)
	if n > maxFrameBytes {
		return nil, fmt.Errorf("frame too large: %d bytes", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	var frame domain.GateFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

func pythonBinary() string {
	if p := os.Getenv("FTL2_GATE_PYTHON"); p != "" {
		return p
	}
	return "python3"
}

func pythonVersion() string {
	out, err := exec.Command(pythonBinary(), "--version").CombinedOutput()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(out))
}
