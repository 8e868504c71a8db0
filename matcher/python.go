package matcher

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

//go:embed scripts/extract_procedures.py
var extractScript []byte

// ErrExtractorClosed is returned by a PythonExtractor after Close.
var ErrExtractorClosed = errors.New("extractor closed")

type pythonRequest struct {
	Text string `json:"text"`
}

type pythonResponse struct {
	Phrases []string `json:"phrases"`
	Error   string   `json:"error,omitempty"`
}

type pythonHello struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// PythonExtractor runs procedure extraction in a pool of long-lived Python
// processes. Each process handles one request at a time.
type PythonExtractor struct {
	cfg     PythonConfig
	script  string
	tmpDir  string
	log     *slog.Logger
	idle    chan *pythonWorker
	mu      sync.Mutex
	closed  bool
	workers []*pythonWorker
}

type pythonWorker struct {
	id     int
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	broken bool
}

// NewPythonExtractor starts cfg.Workers processes and waits until each reports ready.
// When cfg.ScriptPath is empty the bundled spaCy script is written to a temp dir.
func NewPythonExtractor(cfg PythonConfig, logger *slog.Logger) (*PythonExtractor, error) {
	if logger == nil {
		logger = discardLogger()
	}
	if cfg.Executable == "" {
		cfg.Executable = "python3"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	p := &PythonExtractor{
		cfg:    cfg,
		script: cfg.ScriptPath,
		log:    logger,
		idle:   make(chan *pythonWorker, cfg.Workers),
	}
	if p.script == "" {
		dir, err := os.MkdirTemp("", "cptmatch-extract-")
		if err != nil {
			return nil, fmt.Errorf("create script dir: %w", err)
		}
		p.tmpDir = dir
		p.script = filepath.Join(dir, "extract_procedures.py")
		if err := os.WriteFile(p.script, extractScript, 0o644); err != nil {
			os.RemoveAll(dir)
			return nil, fmt.Errorf("write script: %w", err)
		}
	}

	logger.Info("starting extraction workers", "workers", cfg.Workers, "executable", cfg.Executable)
	for i := 0; i < cfg.Workers; i++ {
		w, err := p.startWorker(i)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("start worker %d: %w", i, err)
		}
		p.workers = append(p.workers, w)
		p.idle <- w
	}
	return p, nil
}

func (p *PythonExtractor) startWorker(id int) (*pythonWorker, error) {
	cmd := exec.Command(p.cfg.Executable, p.script)
	if p.cfg.WorkDir != "" {
		cmd.Dir = p.cfg.WorkDir
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("start process: %w", err)
	}
	w := &pythonWorker{id: id, cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout)}

	hello := map[string]any{
		"model":  p.cfg.Model,
		"labels": p.cfg.Labels,
	}
	if err := w.send(hello); err != nil {
		w.kill()
		return nil, fmt.Errorf("send config: %w", err)
	}
	var ready pythonHello
	if err := w.receive(&ready); err != nil {
		w.kill()
		return nil, fmt.Errorf("read ready message: %w", err)
	}
	if ready.Status != "ready" {
		w.kill()
		if ready.Error != "" {
			return nil, fmt.Errorf("worker failed to start: %s", ready.Error)
		}
		return nil, fmt.Errorf("unexpected startup status: %s", ready.Status)
	}
	p.log.Debug("extraction worker ready", "worker", id)
	return w, nil
}

// Extract sends text to an idle worker and waits for its phrases.
func (p *PythonExtractor) Extract(ctx context.Context, text string) ([]string, error) {
	var w *pythonWorker
	select {
	case w = <-p.idle:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if w.broken {
		fresh, err := p.replace(w)
		if err != nil {
			p.idle <- w
			return nil, err
		}
		w = fresh
	}

	type result struct {
		resp pythonResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		var r result
		if r.err = w.send(pythonRequest{Text: text}); r.err == nil {
			r.err = w.receive(&r.resp)
		}
		done <- r
	}()

	select {
	case r := <-done:
		if r.err != nil {
			w.broken = true
			p.idle <- w
			return nil, r.err
		}
		p.idle <- w
		if r.resp.Error != "" {
			return nil, fmt.Errorf("python error: %s", r.resp.Error)
		}
		return r.resp.Phrases, nil
	case <-ctx.Done():
		// The worker may still write a response; it cannot be reused.
		w.kill()
		<-done
		w.broken = true
		p.idle <- w
		return nil, ctx.Err()
	}
}

func (p *PythonExtractor) replace(old *pythonWorker) (*pythonWorker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrExtractorClosed
	}
	old.kill()
	p.log.Warn("restarting extraction worker", "worker", old.id)
	w, err := p.startWorker(old.id)
	if err != nil {
		return nil, err
	}
	for i, cur := range p.workers {
		if cur == old {
			p.workers[i] = w
		}
	}
	return w, nil
}

// Close stops all workers and removes the temporary script.
func (p *PythonExtractor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for _, w := range p.workers {
		w.stop()
	}
	if p.tmpDir != "" {
		os.RemoveAll(p.tmpDir)
	}
	return nil
}

func (w *pythonWorker) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.stdin.Write(data); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

func (w *pythonWorker) receive(v any) error {
	line, err := w.stdout.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// stop closes stdin so the worker exits on EOF, then reaps it.
func (w *pythonWorker) stop() {
	w.stdin.Close()
	if err := w.cmd.Wait(); err != nil && w.cmd.ProcessState == nil {
		w.kill()
	}
}

func (w *pythonWorker) kill() {
	w.stdin.Close()
	if w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
	_ = w.cmd.Wait()
}
