package trainer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/tnqbao/gau-finetune-orchestrator/entity"
)

// engineRequest is one command sent to the trainer process, one JSON object
// per line on stdin.
type engineRequest struct {
	Op          string                 `json:"op"`
	Config      *entity.TrainingConfig `json:"config,omitempty"`
	DatasetPath string                 `json:"dataset_path,omitempty"`
	OutputDir   string                 `json:"output_dir,omitempty"`
	AdapterDir  string                 `json:"adapter_dir,omitempty"`
}

// engineEvent is one response line from the trainer process on stdout. A
// command ends with "ok" or "error"; "step" events stream in between while
// training runs.
type engineEvent struct {
	Event       string `json:"event"`
	Message     string `json:"message,omitempty"`
	CurrentStep int    `json:"current_step,omitempty"`
	TotalSteps  int    `json:"total_steps,omitempty"`
}

// CommandEngine drives an external trainer process over a line-based JSON
// protocol. One process serves one job attempt; model and adapter state live
// inside the process between calls.
type CommandEngine struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	encoder *json.Encoder
	events  *bufio.Scanner
	stderr  *bytes.Buffer
}

func NewCommandEngine(ctx context.Context, command, jobDir string, cfg entity.TrainingConfig) (*CommandEngine, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("trainer command is not configured")
	}

	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	cmd.Dir = jobDir

	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open trainer stdin: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open trainer stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start trainer process: %w", err)
	}

	events := bufio.NewScanner(stdout)
	events.Buffer(make([]byte, 0, 64*1024), 1<<20)

	engine := &CommandEngine{
		cmd:     cmd,
		stdin:   stdin,
		encoder: json.NewEncoder(stdin),
		events:  events,
		stderr:  stderr,
	}

	if err := engine.call(engineRequest{Op: "init", Config: &cfg}, nil); err != nil {
		engine.Close()
		return nil, err
	}

	return engine, nil
}

func (e *CommandEngine) LoadModel(ctx context.Context) error {
	return e.call(engineRequest{Op: "load_model"}, nil)
}

func (e *CommandEngine) ApplyAdapters(ctx context.Context) error {
	return e.call(engineRequest{Op: "configure_adapters"}, nil)
}

func (e *CommandEngine) Train(ctx context.Context, datasetPath, outputDir string, onStep func(currentStep, totalSteps int)) error {
	return e.call(engineRequest{
		Op:          "train",
		DatasetPath: datasetPath,
		OutputDir:   outputDir,
	}, onStep)
}

func (e *CommandEngine) Save(ctx context.Context, adapterDir string) error {
	return e.call(engineRequest{Op: "save_adapter", AdapterDir: adapterDir}, nil)
}

// call sends one request and reads events until the command completes
func (e *CommandEngine) call(req engineRequest, stepFn func(currentStep, totalSteps int)) error {
	if err := e.encoder.Encode(req); err != nil {
		return fmt.Errorf("failed to send %s to trainer: %w", req.Op, err)
	}

	for e.events.Scan() {
		line := strings.TrimSpace(e.events.Text())
		if line == "" {
			continue
		}

		var event engineEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return fmt.Errorf("unreadable trainer event during %s: %w", req.Op, err)
		}

		switch event.Event {
		case "step":
			if stepFn != nil {
				stepFn(event.CurrentStep, event.TotalSteps)
			}
		case "log":
			// informational only
		case "ok":
			return nil
		case "error":
			return fmt.Errorf("trainer %s failed: %s", req.Op, event.Message)
		default:
			return fmt.Errorf("unknown trainer event %q during %s", event.Event, req.Op)
		}
	}

	if err := e.events.Err(); err != nil {
		return fmt.Errorf("trainer stream broke during %s: %w", req.Op, err)
	}
	return fmt.Errorf("trainer exited during %s: %s", req.Op, e.stderrTail())
}

// Close asks the process to shut down and kills it if it lingers
func (e *CommandEngine) Close() error {
	_ = e.encoder.Encode(engineRequest{Op: "shutdown"})
	_ = e.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- e.cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		_ = e.cmd.Process.Kill()
		return <-done
	}
}

func (e *CommandEngine) stderrTail() string {
	out := strings.TrimSpace(e.stderr.String())
	if out == "" {
		return "no stderr output"
	}
	lines := strings.Split(out, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, "; ")
}

// NewCommandEngineFactory builds engines that each spawn one trainer process
func NewCommandEngineFactory(command string) EngineFactory {
	return func(ctx context.Context, jobDir string, cfg entity.TrainingConfig) (Engine, error) {
		return NewCommandEngine(ctx, command, jobDir, cfg)
	}
}
