package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/colorfulnotion/evmtests/log"
	"github.com/colorfulnotion/evmtests/testerrors"
	"github.com/colorfulnotion/evmtests/types"
)

const (
	maxStderrTail = 2048
	// waitDelay bounds how long output pipes are drained after the process is killed.
	waitDelay = time.Second
)

// Process drives an external prover binary. The input is written as JSON to
// stdin of `<cmd> execute --mode <mode>` and the Output is read as JSON from
// stdout; `<cmd> verify` reads the raw proof from stdin.
type Process struct {
	Command []string
	Env     []string
}

func NewProcess(command []string) (*Process, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, errors.New("engine command is empty")
	}
	return &Process{Command: command}, nil
}

func (p *Process) run(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	argv := append(append([]string{}, p.Command[1:]...), args...)
	cmd := exec.CommandContext(ctx, p.Command[0], argv...)
	if len(p.Env) > 0 {
		cmd.Env = append(cmd.Environ(), p.Env...)
	}
	cmd.WaitDelay = waitDelay
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	log.Trace(log.Engine, "engine process finished", "args", args, "elapsed", time.Since(start), "err", err)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%v: %s", err, tail(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func (p *Process) Execute(ctx context.Context, in *types.AssembledInput, mode Mode) (*Output, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode input %s: %w", in.Name, err)
	}
	stdout, err := p.run(ctx, payload, "execute", "--mode", mode.String())
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", testerrors.ErrEExecution, err)
	}
	var out Output
	if err := json.Unmarshal(stdout, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", testerrors.ErrEBadOutput, err)
	}
	return &out, nil
}

func (p *Process) Verify(ctx context.Context, proof []byte) error {
	if _, err := p.run(ctx, proof, "verify"); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: %v", testerrors.ErrEVerification, err)
	}
	return nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderrTail {
		return "..." + s[len(s)-maxStderrTail:]
	}
	return s
}
