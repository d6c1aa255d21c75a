// Package launcher starts workers for pending jobs. A worker is either a separate archivist
// process or a goroutine in the current one; either way the caller returns immediately and the
// job row is the only progress channel.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/davexpro/archivist/internal/logging"
)

const (
	KindBackup = "backup"
	KindDelete = "delete"
)

// CredentialEnvVar carries the encrypted credential to a worker process so it never appears
// in the process table.
const CredentialEnvVar = "ARCHIVIST_CREDENTIAL"

// Request identifies one worker run. Credential is vault ciphertext, never plaintext.
type Request struct {
	Kind       string
	JobID      uint
	Credential string
	Source     string
}

func (r Request) validate() error {
	if r.Kind != KindBackup && r.Kind != KindDelete {
		return fmt.Errorf("unknown job kind %q", r.Kind)
	}
	if r.JobID == 0 {
		return errors.New("job id is required")
	}
	return nil
}

type Launcher interface {
	Launch(ctx context.Context, req Request) error
	// Wait blocks until every launched worker has exited.
	Wait()
}

// ProcessLauncher execs Binary with Args followed by the worker subcommand. No shell is
// involved; every value is a separate argv entry.
type ProcessLauncher struct {
	Binary string
	Args   []string
	// OnExit, when set, observes every worker exit.
	OnExit func(req Request, err error)

	wg sync.WaitGroup
}

func (l *ProcessLauncher) Launch(_ context.Context, req Request) error {
	if err := req.validate(); err != nil {
		return err
	}

	args := append([]string{}, l.Args...)
	args = append(args, "worker", req.Kind, "--job-id", strconv.FormatUint(uint64(req.JobID), 10), "--source", req.Source)

	// not bound to the request context: the worker outlives the request that created it
	cmd := exec.Command(l.Binary, args...)
	cmd.Env = append(os.Environ(), CredentialEnvVar+"="+req.Credential)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s worker for job %d: %w", req.Kind, req.JobID, err)
	}
	logging.Info().Str("kind", req.Kind).Uint("job_id", req.JobID).Int("pid", cmd.Process.Pid).Msg("worker started")

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		err := cmd.Wait()
		if err != nil {
			logging.Error().Err(err).Str("kind", req.Kind).Uint("job_id", req.JobID).Int("exit_code", cmd.ProcessState.ExitCode()).Msg("worker exited with failure")
		} else {
			logging.Info().Str("kind", req.Kind).Uint("job_id", req.JobID).Msg("worker exited")
		}
		if l.OnExit != nil {
			l.OnExit(req, err)
		}
	}()
	return nil
}

func (l *ProcessLauncher) Wait() {
	l.wg.Wait()
}

// RunFunc executes a worker in-process.
type RunFunc func(ctx context.Context, req Request) error

// InlineLauncher runs workers as goroutines under a long-lived context.
type InlineLauncher struct {
	ctx context.Context
	run RunFunc
	wg  sync.WaitGroup
}

// NewInlineLauncher binds workers to ctx, typically the server's lifetime, not a request's.
func NewInlineLauncher(ctx context.Context, run RunFunc) *InlineLauncher {
	return &InlineLauncher{ctx: ctx, run: run}
}

func (l *InlineLauncher) Launch(_ context.Context, req Request) error {
	if err := req.validate(); err != nil {
		return err
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				logging.Error().Str("kind", req.Kind).Uint("job_id", req.JobID).Interface("panic", rec).Msg("inline worker panicked")
			}
		}()
		if err := l.run(l.ctx, req); err != nil {
			logging.Error().Err(err).Str("kind", req.Kind).Uint("job_id", req.JobID).Msg("inline worker failed")
		}
	}()
	return nil
}

func (l *InlineLauncher) Wait() {
	l.wg.Wait()
}
