package orbital

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"time"

	"github.com/rs/zerolog"
)

// TerminateGrace is how long Terminate waits after asking the worker to stop
// before killing it.
var TerminateGrace = 5 * time.Second

// Worker is a spawned worker process that was handed the channel name through
// its environment.
type Worker struct {
	// Cmd is the underlying exec.Cmd of the worker process.
	Cmd *exec.Cmd

	log     zerolog.Logger
	done    chan struct{}
	waitErr error
	signals chan os.Signal
}

// startWorker appends <env>=<name> to the environment of cmd and starts it.
// Unset stdout and stderr are forwarded to ours; stdin stays closed.
func startWorker(cmd *exec.Cmd, env, name string, extraEnv map[string]string, logger zerolog.Logger) (*Worker, error) {
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, env+"="+name)
	for key, value := range extraEnv {
		cmd.Env = append(cmd.Env, key+"="+value)
	}
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("orbital: start worker %s: %w", cmd.Path, err)
	}

	w := &Worker{
		Cmd:  cmd,
		log:  logger.With().Str("component", "worker").Int("pid", cmd.Process.Pid).Logger(),
		done: make(chan struct{}),
	}
	w.log.Info().Str("path", cmd.Path).Msg("worker started")

	go func() {
		w.waitErr = waitForExit(cmd)
		close(w.done)
		if w.waitErr != nil {
			w.log.Warn().Err(w.waitErr).Msg("worker exited")
		} else {
			w.log.Info().Msg("worker exited")
		}
	}()
	w.setupSignalHandler()
	return w, nil
}

// Wait blocks until the worker exits.
// Returns an error if the worker was killed or exited with a non-zero status.
func (w *Worker) Wait() error {
	<-w.done
	return w.waitErr
}

// Done is closed once the worker has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Terminate asks the worker to stop and kills it if it is still running after
// TerminateGrace. Returns nil if the worker already exited.
func (w *Worker) Terminate() error {
	select {
	case <-w.done:
		return nil
	default:
	}

	if err := interruptProcess(w.Cmd.Process); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return err
	}

	select {
	case <-time.After(TerminateGrace):
		w.log.Warn().Dur("grace", TerminateGrace).Msg("worker did not stop, killing")
		if err := w.Cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
		<-w.done
	case <-w.done:
	}
	return nil
}

// setupSignalHandler terminates the worker when this process is interrupted.
func (w *Worker) setupSignalHandler() {
	w.signals = make(chan os.Signal, 1)
	setSignalsForChannel(w.signals)

	go func() {
		select {
		case sig := <-w.signals:
			w.log.Info().Str("signal", sig.String()).Msg("terminating worker")
			w.Terminate()
		case <-w.done:
		}
		signal.Stop(w.signals)
	}()
}

// waitForExit waits for a command to exit and returns an appropriate error.
func waitForExit(cmd *exec.Cmd) error {
	err := cmd.Wait()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == -1 {
			return errors.New("worker process was killed")
		}
		return err
	}
	return nil
}
