package orbital

import (
	"fmt"
	"os"
	"os/exec"
)

// DefaultPipeEnv is the environment variable that carries the channel name
// from host to worker.
const DefaultPipeEnv = "PIPE"

// BootstrapConfig controls Bootstrap.
type BootstrapConfig struct {
	// Env names the environment variable holding the channel name.
	// Defaults to DefaultPipeEnv.
	Env string

	// Command is started as the worker when this process creates the
	// channel. It is ignored when attaching.
	Command *exec.Cmd

	// ExtraEnv is added to the worker's environment.
	ExtraEnv map[string]string

	// AttachAsServer takes the server role when attaching to a name found in
	// the environment.
	AttachAsServer bool

	// PipeOptions are passed to Create or Open.
	PipeOptions []PipeOption
}

// Bootstrap decides between host and worker mode and starts p.
//
// If the environment carries a channel name the process is a worker: it
// attaches to that channel and no Worker is returned. Otherwise it is the
// host: it creates a channel and, if cfg.Command is set, spawns the worker
// with the channel name in its environment.
func Bootstrap(p *Protocol, cfg BootstrapConfig) (*Worker, error) {
	if p.started() {
		return nil, ErrAlreadyStarted
	}
	env := cfg.Env
	if env == "" {
		env = DefaultPipeEnv
	}

	if name := os.Getenv(env); name != "" {
		open := Open
		if cfg.AttachAsServer {
			open = OpenServer
		}
		pipe, err := open(name, cfg.PipeOptions...)
		if err != nil {
			return nil, err
		}
		if err := p.Start(pipe); err != nil {
			pipe.Close()
			return nil, err
		}
		p.log.Info().Str("env", env).Msg("attached to channel")
		return nil, nil
	}

	pipe, err := Create(cfg.PipeOptions...)
	if err != nil {
		return nil, err
	}

	var w *Worker
	if cfg.Command != nil {
		w, err = startWorker(cfg.Command, env, pipe.Name(), cfg.ExtraEnv, p.log)
		if err != nil {
			pipe.Close()
			return nil, fmt.Errorf("orbital: bootstrap: %w", err)
		}
	}
	if err := p.Start(pipe); err != nil {
		pipe.Close()
		if w != nil {
			w.Terminate()
		}
		return nil, err
	}
	p.log.Info().Bool("worker", w != nil).Msg("created channel")
	return w, nil
}
