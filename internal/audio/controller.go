// Package audio drives the amplifier attached to a receiver through
// user configured shell commands.
package audio

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds a single command run.
const DefaultTimeout = 10 * time.Second

// ErrNotConfigured indicates no command is set for the action.
var ErrNotConfigured = errors.New("command not configured")

// Commands are the shell commands for each action. Empty means disabled.
type Commands struct {
	BeforePlay string `json:"beforePlay,omitempty"`
	VolumeUp   string `json:"volumeUp,omitempty"`
	VolumeDown string `json:"volumeDown,omitempty"`
}

// Runner executes one command line.
type Runner func(ctx context.Context, command string) ([]byte, error)

// Controller runs the configured commands.
type Controller struct {
	cmds    Commands
	run     Runner
	timeout time.Duration
}

// Option is a functional option for configuring the controller.
type Option func(*Controller)

// WithRunner replaces the shell runner (useful for testing).
func WithRunner(run Runner) Option {
	return func(c *Controller) {
		c.run = run
	}
}

// WithTimeout sets the per-command timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.timeout = d
	}
}

// NewController creates a controller for cmds.
func NewController(cmds Commands, opts ...Option) *Controller {
	c := &Controller{
		cmds:    cmds,
		run:     shell,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func shell(ctx context.Context, command string) ([]byte, error) {
	return exec.CommandContext(ctx, "sh", "-c", command).CombinedOutput()
}

// LocalVolume reports whether volume is handled locally rather than by the receiver.
func (c *Controller) LocalVolume() bool {
	return c.cmds.VolumeUp != ""
}

// BeforePlay runs the before play command, if any.
func (c *Controller) BeforePlay(ctx context.Context) error {
	if c.cmds.BeforePlay == "" {
		return nil
	}
	return c.exec(ctx, "before-play", c.cmds.BeforePlay)
}

// VolumeUp runs the volume up command.
func (c *Controller) VolumeUp(ctx context.Context) error {
	return c.exec(ctx, "volume-up", c.cmds.VolumeUp)
}

// VolumeDown runs the volume down command.
func (c *Controller) VolumeDown(ctx context.Context) error {
	return c.exec(ctx, "volume-down", c.cmds.VolumeDown)
}

func (c *Controller) exec(ctx context.Context, action, command string) error {
	if command == "" {
		return fmt.Errorf("%s: %w", action, ErrNotConfigured)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.run(ctx, command)
	if err != nil {
		log.Warn().Err(err).Str("action", action).Str("output", strings.TrimSpace(string(out))).Msg("Local command failed")
		return fmt.Errorf("%s: %w", action, err)
	}
	log.Debug().Str("action", action).Msg("Local command done")
	return nil
}
