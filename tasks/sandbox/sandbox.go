// Package sandbox provides an LLM-streaming-capable dagflow Task that runs
// a shell command inside a throwaway container and streams its stdout as
// the task's text stream, using github.com/docker/docker's client and
// github.com/docker/go-connections for port/address handling conventions.
//
// It demonstrates the on-error hook (dagflow.WithOnError) against a real
// fallible I/O boundary: container creation or start can fail independently
// of the command's own exit status.
package sandbox

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/flowforge/dagflow"
)

// Option configures a Task.
type Option func(*config)

type config struct {
	image   string
	timeout time.Duration
}

// WithImage overrides the default "alpine:3" image.
func WithImage(image string) Option {
	return func(c *config) { c.image = image }
}

// WithTimeout bounds how long the container is allowed to run.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New builds an LLM-streaming Task named name that reads a "command" key
// from its input, runs it as `/bin/sh -c <command>` inside a throwaway
// container, and streams stdout as the task's text stream. The container's
// exit code is returned under the "exit_code" output key.
func New(name string, opts ...Option) *dagflow.Task {
	cfg := config{image: "alpine:3", timeout: 30 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}

	return dagflow.NewLLMStreamingTask(name, func(ctx context.Context, input map[string]any) (dagflow.LLMStreamHandles, error) {
		command, _ := input["command"].(string)
		if command == "" {
			return dagflow.LLMStreamHandles{}, fmt.Errorf("sandbox: missing %q input", "command")
		}

		cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
		if err != nil {
			return dagflow.LLMStreamHandles{}, fmt.Errorf("sandbox: docker client: %w", err)
		}

		runCtx, cancel := context.WithTimeout(ctx, cfg.timeout)

		created, err := cli.ContainerCreate(runCtx, &container.Config{
			Image:      cfg.image,
			Cmd:        []string{"/bin/sh", "-c", command},
			Tty:        false,
			AttachStdout: true,
			AttachStderr: true,
		}, &container.HostConfig{
			AutoRemove: true,
			// nat.PortMap exists for parity with services that publish ports;
			// a command sandbox publishes none.
			PortBindings: nat.PortMap{},
		}, nil, nil, "")
		if err != nil {
			cancel()
			cli.Close()
			return dagflow.LLMStreamHandles{}, fmt.Errorf("sandbox: create container: %w", err)
		}

		attach, err := cli.ContainerAttach(runCtx, created.ID, container.AttachOptions{
			Stream: true, Stdout: true, Stderr: true,
		})
		if err != nil {
			cancel()
			cli.Close()
			return dagflow.LLMStreamHandles{}, fmt.Errorf("sandbox: attach: %w", err)
		}

		if err := cli.ContainerStart(runCtx, created.ID, container.StartOptions{}); err != nil {
			attach.Close()
			cancel()
			cli.Close()
			return dagflow.LLMStreamHandles{}, fmt.Errorf("sandbox: start container: %w", err)
		}

		textCh := make(chan string)
		eventsCh := make(chan dagflow.LLMEvent, 4)
		done := make(chan dagflow.TaskDoneSignal, 1)

		eventsCh <- dagflow.LLMEvent{Kind: "container_started", TaskName: name, Data: map[string]any{"container_id": created.ID}}

		go func() {
			defer cancel()
			defer cli.Close()
			defer attach.Close()
			defer close(textCh)
			defer close(eventsCh)

			pr, pw := io.Pipe()
			go func() {
				_, copyErr := stdcopy.StdCopy(pw, io.Discard, attach.Reader)
				pw.CloseWithError(copyErr)
			}()

			scanner := bufio.NewScanner(pr)
			for scanner.Scan() {
				textCh <- scanner.Text() + "\n"
			}

			statusCh, errCh := cli.ContainerWait(context.Background(), created.ID, container.WaitConditionNotRunning)
			var exitCode int64
			var waitErr error
			select {
			case err := <-errCh:
				waitErr = err
			case status := <-statusCh:
				exitCode = status.StatusCode
			}

			output := map[string]any{"exit_code": exitCode}
			switch {
			case waitErr != nil:
				done <- dagflow.TaskDoneSignal{Output: output, Err: fmt.Errorf("sandbox: wait: %w", waitErr)}
			case exitCode != 0:
				done <- dagflow.TaskDoneSignal{Output: output, Err: fmt.Errorf("sandbox: command exited %d", exitCode)}
			default:
				done <- dagflow.TaskDoneSignal{Output: output}
			}
		}()

		return dagflow.LLMStreamHandles{
			Text:   textCh,
			Events: eventsCh,
			Done:   done,
		}, nil
	}, dagflow.WithOnError(func(ctx context.Context, attempt int, err error) {
		// Container-lifecycle failures (image missing, daemon down) are
		// logged here rather than left silent between retries.
		if strings.Contains(err.Error(), "create container") || strings.Contains(err.Error(), "start container") {
			fmt.Printf("sandbox: attempt %d failed before the command ran: %v\n", attempt, err)
		}
	}))
}
