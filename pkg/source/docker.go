package source

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// Container is a running container a stream can attach to.
type Container struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`
}

// DockerSource streams query events out of container logs via the
// Docker API.
type DockerSource struct {
	cli  *client.Client
	Tail string // how much history to replay on attach, e.g. "1000"
}

func NewDockerSource() (*DockerSource, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerSource{cli: cli, Tail: "1000"}, nil
}

func (d *DockerSource) Close() error {
	return d.cli.Close()
}

// ListContainers returns the running containers.
func (d *DockerSource) ListContainers(ctx context.Context) ([]Container, error) {
	summary, err := d.cli.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	containers := make([]Container, 0, len(summary))
	for _, c := range summary {
		name := c.ID[:12]
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		containers = append(containers, Container{
			ID:    c.ID,
			Name:  name,
			Image: c.Image,
		})
	}
	return containers, nil
}

// StreamByName resolves a container by name (or ID prefix) and streams
// its logs.
func (d *DockerSource) StreamByName(ctx context.Context, name string, out chan<- Event) error {
	containers, err := d.ListContainers(ctx)
	if err != nil {
		return err
	}
	for _, c := range containers {
		if c.Name == name || strings.HasPrefix(c.ID, name) {
			return d.Stream(ctx, c.ID, c.Name, out)
		}
	}
	return fmt.Errorf("no running container matches %q", name)
}

// Stream follows a container's logs until the context is cancelled or
// the stream ends. Multi-line statements are merged back into the
// entry that started them before extraction.
func (d *DockerSource) Stream(ctx context.Context, containerID, sourceName string, out chan<- Event) error {
	info, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return fmt.Errorf("failed to inspect container: %w", err)
	}

	rc, err := d.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Tail:       d.Tail,
	})
	if err != nil {
		return fmt.Errorf("failed to attach to container logs: %w", err)
	}
	defer rc.Close()

	var stream io.Reader = rc
	if !info.Config.Tty {
		// Non-TTY logs are multiplexed; demux stdout and stderr into
		// one line stream.
		pr, pw := io.Pipe()
		go func() {
			_, copyErr := stdcopy.StdCopy(pw, pw, rc)
			pw.CloseWithError(copyErr)
		}()
		stream = pr
	}

	return d.scanStream(ctx, stream, sourceName, out)
}

func (d *DockerSource) scanStream(ctx context.Context, r io.Reader, sourceName string, out chan<- Event) error {
	scanner := newLineScanner(r)

	var pending []string
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		joined := strings.Join(pending, "\n")
		pending = nil
		return sendEvent(ctx, joined, sourceName, out)
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		switch {
		case startsEntry(line):
			if err := flush(); err != nil {
				return err
			}
			pending = []string{line}
		case len(pending) > 0 && isIndented(line):
			// Indented lines continue the previous entry. Wrapped
			// statements keep their trailing field line this way.
			pending = append(pending, trimmed)
		default:
			if err := flush(); err != nil {
				return err
			}
			if err := sendEvent(ctx, line, sourceName, out); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read container logs: %w", err)
	}
	return ctx.Err()
}

// startsEntry reports whether a line opens a new log entry rather than
// continuing or standing alone.
func startsEntry(line string) bool {
	e := ParseLine(line)
	return e.IsJSON || e.Timestamp != ""
}

func isIndented(line string) bool {
	return strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")
}

func sendEvent(ctx context.Context, line, sourceName string, out chan<- Event) error {
	ev := Extract(ParseLine(line), sourceName)
	if ev == nil {
		return nil
	}
	select {
	case out <- *ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
