package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

const (
	// SQL statements blow past bufio's default line limit.
	maxLineSize     = 1024 * 1024
	defaultInterval = 500 * time.Millisecond
)

// FileSource reads log lines from a file, or stdin when Path is "-".
// With Follow set it keeps polling for appended lines until the
// context is cancelled, and starts over when the file is truncated.
type FileSource struct {
	Path     string
	Name     string // source label stamped on records; defaults to Path
	Follow   bool
	Interval time.Duration
}

func (f *FileSource) label() string {
	if f.Name != "" {
		return f.Name
	}
	return f.Path
}

// Run parses the file and sends events on out. The caller owns the
// channel; Run never closes it.
func (f *FileSource) Run(ctx context.Context, out chan<- Event) error {
	if f.Path == "-" {
		return f.scan(ctx, os.Stdin, out)
	}

	file, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	if err := f.scan(ctx, file, out); err != nil {
		return err
	}
	if !f.Follow {
		return nil
	}
	return f.tail(ctx, file, out)
}

func (f *FileSource) scan(ctx context.Context, r io.Reader, out chan<- Event) error {
	scanner := newLineScanner(r)

	for scanner.Scan() {
		if err := f.send(ctx, scanner.Text(), out); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read log file: %w", err)
	}
	return nil
}

func (f *FileSource) tail(ctx context.Context, file *os.File, out chan<- Event) error {
	interval := f.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	offset, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("failed to get file offset: %w", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	reader := bufio.NewReaderSize(file, 64*1024)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		info, err := file.Stat()
		if err != nil {
			return fmt.Errorf("failed to stat log file: %w", err)
		}
		if info.Size() < offset {
			// Truncated, likely rotated in place.
			if _, err := file.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("failed to rewind log file: %w", err)
			}
			offset = 0
			reader.Reset(file)
		}

		for {
			line, err := reader.ReadString('\n')
			if line != "" && err == nil {
				offset += int64(len(line))
				if sendErr := f.send(ctx, line, out); sendErr != nil {
					return sendErr
				}
				continue
			}
			if err == io.EOF {
				// Partial line stays buffered until the rest arrives.
				if line != "" {
					if _, seekErr := file.Seek(offset, io.SeekStart); seekErr != nil {
						return fmt.Errorf("failed to rewind partial line: %w", seekErr)
					}
					reader.Reset(file)
				}
				break
			}
			if err != nil {
				return fmt.Errorf("failed to read log file: %w", err)
			}
		}
	}
}

func (f *FileSource) send(ctx context.Context, line string, out chan<- Event) error {
	ev := Extract(ParseLine(line), f.label())
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
