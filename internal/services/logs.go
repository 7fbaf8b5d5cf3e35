package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"projectctl/internal/errdefs"
	"projectctl/internal/project"
)

// Logs writes the last `lines` lines of a service's output to w and, when
// follow is set, keeps streaming until ctx is cancelled.
func (o *Orchestrator) Logs(ctx context.Context, p project.Project, service string, lines int, follow bool, w io.Writer) error {
	targets, err := o.targets(p, []string{service})
	if err != nil {
		return err
	}
	t := targets[0]

	if t.spec.Kind == project.KindProcess {
		return TailFile(ctx, o.opts.LogPath(p.Name, service), lines, follow, w)
	}
	file, err := t.composeFile()
	if err != nil {
		return err
	}
	return o.compose.Logs(ctx, t.plan.Dir, file, service, lines, follow, w)
}

// TailFile prints the last n lines of path, then follows appended data
// using fsnotify when follow is set.
func TailFile(ctx context.Context, path string, n int, follow bool, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("no log file at %s: %w", path, errdefs.ErrNotFound)
		}
		return err
	}
	defer f.Close()

	if err := writeLastLines(f, n, w); err != nil {
		return err
	}
	if !follow {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}
	defer watcher.Close()
	// Watch the directory so truncation and re-creation are seen too.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watching %s: %w", path, err)
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Write):
				if err := rewindIfTruncated(f); err != nil {
					return err
				}
				if _, err := io.Copy(w, f); err != nil {
					return err
				}
			case ev.Has(fsnotify.Create):
				// Rotated: start over on the new file.
				nf, err := os.Open(path)
				if err != nil {
					continue
				}
				f.Close()
				f = nf
				if _, err := io.Copy(w, f); err != nil {
					return err
				}
			}
		}
	}
}

// rewindIfTruncated seeks f back to the start when the file was truncated
// in place (copytruncate rotation) below the current read offset.
func rewindIfTruncated(f *os.File) error {
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	off, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if fi.Size() < off {
		_, err = f.Seek(0, io.SeekStart)
	}
	return err
}

// writeLastLines copies the last n lines of r to w and leaves r positioned
// at its end.
func writeLastLines(r io.Reader, n int, w io.Writer) error {
	if n <= 0 {
		_, err := io.Copy(io.Discard, r)
		return err
	}
	ring := make([]string, 0, n)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return err
	}
	for _, line := range ring {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
