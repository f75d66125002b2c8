package rclone

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Stream yields the entries of a running `rclone lsjson` one at a time.
// Next and Close belong to the consuming goroutine; Terminate may be called
// from anywhere.
type Stream struct {
	target string
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *limitedBuffer
	dec    *entryDecoder

	waitOnce sync.Once
	waitErr  error
}

func newStream(target string, cmd *exec.Cmd, stdout io.ReadCloser, stderr *limitedBuffer) *Stream {
	return &Stream{
		target: target,
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		dec:    newEntryDecoder(stdout),
	}
}

// Next returns the next entry, or io.EOF once rclone has listed everything
// and exited cleanly.
func (s *Stream) Next() (Entry, error) {
	e, err := s.dec.next()
	if err == nil {
		return e, nil
	}
	if errors.Is(err, io.EOF) {
		if werr := s.wait(); werr != nil {
			return Entry{}, commandError(s.target, werr, s.stderr.String())
		}
		if !s.dec.opened {
			return Entry{}, fmt.Errorf("listing %s: rclone produced no output", s.target)
		}
		return Entry{}, io.EOF
	}

	_ = s.Terminate()
	_ = s.wait()
	if msg := strings.TrimSpace(s.stderr.String()); msg != "" {
		return Entry{}, fmt.Errorf("decoding listing of %s: %w (rclone: %s)", s.target, err, msg)
	}
	return Entry{}, fmt.Errorf("decoding listing of %s: %w", s.target, err)
}

// Terminate kills the rclone process. Safe to call more than once and from
// any goroutine.
func (s *Stream) Terminate() error {
	if s.cmd.Process == nil {
		return nil
	}
	if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing rclone: %w", err)
	}
	return nil
}

// Close stops rclone if it is still running and reaps it.
func (s *Stream) Close() error {
	_ = s.Terminate()
	_ = s.wait()
	return nil
}

func (s *Stream) wait() error {
	s.waitOnce.Do(func() {
		// Drain so rclone is never blocked writing to a full pipe.
		_, _ = io.Copy(io.Discard, s.stdout)
		s.waitErr = s.cmd.Wait()
	})
	return s.waitErr
}

// entryDecoder reads a JSON array of entries element by element.
type entryDecoder struct {
	dec    *json.Decoder
	opened bool
	closed bool
	count  int
}

func newEntryDecoder(r io.Reader) *entryDecoder {
	return &entryDecoder{dec: json.NewDecoder(r)}
}

func (d *entryDecoder) next() (Entry, error) {
	if d.closed {
		return Entry{}, io.EOF
	}
	if !d.opened {
		tok, err := d.dec.Token()
		if err != nil {
			return Entry{}, err
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			return Entry{}, fmt.Errorf("expected '[' got %v", tok)
		}
		d.opened = true
	}

	if !d.dec.More() {
		tok, err := d.dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Entry{}, io.ErrUnexpectedEOF
			}
			return Entry{}, err
		}
		if delim, ok := tok.(json.Delim); !ok || delim != ']' {
			return Entry{}, fmt.Errorf("expected ']' got %v", tok)
		}
		d.closed = true
		return Entry{}, io.EOF
	}

	var e streamedEntry
	if err := d.dec.Decode(&e); err != nil {
		if errors.Is(err, io.EOF) {
			return Entry{}, io.ErrUnexpectedEOF
		}
		return Entry{}, err
	}
	d.count++
	return Entry{Path: e.Path, Name: e.Name, Size: e.Size, IsDir: e.IsDir}, nil
}

// streamedEntry is the subset of an lsjson object a recursive listing needs.
// Listings run with --no-modtime print "ModTime":"", which time.Time refuses,
// so the field is left out and ignored.
type streamedEntry struct {
	Path  string `json:"Path"`
	Name  string `json:"Name"`
	Size  int64  `json:"Size"`
	IsDir bool   `json:"IsDir"`
}
