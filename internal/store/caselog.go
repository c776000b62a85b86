package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BTreeMap/MedSynth/internal/models"
	"github.com/BTreeMap/MedSynth/internal/normalize"
	"github.com/tidwall/gjson"
)

// ResumeState is what a previous run left behind in the case log.
type ResumeState struct {
	// NextID is one past the largest integer case_id seen, or 1.
	NextID int
	// Done holds the dedup keys of every logged seed complaint.
	Done map[string]struct{}
	// Lines and Skipped count the lines read and the lines ignored.
	Lines   int
	Skipped int
}

// HasDone reports whether key was already logged.
func (s ResumeState) HasDone(key string) bool {
	_, ok := s.Done[key]
	return ok
}

// ReplayCaseLog scans an NDJSON case log. Each line is judged on its own:
// blank lines and lines that are not JSON objects are skipped, so a torn
// final line never blocks a resume. A missing file yields a fresh state.
func ReplayCaseLog(path string) (ResumeState, error) {
	state := ResumeState{NextID: 1, Done: make(map[string]struct{})}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("failed to open case log %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		line, readErr := r.ReadBytes('\n')
		if len(line) > 0 {
			state.Lines++
			if !replayLine(&state, line) {
				state.Skipped++
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return state, fmt.Errorf("failed to read case log %s: %w", path, readErr)
		}
	}
	slog.Info("ReplayCaseLog: resume state loaded", "path", path, "next_id", state.NextID, "done", len(state.Done), "lines", state.Lines, "skipped", state.Skipped)
	return state, nil
}

func replayLine(state *ResumeState, line []byte) bool {
	if !gjson.ValidBytes(line) {
		return false
	}
	doc := gjson.ParseBytes(line)
	if !doc.IsObject() {
		return false
	}
	if id := doc.Get("case_id"); id.Type == gjson.Number {
		if n, err := strconv.Atoi(id.Raw); err == nil && n+1 > state.NextID {
			state.NextID = n + 1
		}
	}
	if c := doc.Get("seed_info.complaint"); c.Type == gjson.String {
		if key := normalize.Key(c.String()); key != "" {
			state.Done[key] = struct{}{}
		}
	}
	return true
}

// CaseLog appends one JSON object per line to the case log file.
type CaseLog struct {
	path   string
	file   *os.File
	w      *bufio.Writer
	closed bool
}

// OpenCaseLog opens path for appending, or truncates it when overwrite is set.
// A torn final line left by a crash is terminated before new records follow.
func OpenCaseLog(path string, overwrite bool) (*CaseLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create case log directory: %w", err)
	}
	flags := os.O_CREATE | os.O_RDWR | os.O_APPEND
	if overwrite {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open case log %s: %w", path, err)
	}
	l := &CaseLog{path: path, file: f, w: bufio.NewWriter(f)}
	if err := l.terminateTornLine(); err != nil {
		f.Close()
		return nil, err
	}
	slog.Debug("OpenCaseLog: opened", "path", path, "overwrite", overwrite)
	return l, nil
}

func (l *CaseLog) terminateTornLine() error {
	info, err := l.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat case log: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := l.file.ReadAt(last, info.Size()-1); err != nil {
		return fmt.Errorf("failed to read case log tail: %w", err)
	}
	if last[0] == '\n' {
		return nil
	}
	slog.Warn("CaseLog: terminating torn final line", "path", l.path)
	_, err = l.file.Write([]byte{'\n'})
	return err
}

// Path returns the log file path.
func (l *CaseLog) Path() string { return l.path }

// Append writes c as a single line and flushes it to the OS.
func (l *CaseLog) Append(c models.Case) error {
	if l.closed {
		return ErrCaseLogClosed
	}
	enc := json.NewEncoder(l.w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to write case %d: %w", c.CaseID, err)
	}
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush case %d: %w", c.CaseID, err)
	}
	return nil
}

// Sync flushes buffered data and fsyncs the file.
func (l *CaseLog) Sync() error {
	if l.closed {
		return ErrCaseLogClosed
	}
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush case log: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync case log: %w", err)
	}
	return nil
}

// Close syncs and closes the file. Further calls are no-ops.
func (l *CaseLog) Close() error {
	if l.closed {
		return nil
	}
	syncErr := l.Sync()
	l.closed = true
	closeErr := l.file.Close()
	return errors.Join(syncErr, closeErr)
}
