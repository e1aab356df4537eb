// Package journal keeps the append-only exchange log: one timestamped line
// per outbound peer message or email. The daily digest counts its lines.
package journal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/elee1766/p2prelay/src/clock"
)

const (
	timeLayout = "2006-01-02 15:04:05"
	dayLayout  = "2006-01-02"
)

// Journal appends lines to a log file. A nil *Journal or one without a
// path discards everything.
type Journal struct {
	fs    afero.Fs
	path  string
	clock clock.Clock
	mu    sync.Mutex
}

// New creates a journal writing to path on fs
func New(fs afero.Fs, path string, clk clock.Clock) *Journal {
	if clk == nil {
		clk = clock.Real()
	}
	return &Journal{fs: fs, path: path, clock: clk}
}

// Path returns the log file path
func (j *Journal) Path() string {
	if j == nil {
		return ""
	}
	return j.path
}

// Exists reports whether the log file has been created
func (j *Journal) Exists() bool {
	if j == nil || j.path == "" {
		return false
	}
	ok, _ := afero.Exists(j.fs, j.path)
	return ok
}

// Append writes "<timestamp> | <fields joined by ' | '>" as one line
func (j *Journal) Append(fields ...string) error {
	if j == nil || j.path == "" {
		return nil
	}

	line := j.clock.Now().Format(timeLayout) + " | " + strings.Join(fields, " | ")
	line = strings.ReplaceAll(line, "\n", " ")

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.fs.MkdirAll(filepath.Dir(j.path), 0755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}
	f, err := j.fs.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to write journal: %w", err)
	}
	return nil
}

// CountOn returns how many lines were written on the calendar day of t.
// A missing file counts zero.
func (j *Journal) CountOn(t time.Time) (int, error) {
	if j == nil || j.path == "" {
		return 0, nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := j.fs.Open(j.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	prefix := t.Format(dayLayout)
	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), prefix) {
			n++
		}
	}
	return n, scanner.Err()
}

// Clip shortens s to n runes followed by "..."
func Clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
