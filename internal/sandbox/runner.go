package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Result carries captured execution output. Execution failures are data, not
// errors: callers branch on the Error field.
type Result struct {
	Output        string `json:"output"`
	Error         string `json:"error,omitempty"`
	ExecutionTime int64  `json:"executionTime"`
}

// Language describes how one toolchain runs a snippet: the source file name
// and the command sequence (compile steps first, run step last) executed
// inside the ephemeral directory.
type Language struct {
	FileName func(code string) string
	Steps    func(fileName string) [][]string
}

const (
	// DefaultTimeout bounds one invocation's wall clock.
	DefaultTimeout = 10 * time.Second
	// outputCap bounds each captured stream.
	outputCap = 1 << 20
)

var javaClassPattern = regexp.MustCompile(`public\s+class\s+([A-Za-z_][A-Za-z0-9_]*)`)

// DefaultLanguages returns the supported toolchain table, keyed by
// lower-cased language name.
func DefaultLanguages() map[string]Language {
	return map[string]Language{
		"python": {
			FileName: func(string) string { return "main.py" },
			Steps:    func(f string) [][]string { return [][]string{{"python3", f}} },
		},
		"javascript": {
			FileName: func(string) string { return "main.js" },
			Steps:    func(f string) [][]string { return [][]string{{"node", f}} },
		},
		"java": {
			// The source file must be named after the public class; "Main"
			// when no public class declaration is found.
			FileName: func(code string) string {
				if m := javaClassPattern.FindStringSubmatch(code); m != nil {
					return m[1] + ".java"
				}
				return "Main.java"
			},
			Steps: func(f string) [][]string {
				class := strings.TrimSuffix(f, ".java")
				return [][]string{{"javac", f}, {"java", class}}
			},
		},
		"cpp": {
			FileName: func(string) string { return "main.cpp" },
			Steps: func(f string) [][]string {
				return [][]string{{"g++", "-O0", "-o", "main", f}, {"./main"}}
			},
		},
	}
}

// Runner executes untrusted snippets in ephemeral working directories.
type Runner struct {
	timeout   time.Duration
	languages map[string]Language
	logger    zerolog.Logger
}

func NewRunner(timeout time.Duration, languages map[string]Language, logger zerolog.Logger) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{timeout: timeout, languages: languages, logger: logger}
}

// Execute runs the snippet and returns whatever it produced. The working
// directory is removed on every exit path.
func (r *Runner) Execute(ctx context.Context, code, language string) Result {
	start := time.Now()
	lang, ok := r.languages[strings.ToLower(language)]
	if !ok {
		return Result{
			Error:         fmt.Sprintf("Unsupported language: %s", language),
			ExecutionTime: time.Since(start).Milliseconds(),
		}
	}

	dir, err := os.MkdirTemp("", "onewise-run-")
	if err != nil {
		r.logger.Error().Err(err).Msg("create sandbox dir")
		return Result{Error: "Failed to prepare execution environment", ExecutionTime: time.Since(start).Milliseconds()}
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			r.logger.Warn().Err(err).Str("dir", dir).Msg("sandbox cleanup failed")
		}
	}()

	fileName := lang.FileName(code)
	if err := os.WriteFile(filepath.Join(dir, fileName), []byte(code), 0o644); err != nil {
		r.logger.Error().Err(err).Msg("write sandbox source")
		return Result{Error: "Failed to prepare execution environment", ExecutionTime: time.Since(start).Milliseconds()}
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var stdout string
	for _, argv := range lang.Steps(fileName) {
		out, stderr, err := runStep(runCtx, dir, argv)
		stdout = out
		if err != nil {
			errMsg := stderr
			if errMsg == "" {
				if runCtx.Err() == context.DeadlineExceeded {
					errMsg = fmt.Sprintf("Execution timed out after %s", r.timeout)
				} else {
					errMsg = err.Error()
				}
			} else if runCtx.Err() == context.DeadlineExceeded {
				errMsg = fmt.Sprintf("Execution timed out after %s\n%s", r.timeout, errMsg)
			}
			return Result{
				Output:        stdout,
				Error:         errMsg,
				ExecutionTime: time.Since(start).Milliseconds(),
			}
		}
	}

	return Result{Output: stdout, ExecutionTime: time.Since(start).Milliseconds()}
}

func runStep(ctx context.Context, dir string, argv []string) (stdout, stderr string, err error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir

	var outBuf, errBuf cappedBuffer
	outBuf.limit = outputCap
	errBuf.limit = outputCap
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err = cmd.Run()
	return strings.TrimRight(outBuf.String(), " \t\r\n"), strings.TrimRight(errBuf.String(), " \t\r\n"), err
}

// cappedBuffer keeps the first limit bytes and silently drops the rest, so a
// runaway snippet cannot balloon memory.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if remaining := b.limit - b.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
		} else {
			b.buf.Write(p)
		}
	}
	// Report full consumption so the child never sees a write error.
	return len(p), nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }
