package job

import (
	"errors"
	"fmt"
)

// Sentinel errors for each failing step of a compilation job.
var (
	ErrWorkspace       = errors.New("workspace allocation failed")
	ErrAsset           = errors.New("static asset missing")
	ErrCompilation     = errors.New("LaTeX compilation failed")
	ErrArtifactMissing = errors.New("PDF was not generated")
	ErrPublish         = errors.New("publishing PDF failed")
	ErrTimeout         = errors.New("LaTeX compilation timed out")
)

// CompilationError reports a compiler run that did not succeed. The compiler's
// stderr is kept verbatim and ends up in the HTTP response.
type CompilationError struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *CompilationError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %s", ErrCompilation.Error(), e.Stderr)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", ErrCompilation.Error(), e.Err)
	}
	return fmt.Sprintf("%s: exit status %d", ErrCompilation.Error(), e.ExitCode)
}

// Is makes errors.Is(err, ErrCompilation) match.
func (e *CompilationError) Is(target error) bool {
	return target == ErrCompilation
}

func (e *CompilationError) Unwrap() error {
	return e.Err
}
