// Package boundary isolates rendering faults of the dashboard mount region.
//
// A Boundary runs a render function into a buffer. A panic raised while rendering
// latches the boundary into its failed state and the fallback is written instead;
// the rest of the page keeps rendering. Errors returned by the render function are
// not caught: asynchronous failures must already be explicit state by then.
package boundary

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
)

// RenderError is a fault raised synchronously while rendering
type RenderError struct {
	Value any
	Stack string
}

func (e *RenderError) Error() string {
	if err, ok := e.Value.(error); ok {
		return err.Error()
	}
	return fmt.Sprintf("%v", e.Value)
}

// Unwrap exposes the panic value when it was an error
func (e *RenderError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

var fallbackTemplate = template.Must(template.New("fallback").Parse(`<div class="render-failure">
  <h2>Something went wrong embedding the dashboard.</h2>
  <details>
    <summary>Error Details</summary>
    <p><strong>Error:</strong> {{ .Err.Error }}</p>
    {{ if .Err.Stack }}<pre>{{ .Err.Stack }}</pre>{{ end }}
  </details>
  <p>Please check the dashgate logs for more details and report the error.</p>
  <form method="post" action="{{ .ReloadAction }}"><button type="submit">Reload Page</button></form>
</div>
`))

// Boundary wraps the embed mount region
type Boundary struct {
	reloadAction string
	logger       zerolog.Logger

	mu     sync.Mutex
	failed *RenderError
}

// New creates a boundary whose fallback offers a full reload by posting to reloadAction
func New(reloadAction string, logger zerolog.Logger) *Boundary {
	return &Boundary{
		reloadAction: reloadAction,
		logger:       logger,
	}
}

// Render writes the output of render to w, or the fallback if rendering panics
// now or has panicked before. Only errors returned by render, and write errors, are returned.
func (b *Boundary) Render(w io.Writer, render func(io.Writer) error) error {
	if failed := b.Failed(); failed != nil {
		return b.writeFallback(w, failed)
	}

	var buf bytes.Buffer
	renderErr, caught := b.run(&buf, render)
	if caught != nil {
		b.mu.Lock()
		if b.failed == nil {
			b.failed = caught
		}
		failed := b.failed
		b.mu.Unlock()

		b.logger.Error().
			Str("error", caught.Error()).
			Str("stack", caught.Stack).
			Msg("Render failure caught by boundary")
		return b.writeFallback(w, failed)
	}
	if renderErr != nil {
		return renderErr
	}

	_, err := buf.WriteTo(w)
	return err
}

// Failed returns the latched render error, if any
func (b *Boundary) Failed() *RenderError {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failed
}

// Reset clears the failed state. This is the full reload: nothing short of it recovers.
func (b *Boundary) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failed = nil
}

func (b *Boundary) run(w io.Writer, render func(io.Writer) error) (err error, caught *RenderError) {
	defer func() {
		if r := recover(); r != nil {
			caught = &RenderError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return render(w), nil
}

func (b *Boundary) writeFallback(w io.Writer, failed *RenderError) error {
	return fallbackTemplate.Execute(w, struct {
		Err          *RenderError
		ReloadAction string
	}{
		Err:          failed,
		ReloadAction: b.reloadAction,
	})
}
