// Package output renders command results and transfer status for the terminal.
package output

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/eugenetaranov/boltsalt/internal/connector"
)

// Output handles formatted output.
type Output struct {
	w     io.Writer
	debug bool

	bold   *color.Color
	green  *color.Color
	red    *color.Color
	yellow *color.Color
	blue   *color.Color
	gray   *color.Color
}

// New creates a new output handler with colors enabled.
func New(w io.Writer) *Output {
	o := &Output{
		w:      w,
		bold:   color.New(color.Bold),
		green:  color.New(color.FgGreen),
		red:    color.New(color.FgRed),
		yellow: color.New(color.FgYellow),
		blue:   color.New(color.FgBlue),
		gray:   color.New(color.FgHiBlack),
	}
	o.SetColor(true)
	return o
}

// SetColor enables or disables color output.
func (o *Output) SetColor(enabled bool) {
	for _, c := range []*color.Color{o.bold, o.green, o.red, o.yellow, o.blue, o.gray} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
}

// SetDebug enables or disables debug output.
func (o *Output) SetDebug(enabled bool) {
	o.debug = enabled
}

// Result prints the outcome of a command on target.
// Format: [indicator] target | rc=N
func (o *Output) Result(target, cmd string, r *connector.Result) {
	indicator, c := "✓", o.green
	if r.ExitCode != 0 {
		indicator, c = "✗", o.red
	}

	o.printf("%s %s %s\n",
		c.Sprint(indicator),
		o.bold.Sprint(target),
		c.Sprintf("| rc=%d", r.ExitCode))

	if o.debug {
		o.printf("  %s %s\n", o.gray.Sprint("cmd:"), cmd)
	}
	o.block("stdout", r.Stdout)
	o.block("stderr", r.Stderr)
}

func (o *Output) block(name, s string) {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return
	}
	o.printf("  %s\n", o.gray.Sprint(name+":"))
	for _, line := range strings.Split(s, "\n") {
		o.printf("    %s\n", line)
	}
}

// Transfer prints a completed file transfer.
func (o *Output) Transfer(target, verb, src, dst string) {
	o.printf("%s %s %s %s %s %s\n",
		o.green.Sprint("✓"),
		o.bold.Sprint(target),
		o.gray.Sprint("|"),
		verb,
		src,
		o.gray.Sprint("→ ")+dst)
}

// Facts prints gathered facts sorted by key. Nested maps are flattened
// with dotted keys.
func (o *Output) Facts(target string, facts map[string]any) {
	o.printf("%s\n", o.bold.Sprint(target))

	flat := make(map[string]string)
	flatten("", facts, flat)

	keys := make([]string, 0, len(flat))
	width := 0
	for k := range flat {
		keys = append(keys, k)
		if len(k) > width {
			width = len(k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		o.printf("  %s %s\n", o.blue.Sprintf("%-*s", width, k), flat[k])
	}
}

func flatten(prefix string, in map[string]any, out map[string]string) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch vv := v.(type) {
		case map[string]any:
			flatten(key, vv, out)
		case map[string]string:
			for sk, sv := range vv {
				out[key+"."+sk] = sv
			}
		default:
			out[key] = fmt.Sprint(vv)
		}
	}
}

// Info prints an informational message.
func (o *Output) Info(format string, args ...any) {
	o.printf("%s %s\n", o.blue.Sprint("INFO"), fmt.Sprintf(format, args...))
}

// Warn prints a warning message.
func (o *Output) Warn(format string, args ...any) {
	o.printf("%s %s\n", o.yellow.Sprint("WARN"), fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (o *Output) Error(format string, args ...any) {
	o.printf("%s %s\n", o.red.Sprint("ERROR"), fmt.Sprintf(format, args...))
}

// Debug prints a debug message (only in debug mode).
func (o *Output) Debug(format string, args ...any) {
	if o.debug {
		o.printf("%s %s\n", o.gray.Sprint("DEBUG"), fmt.Sprintf(format, args...))
	}
}

func (o *Output) printf(format string, args ...any) {
	fmt.Fprintf(o.w, format, args...)
}
