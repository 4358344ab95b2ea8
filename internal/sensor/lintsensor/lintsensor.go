// Package lintsensor wraps a line-oriented lint subprocess (default: a
// grammar compatible with `shellcheck -f gcc`) and maps its severities to
// four signals — error_count, warning_count, info_count, style_count —
// the same four-bucket shape the kernel's pressure axes were originally
// modeled on. The sensor only counts; weighting them into a scalar
// pressure is the pressure engine's job, not this sensor's.
package lintsensor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"time"

	"github.com/pressurefield/kernel/internal/region"
)

// Name is the sensor's stable registry name.
const Name = "lintsensor"

// gccLine matches `path:line:col: severity: message`, the subset of the
// `-f gcc` grammar this sensor needs.
var gccLine = regexp.MustCompile(`^[^:]*:\d+:\d+:\s*(error|warning|info|style|note)\b`)

// Sensor invokes an external linter on region content via stdin and
// counts severities in its output. Referentially transparent as long as
// the underlying command is: same content in, same counts out.
type Sensor struct {
	command []string
	timeout time.Duration
}

// New constructs a lint sensor that runs command (e.g.
// []string{"shellcheck", "-f", "gcc", "-"}) against each region's content
// on stdin, with a per-invocation timeout.
func New(command []string, timeout time.Duration) *Sensor {
	return &Sensor{command: command, timeout: timeout}
}

// Name implements sensoractor.Sensor.
func (s *Sensor) Name() string { return Name }

// Measure implements sensoractor.Sensor. A nonzero exit status from the
// linter is not itself an error — lint subprocess conventions use it to
// mean "issues found" — only a failure to invoke the command at all (or a
// timeout) is reported as an error.
func (s *Sensor) Measure(view region.View) (region.Signals, error) {
	if len(s.command) == 0 {
		return region.Signals{}, fmt.Errorf("lintsensor: no command configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.command[0], s.command[1:]...)
	cmd.Stdin = bytes.NewReader(view.Content)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("lintsensor: run %v: %w", s.command, err)
		}
	}

	return countSeverities(stdout.Bytes()), nil
}

// countSeverities scans lint output line by line and buckets each
// recognised severity into its signal.
func countSeverities(output []byte) region.Signals {
	signals := region.Signals{
		"error_count":   0,
		"warning_count": 0,
		"info_count":    0,
		"style_count":   0,
	}
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		m := gccLine.FindSubmatch(scanner.Bytes())
		if m == nil {
			continue
		}
		switch string(m[1]) {
		case "error":
			signals["error_count"]++
		case "warning":
			signals["warning_count"]++
		case "info", "note":
			signals["info_count"]++
		case "style":
			signals["style_count"]++
		}
	}
	return signals
}
