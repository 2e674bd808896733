package utils

import (
	"bytes"
	"io"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/fatih/color"
)

var colors = []color.Attribute{color.FgYellow, color.FgGreen, color.FgRed, color.FgWhite, color.FgMagenta}
var index = -1

var l sync.Mutex

const MaxNameLength = 20

// ColorLogger prefixes every output line with a stage or job name in a
// rotating color. A line split across writes is prefixed once.
type ColorLogger struct {
	name    string
	writer  io.Writer
	c       color.Attribute
	midLine bool
}

func NewColorLogger(name string, writer io.Writer, newColor bool) io.Writer {
	l.Lock()
	defer l.Unlock()
	if newColor || index < 0 {
		index = (index + 1) % len(colors)
	}

	if len(name) > MaxNameLength {
		name = name[:MaxNameLength-3] + "..."
	}

	return &ColorLogger{
		name:   name,
		writer: writer,
		c:      colors[index],
	}
}

func (c *ColorLogger) Write(p []byte) (int, error) {
	out := color.New(c.c)
	written := 0
	for rest := p; len(rest) > 0; {
		line := rest
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			line = rest[:i+1]
		}
		if !c.midLine {
			if _, err := out.Fprint(c.writer, c.name, " | "); err != nil {
				return written, err
			}
		}
		if _, err := out.Fprintf(c.writer, "%s", line); err != nil {
			return written, err
		}
		written += len(line)
		c.midLine = line[len(line)-1] != '\n'
		rest = rest[len(line):]
	}
	return written, nil
}

// NewLogger returns a logger writing to w. Unknown levels fall back to info,
// unknown formats to text.
func NewLogger(level, format string, w io.Writer) *log.Logger {
	var lvl log.Level
	switch level {
	case "debug":
		lvl = log.DebugLevel
	case "warn":
		lvl = log.WarnLevel
	case "error":
		lvl = log.ErrorLevel
	default:
		lvl = log.InfoLevel
	}

	var formatter log.Formatter
	switch format {
	case "json":
		formatter = log.JSONFormatter
	case "logfmt":
		formatter = log.LogfmtFormatter
	default:
		formatter = log.TextFormatter
	}

	return log.NewWithOptions(w, log.Options{
		Level:     lvl,
		Formatter: formatter,
		Prefix:    "dotc",
	})
}
