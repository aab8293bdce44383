package main

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// console is operator-facing terminal text, separate from the service
// logger: the endpoint banner on stdout and problems on stderr. Quiet mode
// hides the banner and warnings but never the reason for exiting.
type console struct {
	mu     sync.Mutex
	quiet  bool
	stdout io.Writer
	stderr io.Writer
}

var term = &console{stdout: os.Stdout, stderr: os.Stderr}

func (c *console) setQuiet(quiet bool) {
	c.mu.Lock()
	c.quiet = quiet
	c.mu.Unlock()
}

func (c *console) write(w io.Writer, always bool, format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.quiet && !always {
		return
	}
	fmt.Fprintf(w, format, args...)
}

// banner prints startup information such as listening endpoints.
func (c *console) banner(format string, args ...any) {
	c.write(c.stdout, false, format, args...)
}

// warn reports a problem the process survives.
func (c *console) warn(format string, args ...any) {
	c.write(c.stderr, false, "dealflow: "+format, args...)
}

// exit prints why the process stops, even when quiet, then exits.
func (c *console) exit(code int, format string, args ...any) {
	c.write(c.stderr, true, "dealflow: "+format, args...)
	os.Exit(code)
}
