package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsole_Quiet(t *testing.T) {
	var stdout, stderr bytes.Buffer
	c := &console{stdout: &stdout, stderr: &stderr}

	c.banner("Health: %s\n", "http://0.0.0.0:8080/healthz")
	c.warn("shutdown incomplete\n")
	assert.Equal(t, "Health: http://0.0.0.0:8080/healthz\n", stdout.String())
	assert.Equal(t, "dealflow: shutdown incomplete\n", stderr.String())

	stdout.Reset()
	stderr.Reset()
	c.setQuiet(true)
	c.banner("hidden\n")
	c.warn("hidden\n")
	assert.Empty(t, stdout.String())
	assert.Empty(t, stderr.String())

	// Exit reasons bypass quiet mode
	c.write(c.stderr, true, "dealflow: config missing\n")
	assert.Equal(t, "dealflow: config missing\n", stderr.String())
}
