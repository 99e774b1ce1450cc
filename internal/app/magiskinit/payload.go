// Package magiskinit wires the embedded build payloads to the bootstrap
// package and implements applet dispatch for the PID-1 binary (spec.md
// §4.6, §4.2 "Applet dispatch").
package magiskinit

import (
	"bytes"
	_ "embed"
	"io"

	"github.com/magiskd/magiskd/internal/pkg/bootstrap"
)

//go:embed data/daemon.lzma
var daemonPayload []byte

//go:embed data/initscript.lzma
var initScriptPayload []byte

//go:embed data/manager.lzma
var managerPayload []byte

// embeddedPayloads is the production bootstrap.PayloadSource, backed by
// the three build artifacts go:embed captured above.
type embeddedPayloads struct{}

func (embeddedPayloads) Daemon() (io.Reader, error) {
	return bytes.NewReader(daemonPayload), nil
}

func (embeddedPayloads) InitScript() (io.Reader, error) {
	return bytes.NewReader(initScriptPayload), nil
}

func (embeddedPayloads) Manager() (io.Reader, error) {
	return bytes.NewReader(managerPayload), nil
}

// Payloads is the bootstrap.PayloadSource this build carries.
var Payloads bootstrap.PayloadSource = embeddedPayloads{}
