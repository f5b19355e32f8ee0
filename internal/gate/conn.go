package gate

import "io"

// conn abstracts the byte-stream a Gate multiplexes frames over: an
// SSH session's stdio for a remote host, or a local subprocess's stdio
// for a host with TransportLocal. Both satisfy the same frame protocol
// (C7/C8), so Gate itself never needs to know which kind it holds.
type conn interface {
	Stdin() io.Writer
	Stdout() io.Reader
	Close() error
}
