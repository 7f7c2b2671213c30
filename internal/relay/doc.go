// Package relay pipes bytes between a client connection and a backend
// connection. It does no protocol parsing.
//
// Each direction runs in its own goroutine and copies in fixed-size chunks
// until the source reports EOF or an error. A clean EOF half-closes the
// destination so the peer sees the end of the stream while the other
// direction keeps flowing. Any other failure, or cancellation of the context,
// closes both connections so neither goroutine can outlive the session.
package relay
