// Package iox provides small I/O cleanup helpers.
package iox

import "io"

// maxDrain bounds how much of an unread response body DrainClose consumes.
const maxDrain = 64 << 10

// DiscardClose closes c and ignores the error, for defers where a close
// failure changes nothing:
//
//	defer iox.DiscardClose(store)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a func that closes c, for t.Cleanup:
//
//	t.Cleanup(iox.CloseFunc(client))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DrainClose reads and discards what is left of an HTTP response body, up
// to a bound, then closes it so the transport can reuse the connection.
//
//	defer iox.DrainClose(resp.Body)
func DrainClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, maxDrain))
	_ = rc.Close()
}
