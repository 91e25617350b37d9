// Package wire holds the byte level pieces of the remote execution
// protocol: readiness waits on the serial descriptor, the receive buffer,
// the session frame codec and the line grammar.
//
// Remote output arrives as newline terminated lines:
//
//	<token>-READY
//	<token>-RUNNING
//	<token>-EXIT-<n>
//	1 <encoded stdout chunk>
//	2 <encoded stderr chunk>
//	Traceback ... | ERROR ...   (diagnostics, passed through verbatim)
//
// Local input is sent as one encoded chunk per line, and end of input as
// "\n\x04". Encoded text is base64 of a zlib stream that is sync flushed
// after every chunk, so it never contains a newline and every line can be
// decoded as soon as it arrives. Both directions keep one compression
// stream for the whole session; lines must be decoded exactly once and in
// order.
package wire
