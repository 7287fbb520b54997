package h2client

import "bufio"

// ClientPreface is the fixed 24-octet sequence every HTTP/2 connection must
// begin with, so a misconfigured HTTP/1.1 peer fails fast and visibly.
//
// https://httpwg.org/specs/rfc7540.html#ConnectionHeader
const ClientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// WritePreface writes the client connection preface to bw. The caller is
// responsible for flushing.
func WritePreface(bw *bufio.Writer) error {
	_, err := bw.WriteString(ClientPreface)
	return err
}
