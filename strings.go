package h2client

var (
	StringPath          = []byte(":path")
	StringStatus        = []byte(":status")
	StringAuthority     = []byte(":authority")
	StringScheme        = []byte(":scheme")
	StringMethod        = []byte(":method")
	StringServer        = []byte("server")
	StringContentLength = []byte("content-length")
	StringContentType   = []byte("content-type")
	StringUserAgent     = []byte("user-agent")
	StringGzip          = []byte("gzip")
	StringGET           = []byte("GET")
	StringHEAD          = []byte("HEAD")
	StringPOST          = []byte("POST")
	StringHTTP2         = []byte("HTTP/2")
)

// ToLower lower-cases b in place and returns it. HTTP/2 requires header
// field names to be lowercase on the wire.
func ToLower(b []byte) []byte {
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}

	return b
}

const (
	// H2TLSProto is the ALPN protocol id for HTTP/2 over TLS.
	H2TLSProto = "h2"
	// H2Clean is the Upgrade header token for cleartext HTTP/2.
	H2Clean = "h2c"
)
