package h2client

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"
)

// Conn is one HTTP/2 connection to a single peer: a single reader goroutine,
// a single writer goroutine, and the shared state (stream table, flow
// control windows, HPACK codec) they coordinate through.
//
// All exported methods are safe for concurrent use.
type Conn struct {
	cfg    Config
	logger zerolog.Logger

	c  net.Conn
	br *bufio.Reader
	bw *bufio.Writer

	enc *Encoder
	dec *Decoder

	nextStreamID uint32 // atomic, client-initiated odd stream ids

	streams *Streams

	flowMu         sync.Mutex
	connSendWindow int32
	connRecvWindow int32
	flowSignal     chan struct{}

	settingsMu           sync.RWMutex
	peerSettings         Settings
	peerSettingsReceived bool
	localSettingsAcked   bool

	// headerMu serializes an outbound header block's HPACK encoding with its
	// enqueue onto writeCh, so the encoder's dynamic table evolves in the
	// same order frames actually leave on the wire.
	headerMu sync.Mutex

	writeMu sync.Mutex
	writeCh chan *FrameHeader

	closeCh    chan struct{}
	closed     int32
	closeErrMu sync.Mutex
	closeErr   error

	estOnce       sync.Once
	establishedCh chan struct{}

	goneAway int32

	unackedPings int32
	pingMu       sync.Mutex
	pingWait     chan time.Duration

	// CONTINUATION sequence state. Touched only by the reader goroutine, so
	// it needs no lock.
	contActive     bool
	contStreamID   uint32
	contFrameCount int
	contBytes      int
	contDeadline   time.Time

	wg sync.WaitGroup
}

// NewConn wraps an already-connected net.Conn (TLS handshake, if any,
// already done) in a Conn ready for Establish.
func NewConn(nc net.Conn, cfg Config) *Conn {
	if cfg.InitialWindowSize == 0 {
		cfg.InitialWindowSize = DefaultInitialWindowSize
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = DefaultMaxFrameSize
	}
	if cfg.HpackLimits == (HpackSecurityLimits{}) {
		cfg.HpackLimits = DefaultHpackSecurityLimits()
	}

	c := &Conn{
		cfg:            cfg,
		logger:         cfg.Logger,
		c:              nc,
		br:             bufio.NewReaderSize(nc, 4096),
		bw:             bufio.NewWriterSize(nc, int(cfg.MaxFrameSize)+DefaultFrameSize),
		enc:            NewEncoder(),
		dec:            NewDecoder(),
		nextStreamID:   1,
		streams:        &Streams{},
		connSendWindow: DefaultInitialWindowSize,
		connRecvWindow: int32(cfg.InitialWindowSize),
		flowSignal:     make(chan struct{}),
		writeCh:        make(chan *FrameHeader, 128),
		closeCh:        make(chan struct{}),
		establishedCh:  make(chan struct{}),
	}

	c.dec.SetLimits(cfg.HpackLimits)
	c.enc.SetMaxTableSize(int(cfg.HeaderTableSize))
	c.dec.SetMaxTableSize(int(cfg.HeaderTableSize))

	return c
}

// Dial opens network/addr, performs TLS + ALPN (unless cfg.PriorKnowledge),
// and brings up the HTTP/2 connection (preface, SETTINGS exchange).
func Dial(ctx context.Context, network, addr string, cfg Config) (*Conn, error) {
	dialer := &net.Dialer{}

	rawConn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	var nc net.Conn = rawConn

	if !cfg.PriorKnowledge {
		tlsCfg := cfg.TLSConfig
		if tlsCfg == nil {
			tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		tlsCfg = tlsCfg.Clone()

		if tlsCfg.ServerName == "" {
			host, _, splitErr := net.SplitHostPort(addr)
			if splitErr != nil {
				host = addr
			}
			tlsCfg.ServerName = host
		}
		if len(tlsCfg.NextProtos) == 0 {
			tlsCfg.NextProtos = []string{H2TLSProto, "http/1.1"}
		}

		tlsConn := tls.Client(rawConn, tlsCfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = rawConn.Close()
			return nil, err
		}
		if tlsConn.ConnectionState().NegotiatedProtocol != H2TLSProto {
			_ = tlsConn.Close()
			return nil, ErrServerDoesNotSupport
		}
		nc = tlsConn
	}

	conn := NewConn(nc, cfg)
	if err := conn.Establish(); err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Conn) applyLocalSettings(st *Settings) {
	st.SetHeaderTableSize(c.cfg.HeaderTableSize)
	st.SetPush(false)
	st.SetMaxConcurrentStreams(c.cfg.MaxConcurrentStreams)
	st.SetMaxWindowSize(c.cfg.InitialWindowSize)
	st.SetMaxFrameSize(c.cfg.MaxFrameSize)
	st.SetMaxHeaderListSize(c.cfg.MaxHeaderListSize)
}

// Establish writes the client preface and initial SETTINGS, starts the
// reader/writer goroutines, and blocks until the peer's own SETTINGS have
// been received and our SETTINGS acked (or cfg.RequestTimeout elapses).
func (c *Conn) Establish() error {
	if err := WritePreface(c.bw); err != nil {
		return err
	}

	frh := AcquireFrameHeader()
	st := AcquireFrame(FrameSettings).(*Settings)
	c.applyLocalSettings(st)
	frh.SetBody(st)
	if _, err := frh.WriteTo(c.bw); err != nil {
		ReleaseFrameHeader(frh)
		return err
	}
	ReleaseFrameHeader(frh)

	if c.cfg.InitialWindowSize > DefaultInitialWindowSize {
		extra := int32(c.cfg.InitialWindowSize - DefaultInitialWindowSize)
		wfrh := AcquireFrameHeader()
		wu := AcquireFrame(FrameWindowUpdate).(*WindowUpdate)
		wu.SetIncrement(extra)
		wfrh.SetBody(wu)
		if _, err := wfrh.WriteTo(c.bw); err != nil {
			ReleaseFrameHeader(wfrh)
			return err
		}
		ReleaseFrameHeader(wfrh)
	}

	if err := c.bw.Flush(); err != nil {
		return err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()

	timeout := c.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	select {
	case <-c.establishedCh:
		return nil
	case <-c.closeCh:
		return c.LastErr()
	case <-time.After(timeout):
		_ = c.Close(ErrCodeSettingsTimeout, "settings handshake timed out")
		return ConnError(ErrCodeSettingsTimeout, "timed out waiting for peer SETTINGS")
	}
}

func (c *Conn) maybeEstablished() {
	c.settingsMu.RLock()
	ready := c.localSettingsAcked && c.peerSettingsReceived
	c.settingsMu.RUnlock()
	if ready {
		c.estOnce.Do(func() { close(c.establishedCh) })
	}
}

// Closed reports whether Close has already run.
func (c *Conn) Closed() bool { return atomic.LoadInt32(&c.closed) == 1 }

// LastErr returns the error that caused the connection to close, if any.
func (c *Conn) LastErr() error {
	c.closeErrMu.Lock()
	defer c.closeErrMu.Unlock()
	return c.closeErr
}

func (c *Conn) storeErr(err error) {
	c.closeErrMu.Lock()
	if c.closeErr == nil {
		c.closeErr = err
	}
	c.closeErrMu.Unlock()
}

func (c *Conn) peerMaxFrameSize() uint32 {
	c.settingsMu.RLock()
	defer c.settingsMu.RUnlock()
	if n := c.peerSettings.MaxFrameSize(); n != 0 {
		return n
	}
	return DefaultMaxFrameSize
}

func (c *Conn) peerInitialWindowSize() uint32 {
	c.settingsMu.RLock()
	defer c.settingsMu.RUnlock()
	if c.peerSettingsReceived {
		return c.peerSettings.MaxWindowSize()
	}
	return DefaultInitialWindowSize
}

func (c *Conn) peerMaxConcurrentStreams() uint32 {
	c.settingsMu.RLock()
	defer c.settingsMu.RUnlock()
	if n := c.peerSettings.MaxConcurrentStreams(); n != 0 {
		return n
	}
	return DefaultMaxConcurrentStreams
}

// CanOpenStream reports whether a new stream may be opened without exceeding
// the peer's SETTINGS_MAX_CONCURRENT_STREAMS.
func (c *Conn) CanOpenStream() bool {
	return uint32(c.streams.Len()) < c.peerMaxConcurrentStreams()
}

// enqueueFrames hands frs to the writer goroutine as one atomic group: no
// other enqueue can interleave a frame between them, which is what keeps a
// HEADERS+CONTINUATION sequence contiguous on the wire.
func (c *Conn) enqueueFrames(frs ...*FrameHeader) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	for i, fr := range frs {
		select {
		case c.writeCh <- fr:
		case <-c.closeCh:
			for _, rest := range frs[i:] {
				ReleaseFrameHeader(rest)
			}
			return ErrConnectionClosed
		}
	}
	return nil
}

func (c *Conn) broadcastFlow() {
	c.flowMu.Lock()
	close(c.flowSignal)
	c.flowSignal = make(chan struct{})
	c.flowMu.Unlock()
}

func (c *Conn) waitFlow(ctx context.Context) error {
	c.flowMu.Lock()
	ch := c.flowSignal
	c.flowMu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closeCh:
		return ErrConnectionClosed
	}
}

// Close tears down the connection: it closes closeCh (unblocking the
// reader/writer and anyone waiting on flow control), best-effort sends a
// GOAWAY, closes the socket, and fails every stream still tracked. It is
// safe to call from the reader or writer goroutine itself, and safe to call
// more than once.
func (c *Conn) Close(code ErrorCode, debug string) error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}

	close(c.closeCh)
	c.sendGoAwayBestEffort(code, debug)
	err := c.c.Close()

	c.streams.Range(func(s *Stream) bool {
		c.streams.Del(s.ID())
		s.Done(ErrConnectionClosed)
		return true
	})

	c.pingMu.Lock()
	if c.pingWait != nil {
		close(c.pingWait)
		c.pingWait = nil
	}
	c.pingMu.Unlock()

	if c.cfg.OnDisconnect != nil {
		c.cfg.OnDisconnect(c)
	}

	c.logger.Debug().Err(err).Str("code", code.String()).Msg("h2client: connection closed")
	return err
}

func (c *Conn) sendGoAwayBestEffort(code ErrorCode, debug string) {
	last := atomic.LoadUint32(&c.nextStreamID)
	if last >= 2 {
		last -= 2
	} else {
		last = 0
	}

	frh := AcquireFrameHeader()
	ga := AcquireFrame(FrameGoAway).(*GoAway)
	ga.SetStream(last)
	ga.SetCode(code)
	if debug != "" {
		ga.SetData([]byte(debug))
	}
	frh.SetBody(ga)

	// Bound the write so an unresponsive peer cannot block Close.
	_ = c.c.SetWriteDeadline(time.Now().Add(time.Second))
	_, _ = frh.WriteTo(c.bw)
	_ = c.bw.Flush()
	ReleaseFrameHeader(frh)
}

func (c *Conn) finishStream(s *Stream, err error) {
	c.streams.Del(s.ID())
	s.Done(err)
	c.maybeCloseAfterGoAway()
}

func (c *Conn) maybeCloseAfterGoAway() {
	if atomic.LoadInt32(&c.goneAway) == 1 && c.streams.Len() == 0 {
		_ = c.Close(ErrCodeNo, "")
	}
}

func (c *Conn) cancelStream(s *Stream, reason error) {
	c.streams.Del(s.ID())

	frh := AcquireFrameHeader()
	frh.SetStream(s.ID())
	rst := AcquireFrame(FrameRstStream).(*RstStream)
	rst.SetCode(ErrCodeCancel)
	frh.SetBody(rst)
	_ = c.enqueueFrames(frh)

	msg := "request canceled"
	if reason != nil {
		msg = "request canceled: " + reason.Error()
	}
	s.Done(StreamError(s.ID(), ErrCodeCancel, msg))
}

// Ping sends a PING frame and blocks until the matching PONG arrives, ctx is
// done, or the connection closes. Only one application-level ping may be in
// flight at a time.
func (c *Conn) Ping(ctx context.Context) (time.Duration, error) {
	c.pingMu.Lock()
	if c.pingWait != nil {
		c.pingMu.Unlock()
		return 0, errors.New("h2client: a ping is already in flight")
	}
	respCh := make(chan time.Duration, 1)
	c.pingWait = respCh
	c.pingMu.Unlock()

	clearWait := func() {
		c.pingMu.Lock()
		if c.pingWait == respCh {
			c.pingWait = nil
		}
		c.pingMu.Unlock()
	}

	frh := AcquireFrameHeader()
	p := AcquireFrame(FramePing).(*Ping)
	p.SetCurrentTime()
	frh.SetBody(p)

	if err := c.enqueueFrames(frh); err != nil {
		clearWait()
		return 0, err
	}
	atomic.AddInt32(&c.unackedPings, 1)

	select {
	case d, ok := <-respCh:
		if !ok {
			return 0, ErrConnectionClosed
		}
		return d, nil
	case <-ctx.Done():
		clearWait()
		return 0, ctx.Err()
	case <-c.closeCh:
		clearWait()
		return 0, ErrConnectionClosed
	}
}

// SendRequest opens a new stream, writes req as HEADERS(+CONTINUATION) and
// DATA, and blocks until the full response (headers and body, into res) has
// arrived, ctx is done, or cfg.RequestTimeout elapses. Any trailers are
// returned alongside the negotiated protocol label.
func (c *Conn) SendRequest(ctx context.Context, req *fasthttp.Request, res *fasthttp.Response) ([]HeaderField, string, error) {
	if c.Closed() {
		return nil, "", ErrConnectionClosed
	}
	if atomic.LoadInt32(&c.goneAway) == 1 {
		return nil, "", StreamError(0, ErrCodeRefusedStream, "connection is draining after GOAWAY")
	}
	if !c.CanOpenStream() {
		return nil, "", ErrNoAvailableStreams
	}

	timeout := c.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	id := atomic.AddUint32(&c.nextStreamID, 2) - 2

	s := NewStream(id, int32(c.peerInitialWindowSize()), int32(c.cfg.InitialWindowSize), nil)
	s.SetResponse(res)
	c.streams.Insert(s)

	hasBody := len(req.Body()) != 0

	if err := c.writeHeaders(id, req, !hasBody); err != nil {
		c.streams.Del(id)
		return nil, "", err
	}

	nextState := StreamStateHalfClosedLocal
	if hasBody {
		nextState = StreamStateOpen
	}
	if err := s.Transition(nextState); err != nil {
		c.streams.Del(id)
		return nil, "", err
	}

	if hasBody {
		if err := c.writeBody(cctx, s, req.Body()); err != nil {
			c.streams.Del(id)
			return nil, "", err
		}
		if err := s.Transition(StreamStateHalfClosedLocal); err != nil {
			c.streams.Del(id)
			return nil, "", err
		}
	}

	select {
	case err := <-s.WaitChan():
		return s.Trailers(), H2TLSProto, err
	case <-cctx.Done():
		c.cancelStream(s, cctx.Err())
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return nil, "", ErrTimeout
		}
		return nil, "", StreamError(id, ErrCodeCancel, "request canceled")
	}
}

func (c *Conn) writeHeaders(id uint32, req *fasthttp.Request, endStream bool) error {
	c.headerMu.Lock()
	defer c.headerMu.Unlock()

	hf := AcquireHeaderField()
	defer ReleaseHeaderField(hf)

	// The HPACK-encoded header block is only needed for the lifetime of this
	// call: sendHeaderBlock copies every chunk into the frames it builds, so
	// the scratch buffer can come from a pool instead of a fresh allocation
	// per request.
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	hf.SetBytes(StringMethod, req.Header.Method())
	buf.B = c.enc.AppendHeaderField(buf.B, hf, true)

	hf.SetBytes(StringScheme, req.URI().Scheme())
	buf.B = c.enc.AppendHeaderField(buf.B, hf, true)

	hf.SetBytes(StringPath, req.URI().RequestURI())
	buf.B = c.enc.AppendHeaderField(buf.B, hf, true)

	hf.SetBytes(StringAuthority, req.URI().Host())
	buf.B = c.enc.AppendHeaderField(buf.B, hf, true)

	hf.SetBytes(StringUserAgent, req.Header.UserAgent())
	buf.B = c.enc.AppendHeaderField(buf.B, hf, true)

	req.Header.VisitAll(func(k, v []byte) {
		if bytes.EqualFold(k, StringUserAgent) {
			return
		}
		key := append([]byte(nil), k...)
		hf.SetBytes(ToLower(key), v)
		buf.B = c.enc.AppendHeaderField(buf.B, hf, false)
	})

	return c.sendHeaderBlock(id, buf.B, endStream)
}

// sendHeaderBlock splits raw at the peer's negotiated MAX_FRAME_SIZE into a
// HEADERS frame followed by as many CONTINUATION frames as needed, and
// enqueues the whole sequence as one atomic group.
func (c *Conn) sendHeaderBlock(id uint32, raw []byte, endStream bool) error {
	maxFrame := int(c.peerMaxFrameSize())
	if maxFrame <= 0 {
		maxFrame = defaultMaxFrameSize
	}

	chunkLen := len(raw)
	if chunkLen > maxFrame {
		chunkLen = maxFrame
	}

	first := AcquireFrameHeader()
	first.SetStream(id)
	h := AcquireFrame(FrameHeaders).(*Headers)
	h.SetHeaders(raw[:chunkLen])
	h.SetEndStream(endStream)
	h.SetEndHeaders(chunkLen == len(raw))
	first.SetBody(h)

	frames := []*FrameHeader{first}

	remaining := raw[chunkLen:]
	for len(remaining) > 0 {
		n := len(remaining)
		if n > maxFrame {
			n = maxFrame
		}

		fh := AcquireFrameHeader()
		fh.SetStream(id)
		cont := AcquireFrame(FrameContinuation).(*Continuation)
		cont.SetHeader(remaining[:n])
		cont.SetEndHeaders(n == len(remaining))
		fh.SetBody(cont)

		frames = append(frames, fh)
		remaining = remaining[n:]
	}

	return c.enqueueFrames(frames...)
}

// awaitSendCredit blocks until at least one byte (and at most want, and at
// most the peer's MAX_FRAME_SIZE) of send credit is available on both the
// connection and stream windows, consuming it atomically before returning.
func (c *Conn) awaitSendCredit(ctx context.Context, s *Stream, want int) (int, error) {
	maxFrame := int(c.peerMaxFrameSize())
	if want > maxFrame {
		want = maxFrame
	}

	for {
		c.flowMu.Lock()
		avail := c.connSendWindow
		n := want
		if int(avail) < n {
			n = int(avail)
		}
		if n > 0 {
			if s.TryConsumeSendWindow(int32(n)) {
				c.connSendWindow -= int32(n)
				c.flowMu.Unlock()
				return n, nil
			}
			streamAvail := int(s.SendWindow())
			if streamAvail > 0 && streamAvail < n && s.TryConsumeSendWindow(int32(streamAvail)) {
				c.connSendWindow -= int32(streamAvail)
				c.flowMu.Unlock()
				return streamAvail, nil
			}
		}
		c.flowMu.Unlock()

		if err := c.waitFlow(ctx); err != nil {
			return 0, err
		}
	}
}

func (c *Conn) writeBody(ctx context.Context, s *Stream, body []byte) error {
	remaining := body
	for len(remaining) > 0 {
		n, err := c.awaitSendCredit(ctx, s, len(remaining))
		if err != nil {
			return err
		}

		chunk := remaining[:n]
		remaining = remaining[n:]

		frh := AcquireFrameHeader()
		frh.SetStream(s.ID())
		d := AcquireFrame(FrameData).(*Data)
		d.SetData(chunk)
		d.SetEndStream(len(remaining) == 0)
		frh.SetBody(d)

		if err := c.enqueueFrames(frh); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) sendWindowUpdate(streamID uint32, inc int32) {
	if inc <= 0 {
		return
	}
	frh := AcquireFrameHeader()
	frh.SetStream(streamID)
	wu := AcquireFrame(FrameWindowUpdate).(*WindowUpdate)
	wu.SetIncrement(inc)
	frh.SetBody(wu)
	_ = c.enqueueFrames(frh)
}

func (c *Conn) maybeRefillConnWindow() {
	initial := int32(c.cfg.InitialWindowSize)
	low := c.cfg.LowWaterMark
	if low <= 0 {
		low = 0.5
	}

	c.flowMu.Lock()
	cur := c.connRecvWindow
	if float64(cur) >= float64(initial)*low {
		c.flowMu.Unlock()
		return
	}
	inc := initial - cur
	c.connRecvWindow = initial
	c.flowMu.Unlock()

	c.sendWindowUpdate(0, inc)
}

func (c *Conn) maybeRefillStreamWindow(s *Stream) {
	initial := int32(c.cfg.InitialWindowSize)
	low := c.cfg.LowWaterMark
	if low <= 0 {
		low = 0.5
	}

	cur := s.RecvWindow()
	if float64(cur) >= float64(initial)*low {
		return
	}
	inc := initial - cur
	s.IncrRecvWindow(inc)
	c.sendWindowUpdate(s.ID(), inc)
}

// writeLoop is the connection's single writer: it drains writeCh, and on
// every ping tick it sends a keepalive PING directly (bypassing the channel, since
// this goroutine is the one that would otherwise have to drain it).
func (c *Conn) writeLoop() {
	defer c.wg.Done()

	interval := c.cfg.PingInterval
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case fr, ok := <-c.writeCh:
			if !ok {
				return
			}
			_, err := fr.WriteTo(c.bw)
			if err == nil {
				err = c.bw.Flush()
			}
			ReleaseFrameHeader(fr)
			if err != nil {
				c.storeErr(WriteError{err})
				_ = c.Close(ErrCodeInternal, "")
				return
			}

		case <-ticker.C:
			if !c.cfg.DisablePingChecking && atomic.LoadInt32(&c.unackedPings) >= maxUnackedPings {
				c.storeErr(ErrTimeout)
				_ = c.Close(ErrCodeNo, "no pong received")
				return
			}
			if err := c.sendKeepalivePing(); err != nil {
				c.storeErr(WriteError{err})
				_ = c.Close(ErrCodeInternal, "")
				return
			}

		case <-c.closeCh:
			return
		}
	}
}

func (c *Conn) sendKeepalivePing() error {
	frh := AcquireFrameHeader()
	p := AcquireFrame(FramePing).(*Ping)
	p.SetCurrentTime()
	frh.SetBody(p)

	_, err := frh.WriteTo(c.bw)
	if err == nil {
		err = c.bw.Flush()
	}
	ReleaseFrameHeader(frh)

	if err == nil {
		atomic.AddInt32(&c.unackedPings, 1)
	}
	return err
}

// WriteError wraps a write-side I/O failure, matching the teacher's
// distinction between a read failure (LastErr) and a write failure.
type WriteError struct{ Err error }

func (e WriteError) Error() string { return "h2client: write error: " + e.Err.Error() }
func (e WriteError) Unwrap() error { return e.Err }

// readLoop is the connection's single reader: it decodes one frame at a
// time and dispatches it, tearing the connection down on any
// connection-scoped error.
func (c *Conn) readLoop() {
	defer c.wg.Done()

	for {
		fr, err := ReadFrameFromWithSize(c.br, c.cfg.MaxFrameSize)
		if err != nil {
			c.storeErr(err)
			_ = c.Close(ErrCodeInternal, "")
			return
		}

		herr := c.handleFrame(fr)
		ReleaseFrameHeader(fr)

		if herr != nil {
			if IsConnectionError(herr) {
				c.storeErr(herr)
				code := ErrCodeInternal
				var e *Error
				if errors.As(herr, &e) {
					code = e.Code
				}
				_ = c.Close(code, herr.Error())
				return
			}
			c.logger.Debug().Err(herr).Msg("h2client: stream-scoped error")
		}
	}
}

func (c *Conn) handleFrame(fr *FrameHeader) error {
	if c.contActive {
		if fr.Type() != FrameContinuation || fr.Stream() != c.contStreamID {
			return ConnError(ErrCodeProtocol, "expected a CONTINUATION frame for the in-progress header block")
		}
		return c.handleContinuationFrame(fr.Body().(*Continuation))
	}

	switch fr.Type() {
	case FrameSettings:
		return c.handleSettingsFrame(fr.Body().(*Settings))
	case FramePing:
		return c.handlePingFrame(fr.Body().(*Ping))
	case FrameGoAway:
		return c.handleGoAwayFrame(fr.Body().(*GoAway))
	case FrameWindowUpdate:
		return c.handleWindowUpdateFrame(fr)
	case FrameHeaders:
		return c.handleHeadersFrame(fr)
	case FramePushPromise:
		return ConnError(ErrCodeProtocol, "PUSH_PROMISE received but push is disabled")
	case FrameData:
		return c.handleDataFrame(fr)
	case FrameRstStream:
		return c.handleRstStreamFrame(fr)
	case FramePriority:
		return nil
	case FrameContinuation:
		return ConnError(ErrCodeProtocol, "CONTINUATION without a preceding HEADERS/PUSH_PROMISE")
	default:
		return nil
	}
}

func (c *Conn) handleSettingsFrame(st *Settings) error {
	if st.IsAck() {
		c.settingsMu.Lock()
		c.localSettingsAcked = true
		c.settingsMu.Unlock()
		c.maybeEstablished()
		return nil
	}

	c.settingsMu.Lock()
	hadInitialWindow := c.peerSettingsReceived
	oldInitialWindow := c.peerSettings.MaxWindowSize()
	st.CopyTo(&c.peerSettings)
	c.peerSettingsReceived = true
	c.settingsMu.Unlock()

	c.enc.SetMaxTableSize(int(st.HeaderTableSize()))

	if hadInitialWindow && st.MaxWindowSize() != oldInitialWindow {
		delta := int32(st.MaxWindowSize()) - int32(oldInitialWindow)
		var overflow error
		c.streams.Range(func(s *Stream) bool {
			if err := s.AddSendWindow(delta); err != nil {
				overflow = ConnError(ErrCodeFlowControl, "SETTINGS_INITIAL_WINDOW_SIZE adjustment overflowed a stream window")
				return false
			}
			return true
		})
		if overflow != nil {
			return overflow
		}
		c.broadcastFlow()
	}

	ackFrh := AcquireFrameHeader()
	ack := AcquireFrame(FrameSettings).(*Settings)
	ack.SetAck(true)
	ackFrh.SetBody(ack)
	if err := c.enqueueFrames(ackFrh); err != nil {
		return nil
	}

	c.maybeEstablished()
	return nil
}

func (c *Conn) handlePingFrame(ping *Ping) error {
	if ping.IsAck() {
		atomic.AddInt32(&c.unackedPings, -1)
		rtt := time.Since(ping.SentAt())

		c.pingMu.Lock()
		ch := c.pingWait
		c.pingWait = nil
		c.pingMu.Unlock()
		if ch != nil {
			select {
			case ch <- rtt:
			default:
			}
		}

		if c.cfg.OnRTT != nil {
			c.cfg.OnRTT(rtt)
		}
		return nil
	}

	frh := AcquireFrameHeader()
	reply := AcquireFrame(FramePing).(*Ping)
	reply.SetData(ping.Data())
	reply.SetAck(true)
	frh.SetBody(reply)
	return c.enqueueFrames(frh)
}

func (c *Conn) handleGoAwayFrame(ga *GoAway) error {
	atomic.StoreInt32(&c.goneAway, 1)
	c.logger.Warn().
		Uint32("last_stream_id", ga.Stream()).
		Str("code", ga.Code().String()).
		Msg("h2client: received GOAWAY")

	if c.streams.Len() == 0 {
		_ = c.Close(ErrCodeNo, "")
	}
	return nil
}

func (c *Conn) handleWindowUpdateFrame(fr *FrameHeader) error {
	wu := fr.Body().(*WindowUpdate)

	if fr.Stream() == 0 {
		c.flowMu.Lock()
		next := int64(c.connSendWindow) + int64(wu.Increment())
		if next > 1<<31-1 {
			c.flowMu.Unlock()
			return ConnError(ErrCodeFlowControl, "connection send window overflow")
		}
		c.connSendWindow = int32(next)
		c.flowMu.Unlock()
		c.broadcastFlow()
		return nil
	}

	s := c.streams.Get(fr.Stream())
	if s == nil {
		return nil
	}
	if err := s.AddSendWindow(wu.Increment()); err != nil {
		return err
	}
	c.broadcastFlow()
	return nil
}

func (c *Conn) handleHeadersFrame(fr *FrameHeader) error {
	h := fr.Body().(*Headers)
	s := c.streams.Get(fr.Stream())
	if s == nil {
		return ConnError(ErrCodeProtocol, "HEADERS received on an unknown stream")
	}

	s.AppendPendingHeaders(h.Headers())

	if !h.EndHeaders() {
		c.contActive = true
		c.contStreamID = fr.Stream()
		c.contFrameCount = 0
		c.contBytes = len(h.Headers())
		c.contDeadline = time.Now().Add(c.continuationTimeout())
		s.SetEndStreamSeen(h.EndStream())
		return nil
	}

	return c.finishHeaderBlock(s, h.EndStream())
}

func (c *Conn) continuationTimeout() time.Duration {
	if c.cfg.ContinuationTimeout > 0 {
		return c.cfg.ContinuationTimeout
	}
	return DefaultContinuationTimeout
}

func (c *Conn) maxContinuationFrames() int {
	if c.cfg.MaxContinuationFrames > 0 {
		return c.cfg.MaxContinuationFrames
	}
	return DefaultMaxContinuationFrames
}

func (c *Conn) maxHeaderBlockBytes() int {
	if c.cfg.MaxHeaderBlockBytes > 0 {
		return c.cfg.MaxHeaderBlockBytes
	}
	return DefaultMaxHeaderBlockBytes
}

func (c *Conn) handleContinuationFrame(cont *Continuation) error {
	c.contFrameCount++
	if c.contFrameCount > c.maxContinuationFrames() {
		return ConnError(ErrCodeEnhanceYourCalm, "too many CONTINUATION frames in one header block")
	}

	c.contBytes += len(cont.Headers())
	if c.contBytes > c.maxHeaderBlockBytes() {
		return ConnError(ErrCodeEnhanceYourCalm, "header block exceeded the maximum accumulated size")
	}

	if time.Now().After(c.contDeadline) {
		return ConnError(ErrCodeEnhanceYourCalm, "HEADERS/CONTINUATION sequence took too long")
	}

	s := c.streams.Get(c.contStreamID)
	if s == nil {
		if cont.EndHeaders() {
			c.contActive = false
		}
		return nil
	}

	s.AppendPendingHeaders(cont.Headers())
	if !cont.EndHeaders() {
		return nil
	}

	c.contActive = false
	return c.finishHeaderBlock(s, s.EndStreamSeen())
}

func (c *Conn) finishHeaderBlock(s *Stream, endStream bool) error {
	raw := s.PendingHeaders()
	isTrailer := s.HeadersDone()

	c.dec.StartBlock()

	hf := AcquireHeaderField()
	defer ReleaseHeaderField(hf)

	res := s.Response()

	for len(raw) > 0 {
		var err error
		raw, err = c.dec.Next(hf, raw)
		if err != nil {
			return ConnError(ErrCodeCompression, err.Error())
		}

		if isTrailer {
			var cp HeaderField
			hf.CopyTo(&cp)
			s.AppendTrailerField(cp)
			continue
		}

		if hf.IsPseudo() {
			if bytes.Equal(hf.KeyBytes(), StringStatus) {
				n, err := strconv.Atoi(hf.Value())
				if err != nil {
					return StreamError(s.ID(), ErrCodeProtocol, "HEADERS: malformed :status pseudo-header")
				}
				res.SetStatusCode(n)
			}
			continue
		}

		if bytes.Equal(hf.KeyBytes(), StringContentLength) {
			n, _ := strconv.Atoi(hf.Value())
			res.Header.SetContentLength(n)
		} else {
			res.Header.AddBytesKV(hf.KeyBytes(), hf.ValueBytes())
		}
	}

	s.ResetPendingHeaders()
	if !isTrailer {
		s.SetHeadersDone(true)
	}

	if endStream {
		return c.applyEndStreamReceived(s)
	}
	return nil
}

func (c *Conn) applyEndStreamReceived(s *Stream) error {
	var next StreamState
	switch s.State() {
	case StreamStateHalfClosedLocal:
		next = StreamStateClosed
	default:
		next = StreamStateHalfClosedRemote
	}

	if err := s.Transition(next); err != nil {
		c.finishStream(s, err)
		return err
	}

	if next == StreamStateClosed {
		c.finishStream(s, nil)
	}
	return nil
}

func (c *Conn) handleDataFrame(fr *FrameHeader) error {
	data := fr.Body().(*Data)
	n := int32(fr.Len())

	c.flowMu.Lock()
	c.connRecvWindow -= n
	c.flowMu.Unlock()

	s := c.streams.Get(fr.Stream())
	if s != nil {
		s.ConsumeRecvWindow(n)
		if data.Len() != 0 {
			s.Response().AppendBody(data.Data())
		}
		c.maybeRefillStreamWindow(s)
	}

	c.maybeRefillConnWindow()

	if data.EndStream() && s != nil {
		return c.applyEndStreamReceived(s)
	}
	return nil
}

func (c *Conn) handleRstStreamFrame(fr *FrameHeader) error {
	rst := fr.Body().(*RstStream)
	s := c.streams.Get(fr.Stream())
	if s == nil {
		return nil
	}
	s.SetState(StreamStateClosed)
	c.finishStream(s, rst.AsError(fr.Stream()))
	return nil
}
