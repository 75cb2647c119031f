package websocket

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// AcceptOptions represents the options available to pass to Accept.
type AcceptOptions struct {
	// Subprotocols lists the WebSocket subprotocols that Accept will
	// negotiate with the client. The empty subprotocol will always be
	// negotiated as per RFC 6455. If you would like to reject it,
	// close the connection when c.Subprotocol() == "".
	Subprotocols []string

	// InsecureSkipVerify disables Accept's origin verification.
	// By default Accept only allows the handshake if the javascript
	// initiating it is on the same host as the server, to prevent
	// CSRF when secure data is stored in cookies.
	InsecureSkipVerify bool
}

// Accept accepts a WebSocket handshake from a client and upgrades
// the connection to WebSocket, returning a RoleServer Conn that owns
// the hijacked stream.
//
// If an error occurs, Accept will write an appropriate response so
// you do not have to.
func Accept(w http.ResponseWriter, r *http.Request, opts *AcceptOptions) (*Conn, error) {
	c, err := accept(w, r, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to accept websocket connection: %w", err)
	}
	return c, nil
}

func accept(w http.ResponseWriter, r *http.Request, opts *AcceptOptions) (*Conn, error) {
	if opts == nil {
		opts = &AcceptOptions{}
	}

	err := verifyClientRequest(w, r)
	if err != nil {
		return nil, err
	}

	if !opts.InsecureSkipVerify {
		err = authenticateOrigin(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusForbidden)
			return nil, err
		}
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		err = HandshakeError{Reason: "passed ResponseWriter does not implement http.Hijacker"}
		http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return nil, err
	}

	w.Header().Set("Upgrade", "websocket")
	w.Header().Set("Connection", "Upgrade")
	w.Header().Set("Sec-WebSocket-Accept", secWebSocketAccept(r.Header.Get("Sec-WebSocket-Key")))

	subproto := selectSubprotocol(r, opts.Subprotocols)
	if subproto != "" {
		w.Header().Set("Sec-WebSocket-Protocol", subproto)
	}

	w.WriteHeader(http.StatusSwitchingProtocols)

	netConn, brw, err := hj.Hijack()
	if err != nil {
		err = fmt.Errorf("failed to hijack connection: %w", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return nil, err
	}

	// https://github.com/golang/go/issues/32314
	b, _ := brw.Reader.Peek(brw.Reader.Buffered())
	brw.Reader.Reset(io.MultiReader(bytes.NewReader(b), netConn))

	return newConn(connConfig{
		role:        RoleServer,
		subprotocol: w.Header().Get("Sec-WebSocket-Protocol"),
		rwc:         netConn,
		br:          brw.Reader,
		bw:          brw.Writer,
	}), nil
}

func verifyClientRequest(w http.ResponseWriter, r *http.Request) error {
	if !r.ProtoAtLeast(1, 1) {
		err := HandshakeError{Reason: fmt.Sprintf("handshake request must be at least HTTP/1.1: %q", r.Proto)}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return err
	}

	if !headerContainsToken(r.Header, "Connection", "Upgrade") {
		err := HandshakeError{Reason: fmt.Sprintf("Connection header %q does not contain Upgrade", r.Header.Get("Connection"))}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return err
	}

	if !headerContainsToken(r.Header, "Upgrade", "websocket") {
		err := HandshakeError{Reason: fmt.Sprintf("Upgrade header %q does not contain websocket", r.Header.Get("Upgrade"))}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return err
	}

	if r.Method != http.MethodGet {
		err := HandshakeError{Reason: fmt.Sprintf("handshake request method %q is not GET", r.Method)}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return err
	}

	if r.Header.Get("Sec-WebSocket-Version") != "13" {
		err := HandshakeError{Reason: fmt.Sprintf("unsupported protocol version %q", r.Header.Get("Sec-WebSocket-Version"))}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return err
	}

	key, err := base64.StdEncoding.DecodeString(r.Header.Get("Sec-WebSocket-Key"))
	if err != nil || len(key) != 16 {
		herr := HandshakeError{Reason: fmt.Sprintf("Sec-WebSocket-Key %q is not 16 base64 encoded bytes", r.Header.Get("Sec-WebSocket-Key"))}
		http.Error(w, herr.Error(), http.StatusBadRequest)
		return herr
	}

	return nil
}

func headerContainsToken(h http.Header, key, token string) bool {
	key = textproto.CanonicalMIMEHeaderKey(key)
	return httpguts.HeaderValuesContainsToken(h[key], token)
}

// selectSubprotocol picks the first server supported subprotocol the
// client offered. The Sec-WebSocket-Protocol values themselves pass
// through verbatim and unvalidated.
func selectSubprotocol(r *http.Request, subprotocols []string) string {
	for _, sp := range subprotocols {
		if headerContainsToken(r.Header, "Sec-WebSocket-Protocol", sp) {
			return sp
		}
	}
	return ""
}

var keyGUID = []byte("258EAFA5-E914-47DA-95CA-C5AB0DC85B11")

// secWebSocketAccept derives the Sec-WebSocket-Accept value for a
// client key. Pure and stateless.
// See https://tools.ietf.org/html/rfc6455#section-1.3
func secWebSocketAccept(secWebSocketKey string) string {
	h := sha1.New()
	h.Write([]byte(secWebSocketKey))
	h.Write(keyGUID)

	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func authenticateOrigin(r *http.Request) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}
	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("failed to parse Origin header %q: %w", origin, err)
	}
	if !strings.EqualFold(u.Host, r.Host) {
		return HandshakeError{Reason: fmt.Sprintf("request Origin %q is not authorized for Host %q", origin, r.Host)}
	}
	return nil
}
