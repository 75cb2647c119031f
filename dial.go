package websocket

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// DialOptions represents the options available to pass to Dial.
type DialOptions struct {
	// HTTPClient is the http client used for the handshake.
	// Its Transport must return writable bodies for WebSocket
	// handshakes. http.Transport does this correctly.
	HTTPClient *http.Client

	// HTTPHeader specifies the HTTP headers included in the
	// handshake request.
	HTTPHeader http.Header

	// Subprotocols lists the subprotocols to negotiate with the
	// server.
	Subprotocols []string
}

// Dial performs a WebSocket handshake on the given url with the given
// options and returns a RoleClient Conn.
//
// The response is the handshake response from the server. If an error
// occurs it may be non nil but only the first 1024 bytes of its body
// are readable. You never need to close resp.Body yourself.
func Dial(ctx context.Context, u string, opts *DialOptions) (*Conn, *http.Response, error) {
	c, r, err := dial(ctx, u, opts)
	if err != nil {
		return nil, r, fmt.Errorf("failed to websocket dial: %w", err)
	}
	return c, r, nil
}

func dial(ctx context.Context, u string, opts *DialOptions) (_ *Conn, _ *http.Response, err error) {
	if opts == nil {
		opts = &DialOptions{}
	} else {
		o := *opts
		opts = &o
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.HTTPHeader == nil {
		opts.HTTPHeader = http.Header{}
	}

	parsedURL, err := url.Parse(u)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse url: %w", err)
	}

	switch parsedURL.Scheme {
	case "ws":
		parsedURL.Scheme = "http"
	case "wss":
		parsedURL.Scheme = "https"
	default:
		return nil, nil, fmt.Errorf("unexpected url scheme: %q", parsedURL.Scheme)
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, parsedURL.String(), nil)
	req.Header = opts.HTTPHeader.Clone()
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	secWebSocketKey, err := makeSecWebSocketKey()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate Sec-WebSocket-Key: %w", err)
	}
	req.Header.Set("Sec-WebSocket-Key", secWebSocketKey)
	if len(opts.Subprotocols) > 0 {
		req.Header.Set("Sec-WebSocket-Protocol", strings.Join(opts.Subprotocols, ","))
	}

	resp, err := opts.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to send handshake request: %w", err)
	}
	defer func() {
		if err != nil {
			// We read a bit of the body for easier debugging.
			r := io.LimitReader(resp.Body, 1024)
			b, _ := io.ReadAll(r)
			resp.Body.Close()
			resp.Body = io.NopCloser(bytes.NewReader(b))
		}
	}()

	err = verifyServerResponse(req, resp)
	if err != nil {
		return nil, resp, err
	}

	rwc, ok := resp.Body.(io.ReadWriteCloser)
	if !ok {
		return nil, resp, fmt.Errorf("response body is not a io.ReadWriteCloser: %T", resp.Body)
	}

	return newConn(connConfig{
		role:        RoleClient,
		subprotocol: resp.Header.Get("Sec-WebSocket-Protocol"),
		rwc:         rwc,
		br:          bufio.NewReader(rwc),
		bw:          bufio.NewWriter(rwc),
	}), resp, nil
}

// verifyServerResponse checks the server's half of the handshake.
// A mismatched Sec-WebSocket-Accept is fatal before any frame
// traffic. Header token matches are case insensitive.
func verifyServerResponse(r *http.Request, resp *http.Response) error {
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return HandshakeError{Reason: fmt.Sprintf("expected handshake response status code %v but got %v", http.StatusSwitchingProtocols, resp.StatusCode)}
	}

	if !headerContainsToken(resp.Header, "Connection", "Upgrade") {
		return HandshakeError{Reason: fmt.Sprintf("Connection header %q does not contain Upgrade", resp.Header.Get("Connection"))}
	}

	if !headerContainsToken(resp.Header, "Upgrade", "websocket") {
		return HandshakeError{Reason: fmt.Sprintf("Upgrade header %q does not contain websocket", resp.Header.Get("Upgrade"))}
	}

	if resp.Header.Get("Sec-WebSocket-Accept") != secWebSocketAccept(r.Header.Get("Sec-WebSocket-Key")) {
		return HandshakeError{Reason: fmt.Sprintf("invalid Sec-WebSocket-Accept %q for key %q",
			resp.Header.Get("Sec-WebSocket-Accept"),
			r.Header.Get("Sec-WebSocket-Key"),
		)}
	}

	if proto := resp.Header.Get("Sec-WebSocket-Protocol"); proto != "" && !headerContainsToken(r.Header, "Sec-WebSocket-Protocol", proto) {
		return HandshakeError{Reason: fmt.Sprintf("unexpected Sec-WebSocket-Protocol from server: %q", proto)}
	}

	return nil
}

// makeSecWebSocketKey generates the challenge key for the handshake
// request: 16 fresh random bytes, base64 encoded.
func makeSecWebSocketKey() (string, error) {
	b := make([]byte, 16)
	_, err := rand.Read(b)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
