// Package websocket implements the WebSocket protocol framing layer
// defined in RFC 6455.
//
// It converts an already upgraded byte stream into application level
// messages and back: frame encoding and decoding, the close code
// sub-protocol, role based masking and the close handshake. The HTTP
// layer performs the Upgrade via Accept or Dial and hands the engine
// the hijacked stream.
//
// Use the wsjson and wspb subpackages to send and receive JSON and
// protobuf messages.
//
// No extensions are supported. In particular there is no
// permessage-deflate and Read does not reassemble fragmented
// messages; callers that need reassembly loop on OpContinuation
// themselves.
package websocket // import "subway.dev/websocket"
