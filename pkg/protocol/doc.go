// Package protocol defines the JSON messages exchanged with browser clients.
//
// All messages are WebSocket text frames. The server sends:
//
//	{"topology": {"elements": <b64 uint8[]>, "bonds": <b64 uint64[]>}, "box": <b64 float32[]>}
//	{"positions": <b64 float32[]>}
//
// The geometry message is sent once per connection, then positions messages
// follow at a bounded rate. Array fields are produced by package codec.
//
// The client sends state changes at any time:
//
//	{"updates": {<key>: <value>, ...}, "removals": [<key>, ...]}
//
// Inbound messages are validated by DecodeStateChange. A message that does
// not conform is reported as an *Error and dropped; it never ends the
// session.
package protocol
