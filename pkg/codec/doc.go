// Package codec encodes homogeneous numeric arrays as base64 text.
//
// An encoded array is the raw little-endian packing of its elements in a
// declared Format, with no header and no compression, wrapped in standard
// base64. Browsers decode it with atob and a typed array view:
//
//	new Float32Array(Uint8Array.from(atob(s), c => c.charCodeAt(0)).buffer)
//
// Decode(f, Encode(f, v)) reproduces v exactly when the Go element type
// matches f, including NaN payloads and negative zero for Float32.
package codec
