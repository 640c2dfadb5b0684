// Package doccodec encodes a local file's bytes into a remote file-metadata
// document plus its chunk set, and decodes the reverse direction. It is pure:
// no filesystem or network access happens here.
package doccodec

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"

	"vaultsync/internal/chunker"
	"vaultsync/internal/transport"
)

// Encoded is the result of encoding a local file for the remote store. Push
// never produces an inline document: content is always chunked, even when
// the chunker emits a single piece.
type Encoded struct {
	// Chunks maps each referenced chunk identity to its bytes.
	Chunks map[string][]byte
	// ChildrenOrder is the ordered list of chunk identities that
	// reconstructs the file.
	ChildrenOrder []string
	// Size is the byte length of the original content.
	Size int64
}

// Encode splits content into chunks and computes their identities. Per
// spec, push always treats local content as UTF-8 text: it never
// base64-encodes on the way up, mirroring the asymmetry of the reference
// implementation, which only ever base64-decodes on pull.
func Encode(content []byte) Encoded {
	size := int64(len(content))

	pieces := chunker.Split(content)
	chunks := make(map[string][]byte, len(pieces))
	order := make([]string, 0, len(pieces))
	for _, p := range pieces {
		id := chunker.Identity(p)
		chunks[id] = p
		order = append(order, id)
	}

	return Encoded{Chunks: chunks, ChildrenOrder: order, Size: size}
}

// Assemble concatenates chunk bytes in children order to reconstruct a
// file's byte content. Returns (nil, false) if any referenced chunk is
// missing from available.
func Assemble(children []string, available map[string][]byte) ([]byte, bool) {
	var out []byte
	for _, id := range children {
		data, ok := available[id]
		if !ok {
			return nil, false
		}
		out = append(out, data...)
	}
	if out == nil {
		out = []byte{}
	}
	return out, true
}

// DecodePayload interprets a document's payload bytes (either assembled
// chunk data or inline Data) the way PullEngine writes it to disk: base64 is
// detected by content, never by file extension. A payload is treated as
// base64 when it is single-line and the standard base64 decoder accepts it
// without error; the decoded bytes are then kept as UTF-8 text if valid,
// otherwise as raw bytes. Any other payload is written as plain text.
func DecodePayload(payload []byte) []byte {
	if looksLikeBase64(payload) {
		if decoded, err := base64.StdEncoding.DecodeString(string(payload)); err == nil {
			return decoded
		}
	}
	return payload
}

// looksLikeBase64 reports whether payload is a plausible base64 blob: no
// newline, and decodable by the strict standard encoder.
func looksLikeBase64(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	if strings.ContainsAny(string(payload), "\r\n") {
		return false
	}
	_, err := base64.StdEncoding.DecodeString(string(payload))
	return err == nil
}

// IsText reports whether data is valid UTF-8, the condition DocCodec uses to
// decide whether decoded base64 bytes should be kept as text or as raw
// bytes.
func IsText(data []byte) bool {
	return utf8.Valid(data)
}

// ChildrenFromDoc extracts the ordered chunk id list from a transport.Doc,
// nil when the document is inline.
func ChildrenFromDoc(d *transport.Doc) []string {
	if d == nil {
		return nil
	}
	return d.Children
}
