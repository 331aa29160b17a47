package embeddb

import "github.com/embeddb/embeddb/internal/pager"

// XORCodec is a minimal, real (if not cryptographically serious) codec
// implementation: every byte of every page and journal record is XORed
// with Key, in both directions, since XOR is its own inverse. It exists
// to give the pager's codec hook (spec.md §4.6) a non-noop caller: a
// production codec would drive an AEAD cipher through the same
// interface instead.
type XORCodec struct {
	Key byte
}

// Transform implements pager.Codec.
func (c XORCodec) Transform(buf []byte, _ pager.PageNumber, _ pager.CodecMode) ([]byte, error) {
	out := make([]byte, len(buf))
	for i, b := range buf {
		out[i] = b ^ c.Key
	}
	return out, nil
}
