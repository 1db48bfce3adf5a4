package squads

import (
	"bytes"
	"fmt"

	ag_binary "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// writer wraps a Borsh encoder and keeps the first error, so layouts read as a
// flat list of fields.
type writer struct {
	buf *bytes.Buffer
	enc *ag_binary.Encoder
	err error
}

func newWriter() *writer {
	buf := new(bytes.Buffer)
	return &writer{buf: buf, enc: ag_binary.NewBorshEncoder(buf)}
}

func (w *writer) raw(b []byte) {
	if w.err == nil {
		w.err = w.enc.WriteBytes(b, false)
	}
}

func (w *writer) disc(d Discriminator) { w.raw(d[:]) }

func (w *writer) u8(v uint8) {
	if w.err == nil {
		w.err = w.enc.WriteUint8(v)
	}
}

func (w *writer) u16(v uint16) {
	if w.err == nil {
		w.err = w.enc.WriteUint16(v, ag_binary.LE)
	}
}

func (w *writer) u32(v uint32) {
	if w.err == nil {
		w.err = w.enc.WriteUint32(v, ag_binary.LE)
	}
}

func (w *writer) u64(v uint64) {
	if w.err == nil {
		w.err = w.enc.WriteUint64(v, ag_binary.LE)
	}
}

func (w *writer) i64(v int64) {
	if w.err == nil {
		w.err = w.enc.WriteInt64(v, ag_binary.LE)
	}
}

func (w *writer) boolean(v bool) {
	if w.err == nil {
		w.err = w.enc.WriteBool(v)
	}
}

func (w *writer) pubkey(k solana.PublicKey) { w.raw(k[:]) }

func (w *writer) optPubkey(k *solana.PublicKey) {
	if k == nil {
		w.u8(0)
		return
	}
	w.u8(1)
	w.pubkey(*k)
}

func (w *writer) str(s string) {
	w.u32(uint32(len(s)))
	w.raw([]byte(s))
}

func (w *writer) optStr(s *string) {
	if s == nil {
		w.u8(0)
		return
	}
	w.u8(1)
	w.str(*s)
}

func (w *writer) bytesVec(b []byte) {
	w.u32(uint32(len(b)))
	w.raw(b)
}

func (w *writer) pubkeyVec(keys []solana.PublicKey) {
	w.u32(uint32(len(keys)))
	for _, k := range keys {
		w.pubkey(k)
	}
}

func (w *writer) bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}

// reader is the decoding counterpart of writer.
type reader struct {
	dec *ag_binary.Decoder
	err error
}

func newReader(data []byte) *reader {
	return &reader{dec: ag_binary.NewBorshDecoder(data)}
}

func (r *reader) raw(n int) []byte {
	if r.err != nil {
		return nil
	}
	b, err := r.dec.ReadNBytes(n)
	if err != nil {
		r.err = err
		return nil
	}
	return b
}

func (r *reader) expect(d Discriminator, what string) {
	got := r.raw(8)
	if r.err == nil && !bytes.Equal(got, d[:]) {
		r.err = fmt.Errorf("%s: unexpected discriminator %x", what, got)
	}
}

func (r *reader) u8() uint8 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint8()
	r.err = err
	return v
}

func (r *reader) u16() uint16 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint16(ag_binary.LE)
	r.err = err
	return v
}

func (r *reader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint32(ag_binary.LE)
	r.err = err
	return v
}

func (r *reader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint64(ag_binary.LE)
	r.err = err
	return v
}

func (r *reader) i64() int64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadInt64(ag_binary.LE)
	r.err = err
	return v
}

func (r *reader) boolean() bool {
	if r.err != nil {
		return false
	}
	v, err := r.dec.ReadBool()
	r.err = err
	return v
}

func (r *reader) pubkey() solana.PublicKey {
	b := r.raw(32)
	if r.err != nil {
		return solana.PublicKey{}
	}
	return solana.PublicKeyFromBytes(b)
}

func (r *reader) optPubkey() *solana.PublicKey {
	if r.u8() == 0 || r.err != nil {
		return nil
	}
	k := r.pubkey()
	return &k
}

func (r *reader) str() string {
	n := r.u32()
	return string(r.raw(int(n)))
}

func (r *reader) optStr() *string {
	if r.u8() == 0 || r.err != nil {
		return nil
	}
	s := r.str()
	return &s
}

func (r *reader) bytesVec() []byte {
	n := r.u32()
	return r.raw(int(n))
}

func (r *reader) pubkeyVec() []solana.PublicKey {
	n := r.u32()
	if r.err != nil {
		return nil
	}
	if int(n)*32 > r.dec.Remaining() {
		r.err = fmt.Errorf("vector of %d keys exceeds remaining data", n)
		return nil
	}
	keys := make([]solana.PublicKey, 0, n)
	for i := uint32(0); i < n && r.err == nil; i++ {
		keys = append(keys, r.pubkey())
	}
	return keys
}
