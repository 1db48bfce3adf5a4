package squads

import (
	"errors"
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"
)

// CompiledInstruction is an instruction inside a vault transaction message,
// with accounts referenced by position in the message's key list.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	AccountIndexes []uint8
	Data           []byte
}

type AddressTableLookup struct {
	AccountKey      solana.PublicKey
	WritableIndexes []uint8
	ReadonlyIndexes []uint8
}

// TransactionMessage is the message a vault executes. Account keys are ordered
// writable signers, readonly signers, writable non-signers, readonly non-signers.
type TransactionMessage struct {
	NumSigners            uint8
	NumWritableSigners    uint8
	NumWritableNonSigners uint8
	AccountKeys           []solana.PublicKey
	Instructions          []CompiledInstruction
	AddressTableLookups   []AddressTableLookup
}

var ErrMessageTooLarge = errors.New("vault transaction message too large")

type keyMeta struct {
	key      solana.PublicKey
	signer   bool
	writable bool
}

// CompileMessage compiles instructions into a message paid for and signed by vault.
// The vault is always the first key, even for an empty instruction list.
func CompileMessage(vault solana.PublicKey, instructions []solana.Instruction) (*TransactionMessage, error) {
	metas := []*keyMeta{{key: vault, signer: true, writable: true}}
	index := map[solana.PublicKey]*keyMeta{vault: metas[0]}

	add := func(key solana.PublicKey, signer, writable bool) {
		if m, ok := index[key]; ok {
			m.signer = m.signer || signer
			m.writable = m.writable || writable
			return
		}
		m := &keyMeta{key: key, signer: signer, writable: writable}
		index[key] = m
		metas = append(metas, m)
	}

	for _, ix := range instructions {
		for _, acc := range ix.Accounts() {
			add(acc.PublicKey, acc.IsSigner, acc.IsWritable)
		}
		add(ix.ProgramID(), false, false)
	}

	var ordered []*keyMeta
	groups := []func(*keyMeta) bool{
		func(m *keyMeta) bool { return m.signer && m.writable },
		func(m *keyMeta) bool { return m.signer && !m.writable },
		func(m *keyMeta) bool { return !m.signer && m.writable },
		func(m *keyMeta) bool { return !m.signer && !m.writable },
	}
	counts := make([]int, len(groups))
	for g, match := range groups {
		for _, m := range metas {
			if match(m) {
				ordered = append(ordered, m)
				counts[g]++
			}
		}
	}
	if len(ordered) > math.MaxUint8 || len(instructions) > math.MaxUint8 {
		return nil, fmt.Errorf("%w: %d accounts, %d instructions", ErrMessageTooLarge, len(ordered), len(instructions))
	}

	position := make(map[solana.PublicKey]uint8, len(ordered))
	msg := &TransactionMessage{
		NumSigners:            uint8(counts[0] + counts[1]),
		NumWritableSigners:    uint8(counts[0]),
		NumWritableNonSigners: uint8(counts[2]),
	}
	for i, m := range ordered {
		position[m.key] = uint8(i)
		msg.AccountKeys = append(msg.AccountKeys, m.key)
	}

	for _, ix := range instructions {
		data, err := ix.Data()
		if err != nil {
			return nil, fmt.Errorf("failed to encode inner instruction: %w", err)
		}
		if len(data) > math.MaxUint16 {
			return nil, fmt.Errorf("%w: instruction data is %d bytes", ErrMessageTooLarge, len(data))
		}
		accounts := ix.Accounts()
		compiled := CompiledInstruction{
			ProgramIDIndex: position[ix.ProgramID()],
			AccountIndexes: make([]uint8, len(accounts)),
			Data:           data,
		}
		for i, acc := range accounts {
			compiled.AccountIndexes[i] = position[acc.PublicKey]
		}
		msg.Instructions = append(msg.Instructions, compiled)
	}
	return msg, nil
}

func (m *TransactionMessage) IsSigner(i int) bool {
	return i < int(m.NumSigners)
}

func (m *TransactionMessage) IsWritable(i int) bool {
	if i < int(m.NumSigners) {
		return i < int(m.NumWritableSigners)
	}
	return i-int(m.NumSigners) < int(m.NumWritableNonSigners)
}

// RemainingAccounts lists the accounts vault_transaction_execute expects after
// its fixed accounts. The vault signs through the program, so no key is marked
// as a signer here.
func (m *TransactionMessage) RemainingAccounts() []*solana.AccountMeta {
	metas := make([]*solana.AccountMeta, 0, len(m.AccountKeys))
	for i, key := range m.AccountKeys {
		metas = append(metas, &solana.AccountMeta{
			PublicKey:  key,
			IsWritable: m.IsWritable(i),
		})
	}
	return metas
}

// MarshalCompact encodes the message in the compact form taken by
// vault_transaction_create: u8 length prefixes, u16 for instruction data.
func (m *TransactionMessage) MarshalCompact() ([]byte, error) {
	w := newWriter()
	w.u8(m.NumSigners)
	w.u8(m.NumWritableSigners)
	w.u8(m.NumWritableNonSigners)
	w.u8(uint8(len(m.AccountKeys)))
	for _, k := range m.AccountKeys {
		w.pubkey(k)
	}
	w.u8(uint8(len(m.Instructions)))
	for _, ix := range m.Instructions {
		w.u8(ix.ProgramIDIndex)
		w.u8(uint8(len(ix.AccountIndexes)))
		w.raw(ix.AccountIndexes)
		w.u16(uint16(len(ix.Data)))
		w.raw(ix.Data)
	}
	w.u8(uint8(len(m.AddressTableLookups)))
	for _, l := range m.AddressTableLookups {
		w.pubkey(l.AccountKey)
		w.u8(uint8(len(l.WritableIndexes)))
		w.raw(l.WritableIndexes)
		w.u8(uint8(len(l.ReadonlyIndexes)))
		w.raw(l.ReadonlyIndexes)
	}
	return w.bytes()
}

func UnmarshalCompactMessage(data []byte) (*TransactionMessage, error) {
	r := newReader(data)
	m := &TransactionMessage{
		NumSigners:            r.u8(),
		NumWritableSigners:    r.u8(),
		NumWritableNonSigners: r.u8(),
	}
	for n := int(r.u8()); n > 0 && r.err == nil; n-- {
		m.AccountKeys = append(m.AccountKeys, r.pubkey())
	}
	for n := int(r.u8()); n > 0 && r.err == nil; n-- {
		ix := CompiledInstruction{ProgramIDIndex: r.u8()}
		ix.AccountIndexes = r.raw(int(r.u8()))
		ix.Data = r.raw(int(r.u16()))
		m.Instructions = append(m.Instructions, ix)
	}
	for n := int(r.u8()); n > 0 && r.err == nil; n-- {
		l := AddressTableLookup{AccountKey: r.pubkey()}
		l.WritableIndexes = r.raw(int(r.u8()))
		l.ReadonlyIndexes = r.raw(int(r.u8()))
		m.AddressTableLookups = append(m.AddressTableLookups, l)
	}
	if r.err != nil {
		return nil, fmt.Errorf("failed to decode transaction message: %w", r.err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *TransactionMessage) validate() error {
	if int(m.NumSigners) > len(m.AccountKeys) ||
		m.NumWritableSigners > m.NumSigners ||
		int(m.NumSigners)+int(m.NumWritableNonSigners) > len(m.AccountKeys) {
		return errors.New("transaction message header does not match its keys")
	}
	for _, ix := range m.Instructions {
		if int(ix.ProgramIDIndex) >= len(m.AccountKeys) {
			return errors.New("transaction message references an unknown program")
		}
		for _, idx := range ix.AccountIndexes {
			if int(idx) >= len(m.AccountKeys) {
				return errors.New("transaction message references an unknown account")
			}
		}
	}
	return nil
}

// marshalStored and unmarshalStored use the layout kept inside the vault
// transaction account, which has u32 length prefixes throughout.
func (m *TransactionMessage) marshalStored(w *writer) {
	w.u8(m.NumSigners)
	w.u8(m.NumWritableSigners)
	w.u8(m.NumWritableNonSigners)
	w.pubkeyVec(m.AccountKeys)
	w.u32(uint32(len(m.Instructions)))
	for _, ix := range m.Instructions {
		w.u8(ix.ProgramIDIndex)
		w.bytesVec(ix.AccountIndexes)
		w.bytesVec(ix.Data)
	}
	w.u32(uint32(len(m.AddressTableLookups)))
	for _, l := range m.AddressTableLookups {
		w.pubkey(l.AccountKey)
		w.bytesVec(l.WritableIndexes)
		w.bytesVec(l.ReadonlyIndexes)
	}
}

func unmarshalStored(r *reader) *TransactionMessage {
	m := &TransactionMessage{
		NumSigners:            r.u8(),
		NumWritableSigners:    r.u8(),
		NumWritableNonSigners: r.u8(),
		AccountKeys:           r.pubkeyVec(),
	}
	for n := r.u32(); n > 0 && r.err == nil; n-- {
		ix := CompiledInstruction{ProgramIDIndex: r.u8()}
		ix.AccountIndexes = r.bytesVec()
		ix.Data = r.bytesVec()
		m.Instructions = append(m.Instructions, ix)
	}
	for n := r.u32(); n > 0 && r.err == nil; n-- {
		l := AddressTableLookup{AccountKey: r.pubkey()}
		l.WritableIndexes = r.bytesVec()
		l.ReadonlyIndexes = r.bytesVec()
		m.AddressTableLookups = append(m.AddressTableLookups, l)
	}
	return m
}
