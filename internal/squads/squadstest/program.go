package squadstest

import (
	"github.com/gagliardetto/solana-go"

	"squadsflow-go/internal/squads"
)

type account struct {
	key      solana.PublicKey
	signer   bool
	writable bool
}

type call struct {
	index    int
	accounts []account
	args     []byte
}

func (c *call) fail(code uint32) error {
	return squads.NewProgramError(c.index, code)
}

// need checks the fixed account count of an instruction.
func (c *call) need(n int) error {
	if len(c.accounts) < n {
		return c.fail(squads.CodeInvalidNumberOfAccounts)
	}
	return nil
}

func (c *call) signer(i int) error {
	if !c.accounts[i].signer {
		return c.fail(squads.CodeAccountNotSigner)
	}
	return nil
}

func (l *Ledger) apply(st *state, tx *solana.Transaction, i int, ix solana.CompiledInstruction) error {
	keys := tx.Message.AccountKeys
	if int(ix.ProgramIDIndex) >= len(keys) || !keys[ix.ProgramIDIndex].Equals(l.program.ProgramID) {
		// Other programs are outside the emulation.
		return nil
	}
	c := &call{index: i}
	numSigners := int(tx.Message.Header.NumRequiredSignatures)
	for _, idx := range ix.Accounts {
		if int(idx) >= len(keys) {
			return c.fail(squads.CodeInvalidAccount)
		}
		c.accounts = append(c.accounts, account{key: keys[idx], signer: int(idx) < numSigners})
	}

	disc, args, err := squads.SplitInstruction(ix.Data)
	if err != nil {
		return c.fail(squads.CodeInvalidAccount)
	}
	c.args = args
	switch disc {
	case squads.DiscMultisigCreateV2:
		return l.createMultisig(st, c)
	case squads.DiscMultisigAddSpendingLimit:
		return l.addSpendingLimit(st, c)
	case squads.DiscVaultTransactionCreate:
		return l.createVaultTransaction(st, c)
	case squads.DiscProposalCreate:
		return l.createProposal(st, c)
	case squads.DiscProposalApprove:
		return l.vote(st, c, squads.VoteApprove)
	case squads.DiscProposalReject:
		return l.vote(st, c, squads.VoteReject)
	case squads.DiscVaultTransactionExecute:
		return l.execute(st, c)
	}
	return c.fail(squads.CodeInvalidAccount)
}

func (l *Ledger) taken(st *state, addr solana.PublicKey) bool {
	if _, ok := st.multisigs[addr]; ok {
		return true
	}
	if _, ok := st.proposals[addr]; ok {
		return true
	}
	if _, ok := st.transactions[addr]; ok {
		return true
	}
	_, ok := st.spendingLimits[addr]
	return ok
}

// member resolves the multisig at accounts[0] and checks that accounts[i] is
// a signing member holding perm.
func (l *Ledger) member(st *state, c *call, i int, perm uint8) (*multisigState, error) {
	ms, ok := st.multisigs[c.accounts[0].key]
	if !ok {
		return nil, c.fail(squads.CodeAccountNotInit)
	}
	if err := c.signer(i); err != nil {
		return nil, err
	}
	m, ok := ms.info.Member(c.accounts[i].key)
	if !ok {
		return nil, c.fail(squads.CodeNotAMember)
	}
	if !m.Has(perm) {
		return nil, c.fail(squads.CodeUnauthorized)
	}
	return ms, nil
}

// accounts: program config, treasury, multisig, create key, creator, system program
func (l *Ledger) createMultisig(st *state, c *call) error {
	if err := c.need(6); err != nil {
		return err
	}
	args, err := squads.DecodeMultisigCreateArgs(c.args)
	if err != nil {
		return c.fail(squads.CodeInvalidAccount)
	}
	cfg, _, _ := l.program.ProgramConfig()
	if !c.accounts[0].key.Equals(cfg) {
		return c.fail(squads.CodeConstraintSeeds)
	}
	if !c.accounts[1].key.Equals(l.treasury) {
		return c.fail(squads.CodeInvalidAccount)
	}
	if err := c.signer(3); err != nil {
		return err
	}
	if err := c.signer(4); err != nil {
		return err
	}
	createKey := c.accounts[3].key
	addr, _, _ := l.program.Multisig(createKey)
	if !c.accounts[2].key.Equals(addr) {
		return c.fail(squads.CodeConstraintSeeds)
	}
	if l.taken(st, addr) {
		return c.fail(squads.CodeAccountAlreadyInUse)
	}

	if len(args.Members) == 0 {
		return c.fail(squads.CodeEmptyMembers)
	}
	seen := make(map[solana.PublicKey]bool)
	for _, m := range args.Members {
		if seen[m.Key] {
			return c.fail(squads.CodeDuplicateMember)
		}
		seen[m.Key] = true
	}
	ms := &multisigState{
		createKey: createKey,
		info: squads.MultisigInfo{
			Address:   addr,
			Threshold: args.Threshold,
			TimeLock:  args.TimeLock,
			Members:   args.Members,
		},
	}
	if args.Threshold == 0 || int(args.Threshold) > ms.voters() {
		return c.fail(squads.CodeInvalidThreshold)
	}
	if args.ConfigAuthority != nil {
		ms.configAuthority = *args.ConfigAuthority
	}
	ms.info.DefaultVault, _, _ = l.program.Vault(addr, 0)
	st.multisigs[addr] = ms
	return nil
}

// accounts: multisig, config authority, spending limit, rent payer, system program
func (l *Ledger) addSpendingLimit(st *state, c *call) error {
	if err := c.need(5); err != nil {
		return err
	}
	args, err := squads.DecodeSpendingLimitArgs(c.args)
	if err != nil {
		return c.fail(squads.CodeInvalidAccount)
	}
	multisig := c.accounts[0].key
	ms, ok := st.multisigs[multisig]
	if !ok {
		return c.fail(squads.CodeAccountNotInit)
	}
	if ms.configAuthority.IsZero() || !ms.configAuthority.Equals(c.accounts[1].key) {
		return c.fail(squads.CodeUnauthorized)
	}
	if err := c.signer(1); err != nil {
		return err
	}
	if err := c.signer(3); err != nil {
		return err
	}
	addr, _, _ := l.program.SpendingLimit(multisig, args.CreateKey)
	if !c.accounts[2].key.Equals(addr) {
		return c.fail(squads.CodeConstraintSeeds)
	}
	if l.taken(st, addr) {
		return c.fail(squads.CodeAccountAlreadyInUse)
	}
	if len(args.Members) == 0 {
		return c.fail(squads.CodeEmptyMembers)
	}
	st.spendingLimits[addr] = &SpendingLimit{Address: addr, Multisig: multisig, SpendingLimitArgs: *args}
	return nil
}

// accounts: multisig, transaction, creator, rent payer, system program
func (l *Ledger) createVaultTransaction(st *state, c *call) error {
	if err := c.need(5); err != nil {
		return err
	}
	args, err := squads.DecodeVaultTransactionArgs(c.args)
	if err != nil {
		return c.fail(squads.CodeInvalidTransactionMsg)
	}
	ms, err := l.member(st, c, 2, squads.PermissionInitiate)
	if err != nil {
		return err
	}
	if err := c.signer(3); err != nil {
		return err
	}
	multisig := c.accounts[0].key
	next := ms.info.TransactionIndex + 1
	addr, bump, _ := l.program.Transaction(multisig, next)
	if !c.accounts[1].key.Equals(addr) {
		return c.fail(squads.CodeConstraintSeeds)
	}
	if l.taken(st, addr) {
		return c.fail(squads.CodeAccountAlreadyInUse)
	}
	msg, err := squads.UnmarshalCompactMessage(args.Message)
	if err != nil {
		return c.fail(squads.CodeInvalidTransactionMsg)
	}
	vault, _, _ := l.program.Vault(multisig, args.VaultIndex)
	if len(msg.AccountKeys) == 0 || !msg.AccountKeys[0].Equals(vault) {
		return c.fail(squads.CodeInvalidTransactionMsg)
	}
	ms.info.TransactionIndex = next
	st.transactions[addr] = &squads.VaultTransactionAccount{
		Multisig:   multisig,
		Creator:    c.accounts[2].key,
		Index:      next,
		Bump:       bump,
		VaultIndex: args.VaultIndex,
		Message:    msg,
	}
	return nil
}

// accounts: multisig, proposal, creator, rent payer, system program
func (l *Ledger) createProposal(st *state, c *call) error {
	if err := c.need(5); err != nil {
		return err
	}
	args, err := squads.DecodeProposalCreateArgs(c.args)
	if err != nil {
		return c.fail(squads.CodeInvalidAccount)
	}
	ms, ok := st.multisigs[c.accounts[0].key]
	if !ok {
		return c.fail(squads.CodeAccountNotInit)
	}
	if err := c.signer(2); err != nil {
		return err
	}
	if err := c.signer(3); err != nil {
		return err
	}
	m, ok := ms.info.Member(c.accounts[2].key)
	if !ok {
		return c.fail(squads.CodeNotAMember)
	}
	if !m.Has(squads.PermissionInitiate) && !m.Has(squads.PermissionVote) {
		return c.fail(squads.CodeUnauthorized)
	}
	if args.TransactionIndex > ms.info.TransactionIndex || args.TransactionIndex <= ms.info.StaleTransactionIndex {
		return c.fail(squads.CodeInvalidTransactionIndex)
	}
	addr, bump, _ := l.program.Proposal(c.accounts[0].key, args.TransactionIndex)
	if !c.accounts[1].key.Equals(addr) {
		return c.fail(squads.CodeConstraintSeeds)
	}
	if l.taken(st, addr) {
		return c.fail(squads.CodeAccountAlreadyInUse)
	}
	status := squads.ProposalActive
	if args.Draft {
		status = squads.ProposalDraft
	}
	st.proposals[addr] = &squads.ProposalAccount{
		Multisig:         c.accounts[0].key,
		TransactionIndex: args.TransactionIndex,
		Status:           status,
		Timestamp:        l.now().Unix(),
		Bump:             bump,
	}
	return nil
}

func contains(keys []solana.PublicKey, k solana.PublicKey) bool {
	for _, key := range keys {
		if key.Equals(k) {
			return true
		}
	}
	return false
}

// accounts: multisig, member, proposal
func (l *Ledger) vote(st *state, c *call, v squads.Vote) error {
	if err := c.need(3); err != nil {
		return err
	}
	ms, err := l.member(st, c, 1, squads.PermissionVote)
	if err != nil {
		return err
	}
	p, ok := st.proposals[c.accounts[2].key]
	if !ok || !p.Multisig.Equals(c.accounts[0].key) {
		return c.fail(squads.CodeAccountNotInit)
	}
	if p.Status != squads.ProposalActive {
		return c.fail(squads.CodeInvalidProposalStatus)
	}
	if p.TransactionIndex <= ms.info.StaleTransactionIndex {
		return c.fail(squads.CodeStaleProposal)
	}
	voter := c.accounts[1].key
	switch v {
	case squads.VoteApprove:
		if contains(p.Approved, voter) {
			return c.fail(squads.CodeAlreadyApproved)
		}
		p.Approved = append(p.Approved, voter)
		if len(p.Approved) >= int(ms.info.Threshold) {
			p.Status = squads.ProposalApproved
			p.Timestamp = l.now().Unix()
		}
	case squads.VoteReject:
		if contains(p.Rejected, voter) {
			return c.fail(squads.CodeAlreadyRejected)
		}
		p.Rejected = append(p.Rejected, voter)
		cutoff := ms.voters() - int(ms.info.Threshold) + 1
		if len(p.Rejected) >= cutoff {
			p.Status = squads.ProposalRejected
			p.Timestamp = l.now().Unix()
		}
	}
	return nil
}

// accounts: multisig, proposal, transaction, member, then the message keys
func (l *Ledger) execute(st *state, c *call) error {
	if err := c.need(4); err != nil {
		return err
	}
	ms, err := l.member(st, c, 3, squads.PermissionExecute)
	if err != nil {
		return err
	}
	p, ok := st.proposals[c.accounts[1].key]
	if !ok || !p.Multisig.Equals(c.accounts[0].key) {
		return c.fail(squads.CodeAccountNotInit)
	}
	tx, ok := st.transactions[c.accounts[2].key]
	if !ok || tx.Index != p.TransactionIndex {
		return c.fail(squads.CodeInvalidAccount)
	}
	if p.Status != squads.ProposalApproved {
		return c.fail(squads.CodeInvalidProposalStatus)
	}
	if ms.info.TimeLock > 0 && l.now().Unix() < p.Timestamp+int64(ms.info.TimeLock) {
		return c.fail(squads.CodeTimeLockNotReleased)
	}
	remaining := c.accounts[4:]
	if len(remaining) != len(tx.Message.AccountKeys) {
		return c.fail(squads.CodeInvalidNumberOfAccounts)
	}
	for i, acc := range remaining {
		if !acc.key.Equals(tx.Message.AccountKeys[i]) {
			return c.fail(squads.CodeInvalidAccount)
		}
	}
	p.Status = squads.ProposalExecuted
	p.Timestamp = l.now().Unix()
	return nil
}
