package squads

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

var (
	// ErrProgram matches every *ProgramError.
	ErrProgram = errors.New("multisig program rejected the transaction")
	// ErrStaleTransactionIndex matches program errors caused by building against
	// an outdated transaction index.
	ErrStaleTransactionIndex = errors.New("stale transaction index")
)

const (
	CodeAccountAlreadyInUse uint32 = 0
	CodeConstraintSeeds     uint32 = 2006
	CodeAccountNotSigner    uint32 = 3010
	CodeAccountNotInit      uint32 = 3012

	CodeDuplicateMember         uint32 = 6000
	CodeEmptyMembers            uint32 = 6001
	CodeTooManyMembers          uint32 = 6002
	CodeInvalidThreshold        uint32 = 6003
	CodeUnauthorized            uint32 = 6004
	CodeNotAMember              uint32 = 6005
	CodeInvalidTransactionMsg   uint32 = 6006
	CodeStaleProposal           uint32 = 6007
	CodeInvalidProposalStatus   uint32 = 6008
	CodeInvalidTransactionIndex uint32 = 6009
	CodeAlreadyApproved         uint32 = 6010
	CodeAlreadyRejected         uint32 = 6011
	CodeAlreadyCancelled        uint32 = 6012
	CodeInvalidNumberOfAccounts uint32 = 6013
	CodeInvalidAccount          uint32 = 6014
	CodeTimeLockNotReleased     uint32 = 6021
)

var codeNames = map[uint32]string{
	CodeAccountAlreadyInUse:     "AccountAlreadyInUse",
	CodeConstraintSeeds:         "ConstraintSeeds",
	CodeAccountNotSigner:        "AccountNotSigner",
	CodeAccountNotInit:          "AccountNotInitialized",
	CodeDuplicateMember:         "DuplicateMember",
	CodeEmptyMembers:            "EmptyMembers",
	CodeTooManyMembers:          "TooManyMembers",
	CodeInvalidThreshold:        "InvalidThreshold",
	CodeUnauthorized:            "Unauthorized",
	CodeNotAMember:              "NotAMember",
	CodeInvalidTransactionMsg:   "InvalidTransactionMessage",
	CodeStaleProposal:           "StaleProposal",
	CodeInvalidProposalStatus:   "InvalidProposalStatus",
	CodeInvalidTransactionIndex: "InvalidTransactionIndex",
	CodeAlreadyApproved:         "AlreadyApproved",
	CodeAlreadyRejected:         "AlreadyRejected",
	CodeAlreadyCancelled:        "AlreadyCancelled",
	CodeInvalidNumberOfAccounts: "InvalidNumberOfAccounts",
	CodeInvalidAccount:          "InvalidAccount",
	CodeTimeLockNotReleased:     "TimeLockNotReleased",
}

// ProgramError is a custom error code returned by an instruction.
type ProgramError struct {
	Instruction int
	Code        uint32
}

func NewProgramError(instruction int, code uint32) *ProgramError {
	return &ProgramError{Instruction: instruction, Code: code}
}

func (e *ProgramError) Name() string {
	if name, ok := codeNames[e.Code]; ok {
		return name
	}
	return "Custom"
}

func (e *ProgramError) Error() string {
	return fmt.Sprintf("instruction %d failed: %s (0x%x)", e.Instruction, e.Name(), e.Code)
}

// Stale reports whether the error is what the program returns when a
// transaction or proposal address was derived from an outdated index.
func (e *ProgramError) Stale() bool {
	switch e.Code {
	case CodeAccountAlreadyInUse, CodeConstraintSeeds, CodeInvalidTransactionIndex:
		return true
	}
	return false
}

func (e *ProgramError) Is(target error) bool {
	switch target {
	case ErrProgram:
		return true
	case ErrStaleTransactionIndex:
		return e.Stale()
	}
	return false
}

var (
	customJSONRe = regexp.MustCompile(`"InstructionError":\[(\d+),\{"Custom":(\d+)\}\]`)
	customLogRe  = regexp.MustCompile(`Error processing Instruction (\d+): custom program error: 0x([0-9a-fA-F]+)`)
	// Confirmation failures print the transaction error with %v.
	customMapRe  = regexp.MustCompile(`InstructionError:\[(\d+) map\[Custom:(\d+)\]\]`)
)

// AsProgramError extracts a program error from err. It understands errors
// produced in-process, RPC errors carrying the transaction error payload or
// the preflight log text, and execution errors reported on confirmation.
func AsProgramError(err error) (*ProgramError, bool) {
	if err == nil {
		return nil, false
	}
	var pe *ProgramError
	if errors.As(err, &pe) {
		return pe, true
	}
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Data != nil {
		if raw, mErr := json.Marshal(rpcErr.Data); mErr == nil {
			if pe, ok := parseCustom(customJSONRe, string(raw), 10); ok {
				return pe, true
			}
		}
	}
	if pe, ok := parseCustom(customJSONRe, err.Error(), 10); ok {
		return pe, true
	}
	if pe, ok := parseCustom(customMapRe, err.Error(), 10); ok {
		return pe, true
	}
	return parseCustom(customLogRe, err.Error(), 16)
}

func parseCustom(re *regexp.Regexp, s string, base int) (*ProgramError, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return nil, false
	}
	ix, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, false
	}
	code, err := strconv.ParseUint(m[2], base, 32)
	if err != nil {
		return nil, false
	}
	return NewProgramError(ix, uint32(code)), true
}

// IsStale reports whether err, however it was transported, is a stale index rejection.
func IsStale(err error) bool {
	if errors.Is(err, ErrStaleTransactionIndex) {
		return true
	}
	pe, ok := AsProgramError(err)
	return ok && pe.Stale()
}
