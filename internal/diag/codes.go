package diag

import (
	"fmt"
)

type Code uint16

const (
	UnknownCode Code = 0

	// Container load/verify (1000-1999)
	PackInfo              Code = 1000
	PackBadSchema         Code = 1001
	PackTruncatedPayload  Code = 1002
	PackDanglingReference Code = 1003
	PackDuplicateClass    Code = 1004
	PackBadRegisterFrame  Code = 1005

	// Method code / IR (2000-2999)
	CodeInfo                Code = 2000
	CodeBadOpcode           Code = 2001
	CodeTruncatedInsn       Code = 2002
	CodeBranchOutOfRange    Code = 2003
	CodeBadPayload          Code = 2004
	CodeMisalignedPayload   Code = 2005
	CodeBadTryRange         Code = 2006
	CodeRegisterOutOfFrame  Code = 2007
	CodeUnreachableHandler  Code = 2008
	CodeFrameTooLarge       Code = 2009
	CodeOperandTooWide      Code = 2010
	CodeDanglingBranch      Code = 2011
	CodeOrphanPayload       Code = 2012
	CodeSyncFailed          Code = 2013

	// Transform passes (3000-3999)
	PassInfo                  Code = 3000
	PassSkippedMethod         Code = 3001
	PassInlineTooManyRegs     Code = 3002
	PassInlineNotApplicable   Code = 3003
	PassBuilderEscapes        Code = 3004
	PassBuilderMultipleSites  Code = 3005
	PassBuilderFieldUndefined Code = 3006
	PassRolledBack            Code = 3007
	PassBudgetExceeded        Code = 3008

	// I/O (4000-4999)
	IOLoadError  Code = 4001
	IOStoreError Code = 4002

	// Driver / configuration (5000-5999)
	DrvInfo            Code = 5000
	DrvUnknownPass     Code = 5001
	DrvBadConfig       Code = 5002
	DrvCancelled       Code = 5003
	DrvMethodPanicked  Code = 5004
	DrvNoInput         Code = 5005
	DrvBadJobCount     Code = 5006
	DrvClassBlocklist  Code = 5007

	// Observability (6000-6999)
	ObsInfo    Code = 6000
	ObsTimings Code = 6001
)

var codeDescription = map[Code]string{
	UnknownCode: "Unknown error",

	PackInfo:              "Container information",
	PackBadSchema:         "Unsupported container schema version",
	PackTruncatedPayload:  "Truncated container payload",
	PackDanglingReference: "Reference to a missing pool entry",
	PackDuplicateClass:    "Duplicate class definition",
	PackBadRegisterFrame:  "Inconsistent register frame",

	CodeInfo:               "Method code information",
	CodeBadOpcode:          "Unrecognized opcode",
	CodeTruncatedInsn:      "Instruction extends past end of code",
	CodeBranchOutOfRange:   "Branch target outside the method",
	CodeBadPayload:         "Malformed payload pseudo-instruction",
	CodeMisalignedPayload:  "Payload at an odd code-unit address",
	CodeBadTryRange:        "Try range does not cover whole instructions",
	CodeRegisterOutOfFrame: "Register number exceeds the frame",
	CodeUnreachableHandler: "Exception handler is unreachable",
	CodeFrameTooLarge:      "Register frame exceeds the encodable maximum",
	CodeOperandTooWide:     "Register does not fit the operand field",
	CodeDanglingBranch:     "Branch to a removed instruction",
	CodeOrphanPayload:      "Payload with no referencing switch or fill",
	CodeSyncFailed:         "Failed to re-encode method code",

	PassInfo:                  "Pass information",
	PassSkippedMethod:         "Method skipped by a pass",
	PassInlineTooManyRegs:     "Inlining would exceed 16 registers",
	PassInlineNotApplicable:   "Call site cannot be inlined",
	PassBuilderEscapes:        "Builder object escapes the method",
	PassBuilderMultipleSites:  "Builder constructed at several sites",
	PassBuilderFieldUndefined: "Builder field read before any write",
	PassRolledBack:            "Method restored after a failed transform",
	PassBudgetExceeded:        "Estimated code growth budget exceeded",

	IOLoadError:  "Failed to load input",
	IOStoreError: "Failed to write output",

	DrvInfo:           "Driver information",
	DrvUnknownPass:    "Unknown pass name",
	DrvBadConfig:      "Invalid configuration",
	DrvCancelled:      "Run cancelled",
	DrvMethodPanicked: "Pass panicked on a method",
	DrvNoInput:        "No input files",
	DrvBadJobCount:    "Invalid worker count",
	DrvClassBlocklist: "Class excluded by configuration",

	ObsInfo:    "Observability information",
	ObsTimings: "Phase timing report",
}

// ID returns the short printable form of the code, prefixed by the
// subsystem the numeric range belongs to.
func (c Code) ID() string {
	switch ic := int(c); {
	case ic >= 1000 && ic < 2000:
		return fmt.Sprintf("PCK%04d", ic)
	case ic >= 2000 && ic < 3000:
		return fmt.Sprintf("COD%04d", ic)
	case ic >= 3000 && ic < 4000:
		return fmt.Sprintf("OPT%04d", ic)
	case ic >= 4000 && ic < 5000:
		return fmt.Sprintf("IO%04d", ic)
	case ic >= 5000 && ic < 6000:
		return fmt.Sprintf("DRV%04d", ic)
	case ic >= 6000 && ic < 7000:
		return fmt.Sprintf("OBS%04d", ic)
	default:
		return fmt.Sprintf("UNK%04d", ic)
	}
}

func (c Code) Title() string {
	desc, ok := codeDescription[c]
	if !ok {
		return codeDescription[Code(0)]
	}
	return desc
}

func (c Code) String() string {
	return fmt.Sprintf("[%s]: %s", c.ID(), c.Title())
}
