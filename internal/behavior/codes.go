package behavior

import "github.com/joeycumines/conduct/internal/contract"

// Contract violation codes reported by this package.
const (
	CodeInitTwice            contract.Code = "init-twice"
	CodeNotInitialized       contract.Code = "not-initialized"
	CodeScopeUnderflow       contract.Code = "scope-underflow"
	CodeLeftScopeWhileActive contract.Code = "left-scope-while-active"
	CodeActivateOutOfScope   contract.Code = "activate-out-of-scope"
	CodeDoubleActivation     contract.Code = "double-activation"
	CodeActivationWithoutAsk contract.Code = "activation-without-same-tick-ask"
	CodeDeactivateInactive   contract.Code = "deactivate-inactive"
	CodeUpdateOutOfScope     contract.Code = "update-out-of-scope"
	CodeDuplicateUpdate      contract.Code = "duplicate-update"
	CodeSkippedUpdate        contract.Code = "skipped-update"
	CodeDoubleDelegation     contract.Code = "double-delegation"
	CodeStackCorrupt         contract.Code = "stack-corrupt"
	CodeAttachAfterInit      contract.Code = "attach-after-init"
)
