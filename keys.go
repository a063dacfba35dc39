package passport

// Stable storage keys. Values are JSON encoded unless noted otherwise.
const (
	KeyCurrentSession    = "passport:current_session"
	KeyUser              = "passport:user"
	KeyIdentities        = "passport:identities"
	KeyFrozenState       = "passport:frozen_state"
	KeyProjectIdentifier = "passport:project_identifier" // plain string
	KeyVerifiers         = "passport:verifiers"
	KeyRelaySession      = "passport:relay_session"

	KeyWeb3Address   = "passport:web3:address"
	KeyWeb3ChainID   = "passport:web3:chain_id"
	KeyWeb3Error     = "passport:web3:error"
	KeyWeb3ErrorCode = "passport:web3:error_code"
	KeyWeb3Session   = "passport:web3:session"
	KeyWeb3Guard     = "passport:web3:guard"
)
