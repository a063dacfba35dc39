package auth

// Redirect query parameters. They are flat strings; structured values are
// JSON encoded.
const (
	ParamProjectIdentifier = "project_identifier"
	ParamProvider          = "provider"
	ParamPublicKey         = "public_key"
	ParamChainID           = "chainId"
	ParamCode              = "code"
	ParamCodeChallenge     = "code_challenge"
	ParamError             = "error"
	ParamErrorCode         = "error_code"
	ParamConnectorType     = "connector_type"
	ParamToken             = "token"
	ParamRespondStrategy   = "respond_strategy"
	ParamTargetOrigin      = "target_origin"
	ParamState             = "state"
)

// QueryParams enumerates every redirect query parameter. Clean removes
// exactly these from the delegate state.
var QueryParams = []string{
	ParamProjectIdentifier,
	ParamProvider,
	ParamPublicKey,
	ParamChainID,
	ParamCode,
	ParamCodeChallenge,
	ParamError,
	ParamErrorCode,
	ParamConnectorType,
	ParamToken,
	ParamRespondStrategy,
	ParamTargetOrigin,
	ParamState,
}

// generated keys are produced locally and never take part in state
// verification.
var generatedKeys = map[string]struct{}{
	ParamError:     {},
	ParamErrorCode: {},
}

// keyWebVersion records which resolver family owns the attempt.
const keyWebVersion = "web_version"

// RespondStrategy selects how the terminal message reaches the opener.
type RespondStrategy string

const (
	StrategyCallback RespondStrategy = "callback"
	StrategyMessage  RespondStrategy = "message"
	StrategyRedirect RespondStrategy = "redirect"
)

// DefaultTargetOrigin is used for cross-window messages without a
// configured origin.
const DefaultTargetOrigin = "*"
