package tokenizer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"

	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
)

const AudienceChallenge = "passport:challenge"
const AudienceAccess = "passport:access"
const AudienceRefresh = "passport:refresh"

// JWTTokenizer implements the Tokenizer interface using JWT
type JWTTokenizer struct {
	signKey *ecdsa.PrivateKey
}

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer(signKey *ecdsa.PrivateKey) *JWTTokenizer {
	return &JWTTokenizer{signKey: signKey}
}

var _ ports.Tokenizer = (*JWTTokenizer)(nil)

func (j *JWTTokenizer) sign(claims jwt.Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (j *JWTTokenizer) parse(tokenStr string, claims jwt.Claims, audience string) error {
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &j.signKey.PublicKey, nil
	}, jwt.WithAudience(audience))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("%w: %w", core.ErrTokenExpired, err)
		}
		return fmt.Errorf("%w: %w", core.ErrInvalidToken, err)
	}
	if !token.Valid {
		return core.ErrInvalidToken
	}
	return nil
}

// ChallengeToToken converts a Challenge to a JWT token
func (j *JWTTokenizer) ChallengeToToken(challenge *core.Challenge) (string, error) {
	return j.sign(ChallengeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   challenge.Address,
			ID:        challenge.ID,
			ExpiresAt: jwt.NewNumericDate(challenge.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(challenge.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceChallenge},
		},
		Nonce: challenge.Nonce,
	})
}

// TokenToChallenge converts a JWT token to a Challenge
func (j *JWTTokenizer) TokenToChallenge(tokenStr string) (*core.Challenge, error) {
	var claims ChallengeClaims
	if err := j.parse(tokenStr, &claims, AudienceChallenge); err != nil {
		return nil, err
	}
	return &core.Challenge{
		ID:        claims.ID,
		Address:   claims.Subject,
		Nonce:     claims.Nonce,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// SessionToAccessToken converts a session to an access JWT token
func (j *JWTTokenizer) SessionToAccessToken(session *core.AuthSession) (string, error) {
	return j.sign(AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.UID,
			ID:        session.ID,
			ExpiresAt: jwt.NewNumericDate(session.AccessExpiry),
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceAccess},
		},
		Provider:  session.Provider,
		RefreshID: session.RefreshID,
	})
}

// SessionToRefreshToken converts a session to a refresh JWT token
func (j *JWTTokenizer) SessionToRefreshToken(session *core.AuthSession) (string, error) {
	return j.sign(RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.UID,
			ID:        session.RefreshID, // the refresh token is identified by RefreshID
			ExpiresAt: jwt.NewNumericDate(session.RefreshExpiry),
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceRefresh},
		},
		Provider: session.Provider,
	})
}

// AccessTokenToSession parses an access token and returns the associated session
func (j *JWTTokenizer) AccessTokenToSession(tokenStr string) (*core.AuthSession, error) {
	var claims AccessClaims
	if err := j.parse(tokenStr, &claims, AudienceAccess); err != nil {
		return nil, err
	}
	return &core.AuthSession{
		ID:           claims.ID,
		UID:          claims.Subject,
		Provider:     claims.Provider,
		IssuedAt:     claims.IssuedAt.Time,
		AccessExpiry: claims.ExpiresAt.Time,
		RefreshID:    claims.RefreshID,
	}, nil
}

// RefreshTokenToSession parses a refresh token and returns the associated session.
// Only the refresh half of the session is populated.
func (j *JWTTokenizer) RefreshTokenToSession(tokenStr string) (*core.AuthSession, error) {
	var claims RefreshClaims
	if err := j.parse(tokenStr, &claims, AudienceRefresh); err != nil {
		return nil, err
	}
	return &core.AuthSession{
		UID:           claims.Subject,
		Provider:      claims.Provider,
		IssuedAt:      claims.IssuedAt.Time,
		RefreshExpiry: claims.ExpiresAt.Time,
		RefreshID:     claims.ID,
	}, nil
}

// VerifySignature checks that address signed the challenge message with
// personal_sign.
func (j *JWTTokenizer) VerifySignature(challenge *core.Challenge, signatureStr string, addressStr string) error {
	if !common.IsHexAddress(addressStr) || !strings.EqualFold(challenge.Address, addressStr) {
		return fmt.Errorf("address mismatch: %w", core.ErrInvalidSignature)
	}
	sig, err := hexutil.Decode(signatureStr)
	if err != nil {
		return fmt.Errorf("failed to decode signature: %w", core.ErrInvalidSignature)
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("signature must be %d bytes: %w", crypto.SignatureLength, core.ErrInvalidSignature)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	hash := accounts.TextHash([]byte(core.ChallengeMessage(challenge.Nonce)))
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return fmt.Errorf("failed to recover signer: %w", core.ErrInvalidSignature)
	}
	if crypto.PubkeyToAddress(*pub) != common.HexToAddress(addressStr) {
		return core.ErrInvalidSignature
	}
	return nil
}
