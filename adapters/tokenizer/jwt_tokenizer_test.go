package tokenizer_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/passport/adapters/tokenizer"
	"github.com/layer-3/passport/core"
)

func newTokenizer(t *testing.T) *tokenizer.JWTTokenizer {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return tokenizer.NewJWTTokenizer(key)
}

func TestJWTTokenizer_SessionTokens(t *testing.T) {
	tk := newTokenizer(t)
	now := time.Now().Truncate(time.Second)
	s := &core.AuthSession{
		ID:            "access-1",
		UID:           "0xabc",
		Provider:      "metamask",
		IssuedAt:      now,
		AccessExpiry:  now.Add(15 * time.Minute),
		RefreshExpiry: now.Add(24 * time.Hour),
		RefreshID:     "refresh-1",
	}

	access, err := tk.SessionToAccessToken(s)
	require.NoError(t, err)
	got, err := tk.AccessTokenToSession(access)
	require.NoError(t, err)
	assert.Equal(t, "access-1", got.ID)
	assert.Equal(t, "0xabc", got.UID)
	assert.Equal(t, "metamask", got.Provider)
	assert.Equal(t, "refresh-1", got.RefreshID)
	assert.True(t, s.AccessExpiry.Equal(got.AccessExpiry))

	refresh, err := tk.SessionToRefreshToken(s)
	require.NoError(t, err)
	got, err = tk.RefreshTokenToSession(refresh)
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", got.RefreshID)
	assert.Equal(t, "metamask", got.Provider)

	_, err = tk.AccessTokenToSession(refresh)
	assert.ErrorIs(t, err, core.ErrInvalidToken, "refresh token must not pass as access token")
}

func TestJWTTokenizer_ExpiredToken(t *testing.T) {
	tk := newTokenizer(t)
	past := time.Now().Add(-time.Hour)

	access, err := tk.SessionToAccessToken(&core.AuthSession{UID: "0xabc", IssuedAt: past, AccessExpiry: past.Add(time.Minute)})
	require.NoError(t, err)

	_, err = tk.AccessTokenToSession(access)
	assert.ErrorIs(t, err, core.ErrTokenExpired)
}

func TestJWTTokenizer_ForeignKey(t *testing.T) {
	now := time.Now()
	access, err := newTokenizer(t).SessionToAccessToken(&core.AuthSession{UID: "0xabc", IssuedAt: now, AccessExpiry: now.Add(time.Minute)})
	require.NoError(t, err)

	_, err = newTokenizer(t).AccessTokenToSession(access)
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

func TestJWTTokenizer_VerifySignature(t *testing.T) {
	tk := newTokenizer(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()

	ch := &core.Challenge{ID: "c1", Address: addr, Nonce: "n0nce", IssuedAt: time.Now(), ExpiresAt: time.Now().Add(time.Minute)}
	token, err := tk.ChallengeToToken(ch)
	require.NoError(t, err)
	parsed, err := tk.TokenToChallenge(token)
	require.NoError(t, err)
	assert.Equal(t, "n0nce", parsed.Nonce)

	sig, err := crypto.Sign(accounts.TextHash([]byte(core.ChallengeMessage("n0nce"))), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	assert.NoError(t, tk.VerifySignature(parsed, hexutil.Encode(sig), addr))

	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	otherAddr := crypto.PubkeyToAddress(other.PublicKey).Hex()
	assert.ErrorIs(t, tk.VerifySignature(parsed, hexutil.Encode(sig), otherAddr), core.ErrInvalidSignature)

	wrongNonce, err := crypto.Sign(accounts.TextHash([]byte(core.ChallengeMessage("other"))), key)
	require.NoError(t, err)
	assert.ErrorIs(t, tk.VerifySignature(parsed, hexutil.Encode(wrongNonce), addr), core.ErrInvalidSignature)

	assert.ErrorIs(t, tk.VerifySignature(parsed, "0x1234", addr), core.ErrInvalidSignature)
}
