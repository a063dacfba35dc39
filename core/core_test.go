package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandChains(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []ChainID
	}{
		{name: "plain ids", input: []string{"137", "1"}, want: []ChainID{"1", "137"}},
		{name: "caip prefix", input: []string{"eip155:10"}, want: []ChainID{"10"}},
		{name: "testnet group", input: []string{GroupEVMTestnets}, want: []ChainID{"11155111", "80002", "84532"}},
		{name: "dedupe", input: []string{"1", "1", " "}, want: []ChainID{"1"}},
		{name: "empty", input: nil, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandChains(KnownChains, tt.input))
		})
	}
}

func TestChainGroups_Mainnets(t *testing.T) {
	ids, ok := ChainGroups(KnownChains, GroupEVMMainnets)
	assert.True(t, ok)
	assert.Contains(t, ids, ChainID("1"))
	assert.NotContains(t, ids, ChainID("11155111"))

	_, ok = ChainGroups(KnownChains, "solana")
	assert.False(t, ok)
}

func TestConnectedChainNotAllowedError(t *testing.T) {
	err := fmt.Errorf("connect: %w", &ConnectedChainNotAllowedError{ChainID: "1"})

	assert.True(t, errors.Is(err, ErrConnectedChainNotAllowed))
	assert.True(t, IsPolicyViolation(err))
	assert.False(t, IsTransportError(err))

	var target *ConnectedChainNotAllowedError
	assert.True(t, errors.As(err, &target))
	assert.Equal(t, ChainID("1"), target.ChainID)
}

func TestErrorTaxonomy(t *testing.T) {
	assert.True(t, IsTimeout(fmt.Errorf("x: %w", ErrProviderRequestTimeout)))
	assert.False(t, IsTransportError(ErrProviderRequestTimeout))
	assert.True(t, IsTransportError(ErrProviderConnection))
	assert.True(t, IsConfigurationError(ErrAdapterDefinitionMissing))
}

func TestConnectionFilter_AllowsConnectorType(t *testing.T) {
	assert.True(t, ConnectionFilter{}.AllowsConnectorType(ConnectorRelay))

	f := ConnectionFilter{AllowedConnectorTypes: []ConnectorType{ConnectorInjected}}
	assert.True(t, f.AllowsConnectorType(ConnectorInjected))
	assert.False(t, f.AllowsConnectorType(ConnectorRelay))
}

func TestConnectionFilter_IsZero(t *testing.T) {
	assert.True(t, ConnectionFilter{}.IsZero())
	assert.False(t, ConnectionFilter{RestrictedChains: []string{"1"}}.IsZero())
	assert.False(t, ConnectionFilter{AllowedConnectorTypes: []ConnectorType{ConnectorRelay}}.IsZero())
}
