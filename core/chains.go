package core

import (
	"slices"
	"strings"
)

// Chain is resolved chain metadata.
type Chain struct {
	ID        ChainID
	Name      string
	Namespace string
	Symbol    string
	Decimals  int32
	Testnet   bool
}

// ChainSet indexes chain metadata by id.
type ChainSet map[ChainID]Chain

// Known EVM chains.
var KnownChains = ChainSet{
	"1":        {ID: "1", Name: "Ethereum", Namespace: "eip155", Symbol: "ETH", Decimals: 18},
	"10":       {ID: "10", Name: "Optimism", Namespace: "eip155", Symbol: "ETH", Decimals: 18},
	"56":       {ID: "56", Name: "BNB Smart Chain", Namespace: "eip155", Symbol: "BNB", Decimals: 18},
	"137":      {ID: "137", Name: "Polygon", Namespace: "eip155", Symbol: "POL", Decimals: 18},
	"8453":     {ID: "8453", Name: "Base", Namespace: "eip155", Symbol: "ETH", Decimals: 18},
	"42161":    {ID: "42161", Name: "Arbitrum One", Namespace: "eip155", Symbol: "ETH", Decimals: 18},
	"11155111": {ID: "11155111", Name: "Sepolia", Namespace: "eip155", Symbol: "ETH", Decimals: 18, Testnet: true},
	"80002":    {ID: "80002", Name: "Polygon Amoy", Namespace: "eip155", Symbol: "POL", Decimals: 18, Testnet: true},
	"84532":    {ID: "84532", Name: "Base Sepolia", Namespace: "eip155", Symbol: "ETH", Decimals: 18, Testnet: true},
}

// Symbolic chain group identifiers.
const (
	GroupEVM         = "evm"
	GroupEVMMainnets = "evm:mainnet"
	GroupEVMTestnets = "evm:testnet"
)

// ChainGroups returns the chain ids a group identifier expands to, and
// whether the identifier names a group at all.
func ChainGroups(set ChainSet, group string) ([]ChainID, bool) {
	var match func(Chain) bool
	switch strings.ToLower(group) {
	case GroupEVM:
		match = func(c Chain) bool { return c.Namespace == "eip155" }
	case GroupEVMMainnets:
		match = func(c Chain) bool { return c.Namespace == "eip155" && !c.Testnet }
	case GroupEVMTestnets:
		match = func(c Chain) bool { return c.Namespace == "eip155" && c.Testnet }
	default:
		return nil, false
	}

	var ids []ChainID
	for id, c := range set {
		if match(c) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, true
}

// ExpandChains expands group identifiers and passes chain ids through.
// The result is sorted and free of duplicates.
func ExpandChains(set ChainSet, identifiers []string) []ChainID {
	var out []ChainID
	for _, ident := range identifiers {
		ident = strings.TrimSpace(ident)
		if ident == "" {
			continue
		}
		if ids, ok := ChainGroups(set, ident); ok {
			out = append(out, ids...)
			continue
		}
		out = append(out, ChainID(strings.TrimPrefix(ident, "eip155:")))
	}
	slices.Sort(out)
	return slices.Compact(out)
}
