package config

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketmirror/internal/crypto"
)

// NetworkFragment is one partial source of network settings. A nil field
// means the source does not set it.
type NetworkFragment struct {
	ChainID       *int64  `toml:"chain_id"`
	RPCURL        *string `toml:"rpc_url"`
	Factory       *string `toml:"factory"`
	Pool          *string `toml:"pool"`
	Oracle        *string `toml:"oracle"`
	Staking       *string `toml:"staking"`
	DomainName    *string `toml:"eip712_name"`
	DomainVersion *string `toml:"eip712_version"`
}

// NetworkConfig is the resolved chain, RPC endpoint, contract addresses and
// EIP-712 domain.
type NetworkConfig struct {
	ChainID       int64
	RPCURL        string
	Factory       string
	Pool          string
	Oracle        string
	Staking       string
	DomainName    string
	DomainVersion string
}

// DefaultNetwork is a local development chain. Contract addresses have no
// default.
func DefaultNetwork() NetworkFragment {
	return NetworkFragment{
		ChainID:       ptr(int64(31337)),
		RPCURL:        ptr("http://localhost:8545"),
		DomainName:    ptr(crypto.DomainName),
		DomainVersion: ptr(crypto.DomainVersion),
	}
}

// MergeNetwork resolves each field from explicit, then env, then defaults.
// It reads no global state.
func MergeNetwork(explicit, env, defaults NetworkFragment) NetworkConfig {
	return NetworkConfig{
		ChainID:       pick(explicit.ChainID, env.ChainID, defaults.ChainID),
		RPCURL:        pick(explicit.RPCURL, env.RPCURL, defaults.RPCURL),
		Factory:       pick(explicit.Factory, env.Factory, defaults.Factory),
		Pool:          pick(explicit.Pool, env.Pool, defaults.Pool),
		Oracle:        pick(explicit.Oracle, env.Oracle, defaults.Oracle),
		Staking:       pick(explicit.Staking, env.Staking, defaults.Staking),
		DomainName:    pick(explicit.DomainName, env.DomainName, defaults.DomainName),
		DomainVersion: pick(explicit.DomainVersion, env.DomainVersion, defaults.DomainVersion),
	}
}

// NetworkFromEnv reads the MARKETMIRROR_NETWORK_* variables through lookup.
// Unset or unparsable variables leave the field nil.
func NetworkFromEnv(lookup func(string) (string, bool)) NetworkFragment {
	var f NetworkFragment
	if v, ok := lookup("MARKETMIRROR_NETWORK_CHAIN_ID"); ok && v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.ChainID = &n
		}
	}
	f.RPCURL = envPtr(lookup, "MARKETMIRROR_NETWORK_RPC_URL")
	f.Factory = envPtr(lookup, "MARKETMIRROR_NETWORK_FACTORY")
	f.Pool = envPtr(lookup, "MARKETMIRROR_NETWORK_POOL")
	f.Oracle = envPtr(lookup, "MARKETMIRROR_NETWORK_ORACLE")
	f.Staking = envPtr(lookup, "MARKETMIRROR_NETWORK_STAKING")
	f.DomainName = envPtr(lookup, "MARKETMIRROR_NETWORK_EIP712_NAME")
	f.DomainVersion = envPtr(lookup, "MARKETMIRROR_NETWORK_EIP712_VERSION")
	return f
}

// ChainIDBig returns the chain id as a big.Int.
func (n NetworkConfig) ChainIDBig() *big.Int {
	return big.NewInt(n.ChainID)
}

// OracleDomain returns the EIP-712 domain proposals are signed under.
func (n NetworkConfig) OracleDomain() crypto.Domain {
	return crypto.Domain{
		Name:              n.DomainName,
		Version:           n.DomainVersion,
		ChainID:           n.ChainIDBig(),
		VerifyingContract: common.HexToAddress(n.Oracle),
	}
}

func (n NetworkConfig) problems() []string {
	var errs []string
	if n.ChainID <= 0 {
		errs = append(errs, "network: chain_id must be positive")
	}
	if n.RPCURL == "" {
		errs = append(errs, "network: rpc_url must not be empty")
	}
	for _, c := range []struct{ name, addr string }{
		{"factory", n.Factory},
		{"pool", n.Pool},
		{"oracle", n.Oracle},
		{"staking", n.Staking},
	} {
		if !common.IsHexAddress(c.addr) {
			errs = append(errs, fmt.Sprintf("network: %s address %q is invalid", c.name, c.addr))
		}
	}
	if n.DomainName == "" || n.DomainVersion == "" {
		errs = append(errs, "network: eip712_name and eip712_version must not be empty")
	}
	return errs
}

func pick[T any](sources ...*T) T {
	for _, s := range sources {
		if s != nil {
			return *s
		}
	}
	var zero T
	return zero
}

func ptr[T any](v T) *T { return &v }

func envPtr(lookup func(string) (string, bool), key string) *string {
	if v, ok := lookup(key); ok && v != "" {
		return &v
	}
	return nil
}
