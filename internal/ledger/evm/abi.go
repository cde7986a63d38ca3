package evm

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const factoryABIJSON = `[
 {"type":"function","name":"getMarket","stateMutability":"view",
  "inputs":[{"name":"marketId","type":"uint256"}],
  "outputs":[{"name":"outcomeCount","type":"uint8"},{"name":"collateralToken","type":"address"},
             {"name":"closeTime","type":"uint64"},{"name":"status","type":"uint8"},{"name":"metadataURI","type":"string"}]}
]`

const poolABIJSON = `[
 {"type":"function","name":"getReserves","stateMutability":"view",
  "inputs":[{"name":"marketId","type":"uint256"}],"outputs":[{"name":"","type":"uint256[]"}]},
 {"type":"function","name":"getPrices","stateMutability":"view",
  "inputs":[{"name":"marketId","type":"uint256"}],"outputs":[{"name":"","type":"uint256[]"}]},
 {"type":"function","name":"quoteBuy","stateMutability":"view",
  "inputs":[{"name":"marketId","type":"uint256"},{"name":"outcomeId","type":"uint8"},{"name":"amountIn","type":"uint256"}],
  "outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"quoteSell","stateMutability":"view",
  "inputs":[{"name":"marketId","type":"uint256"},{"name":"outcomeId","type":"uint8"},{"name":"amountIn","type":"uint256"}],
  "outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"lpTotalSupply","stateMutability":"view",
  "inputs":[{"name":"marketId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"lpBalanceOf","stateMutability":"view",
  "inputs":[{"name":"marketId","type":"uint256"},{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"buy","stateMutability":"nonpayable",
  "inputs":[{"name":"marketId","type":"uint256"},{"name":"outcomeId","type":"uint8"},{"name":"amountIn","type":"uint256"},{"name":"minAmountOut","type":"uint256"}],
  "outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"sell","stateMutability":"nonpayable",
  "inputs":[{"name":"marketId","type":"uint256"},{"name":"outcomeId","type":"uint8"},{"name":"amountIn","type":"uint256"},{"name":"minAmountOut","type":"uint256"}],
  "outputs":[{"name":"","type":"uint256"}]},
 {"type":"event","name":"TradeExecuted","anonymous":false,
  "inputs":[{"name":"marketId","type":"uint256","indexed":true},{"name":"trader","type":"address","indexed":true},
            {"name":"outcomeId","type":"uint8","indexed":false},{"name":"isBuy","type":"bool","indexed":false},
            {"name":"amountIn","type":"uint256","indexed":false},{"name":"amountOut","type":"uint256","indexed":false},
            {"name":"fee","type":"uint256","indexed":false}]}
]`

const oracleABIJSON = `[
 {"type":"function","name":"getResolution","stateMutability":"view",
  "inputs":[{"name":"marketId","type":"uint256"}],
  "outputs":[{"name":"state","type":"uint8"},{"name":"proposedOutcome","type":"uint8"},{"name":"finalOutcome","type":"uint8"},
             {"name":"proposalTime","type":"uint64"},{"name":"proposer","type":"address"},{"name":"proposerBond","type":"uint256"},
             {"name":"disputer","type":"address"},{"name":"disputerBond","type":"uint256"},{"name":"evidenceURI","type":"string"}]},
 {"type":"function","name":"minBond","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"disputeWindow","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint64"}]},
 {"type":"function","name":"arbitrator","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"propose","stateMutability":"nonpayable",
  "inputs":[{"name":"marketId","type":"uint256"},{"name":"outcomeId","type":"uint8"},{"name":"bond","type":"uint256"},{"name":"evidenceURI","type":"string"}],
  "outputs":[]},
 {"type":"function","name":"proposeSigned","stateMutability":"nonpayable",
  "inputs":[{"name":"proposal","type":"tuple","components":[
              {"name":"marketId","type":"uint256"},{"name":"outcomeId","type":"uint256"},{"name":"closeTime","type":"uint256"},
              {"name":"evidenceHash","type":"bytes32"},{"name":"notBefore","type":"uint256"},{"name":"deadline","type":"uint256"}]},
            {"name":"signature","type":"bytes"},{"name":"bond","type":"uint256"},{"name":"evidenceURI","type":"string"}],
  "outputs":[]},
 {"type":"function","name":"dispute","stateMutability":"nonpayable",
  "inputs":[{"name":"marketId","type":"uint256"},{"name":"bond","type":"uint256"},{"name":"reason","type":"string"}],"outputs":[]},
 {"type":"function","name":"finalize","stateMutability":"nonpayable",
  "inputs":[{"name":"marketId","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"finalizeDisputed","stateMutability":"nonpayable",
  "inputs":[{"name":"marketId","type":"uint256"},{"name":"outcomeId","type":"uint8"}],"outputs":[]}
]`

const stakingABIJSON = `[
 {"type":"function","name":"getFeeTiers","stateMutability":"view","inputs":[],
  "outputs":[{"name":"minBalances","type":"uint256[]"},{"name":"feeBps","type":"uint16[]"},{"name":"protocolBps","type":"uint16[]"}]},
 {"type":"function","name":"balanceOf","stateMutability":"view",
  "inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	factoryABI = mustParse(factoryABIJSON)
	poolABI    = mustParse(poolABIJSON)
	oracleABI  = mustParse(oracleABIJSON)
	stakingABI = mustParse(stakingABIJSON)

	tradeExecutedID = poolABI.Events["TradeExecuted"].ID
)

func mustParse(js string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(js))
	if err != nil {
		panic("evm: bad embedded abi: " + err.Error())
	}
	return parsed
}

// proposalTuple mirrors the oracle's ProposedOutcome struct for ABI packing.
type proposalTuple struct {
	MarketId     *big.Int
	OutcomeId    *big.Int
	CloseTime    *big.Int
	EvidenceHash [32]byte
	NotBefore    *big.Int
	Deadline     *big.Int
}
