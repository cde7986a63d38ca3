package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/marketmirror/internal/domain"
)

const (
	// DomainName and DomainVersion are fixed by the oracle contract.
	DomainName    = "PredictionMarketOracle"
	DomainVersion = "1"

	// DefaultProposalTTL is how long a built proposal stays valid when no
	// deadline is given.
	DefaultProposalTTL = time.Hour

	// SignatureLength is r (32) || s (32) || v (1).
	SignatureLength = 65
)

var (
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	proposedOutcomeTypeHash = ethcrypto.Keccak256(
		[]byte("ProposedOutcome(uint256 marketId,uint256 outcomeId,uint256 closeTime,bytes32 evidenceHash,uint256 notBefore,uint256 deadline)"),
	)
)

// Domain is the EIP-712 signing domain of the oracle contract.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// OracleDomain returns the oracle's domain on the given chain and contract.
func OracleDomain(chainID *big.Int, verifyingContract common.Address) Domain {
	return Domain{
		Name:              DomainName,
		Version:           DomainVersion,
		ChainID:           chainID,
		VerifyingContract: verifyingContract,
	}
}

// DomainSeparator returns
// keccak256(typeHash || keccak(name) || keccak(version) || chainId || verifyingContract).
func DomainSeparator(d Domain) common.Hash {
	chainID := d.ChainID
	if chainID == nil {
		chainID = new(big.Int)
	}
	return common.BytesToHash(ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(d.Name)),
			ethcrypto.Keccak256([]byte(d.Version)),
			bigIntTo32Bytes(chainID),
			common.LeftPadBytes(d.VerifyingContract.Bytes(), 32),
		),
	))
}

// StructHash hashes the six proposal fields in their declared order.
func StructHash(p domain.ProposedOutcome) (common.Hash, error) {
	if len(p.EvidenceHash) != common.HashLength {
		return common.Hash{}, fmt.Errorf("crypto/eip712: %w: evidence hash is %d bytes", domain.ErrInvalidProposal, len(p.EvidenceHash))
	}
	return common.BytesToHash(ethcrypto.Keccak256(
		concatBytes(
			proposedOutcomeTypeHash,
			uint64To32Bytes(p.MarketID),
			uint64To32Bytes(p.OutcomeID),
			uint64To32Bytes(p.CloseTime),
			p.EvidenceHash,
			uint64To32Bytes(p.NotBefore),
			uint64To32Bytes(p.Deadline),
		),
	)), nil
}

// Digest computes keccak256("\x19\x01" || domainSeparator || structHash).
func Digest(p domain.ProposedOutcome, domainSep common.Hash) (common.Hash, error) {
	sh, err := StructHash(p)
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(ethcrypto.Keccak256(
		concatBytes([]byte{0x19, 0x01}, domainSep.Bytes(), sh.Bytes()),
	)), nil
}

// BuildProposal fills NotBefore (now) and Deadline (NotBefore + one hour)
// when they are zero.
func BuildProposal(p domain.ProposedOutcome, now time.Time) domain.ProposedOutcome {
	if p.NotBefore == 0 {
		p.NotBefore = uint64(now.Unix())
	}
	if p.Deadline == 0 {
		p.Deadline = p.NotBefore + uint64(DefaultProposalTTL/time.Second)
	}
	if p.EvidenceHash != nil {
		p.EvidenceHash = append([]byte(nil), p.EvidenceHash...)
	}
	return p
}

// ValidateProposal checks the structural rules the contract enforces.
// Identifiers are unsigned, so negative ids cannot reach this point.
func ValidateProposal(p domain.ProposedOutcome) error {
	switch {
	case p.CloseTime == 0:
		return fmt.Errorf("crypto/eip712: %w: closeTime must be positive", domain.ErrInvalidProposal)
	case len(p.EvidenceHash) != common.HashLength:
		return fmt.Errorf("crypto/eip712: %w: evidence hash is %d bytes, want 32", domain.ErrInvalidProposal, len(p.EvidenceHash))
	case p.Deadline <= p.NotBefore:
		return fmt.Errorf("crypto/eip712: %w: deadline %d not after notBefore %d", domain.ErrInvalidProposal, p.Deadline, p.NotBefore)
	}
	return nil
}

// Sign validates p and signs its digest. The returned signature is 65 bytes
// with v in {27, 28}.
func Sign(p domain.ProposedOutcome, domainSep common.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	if err := ValidateProposal(p); err != nil {
		return nil, err
	}
	digest, err := Digest(p, domainSep)
	if err != nil {
		return nil, err
	}
	sig, err := ethcrypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("crypto/eip712: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; the contract expects {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// ParseSignature decodes a hex signature, with or without 0x prefix.
func ParseSignature(s string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/eip712: %w: not hex: %v", domain.ErrInvalidSignature, err)
	}
	if len(raw) != SignatureLength {
		return nil, fmt.Errorf("crypto/eip712: %w: %d bytes, want %d", domain.ErrInvalidSignature, len(raw), SignatureLength)
	}
	return raw, nil
}

// FormatSignature renders sig as 0x-prefixed hex.
func FormatSignature(sig []byte) string {
	return "0x" + hex.EncodeToString(sig)
}

// SplitSignature breaks a 65-byte signature into r, s and v. v is returned
// normalized to {27, 28}.
func SplitSignature(sig []byte) (r, s [32]byte, v byte, err error) {
	if len(sig) != SignatureLength {
		return r, s, 0, fmt.Errorf("crypto/eip712: %w: %d bytes, want %d", domain.ErrInvalidSignature, len(sig), SignatureLength)
	}
	copy(r[:], sig[:32])
	copy(s[:], sig[32:64])
	v, err = normalizeV(sig[64])
	return r, s, v, err
}

// JoinSignature is the inverse of SplitSignature.
func JoinSignature(r, s [32]byte, v byte) ([]byte, error) {
	nv, err := normalizeV(v)
	if err != nil {
		return nil, err
	}
	sig := make([]byte, 0, SignatureLength)
	sig = append(sig, r[:]...)
	sig = append(sig, s[:]...)
	return append(sig, nv), nil
}

// RecoverSigner returns the address that produced sig over p's digest.
func RecoverSigner(p domain.ProposedOutcome, domainSep common.Hash, sig []byte) (common.Address, error) {
	r, s, v, err := SplitSignature(sig)
	if err != nil {
		return common.Address{}, err
	}
	recID := v - 27
	if !ethcrypto.ValidateSignatureValues(recID, new(big.Int).SetBytes(r[:]), new(big.Int).SetBytes(s[:]), true) {
		return common.Address{}, fmt.Errorf("crypto/eip712: %w: r/s out of range", domain.ErrInvalidSignature)
	}
	digest, err := Digest(p, domainSep)
	if err != nil {
		return common.Address{}, err
	}

	raw := make([]byte, SignatureLength)
	copy(raw, sig[:64])
	raw[64] = recID
	pub, err := ethcrypto.SigToPub(digest.Bytes(), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/eip712: %w: %v", domain.ErrInvalidSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// IsSignedBy reports whether sig over p recovers to expected. Malformed
// signatures and recovery failures report false.
func IsSignedBy(p domain.ProposedOutcome, domainSep common.Hash, sig []byte, expected common.Address) bool {
	got, err := RecoverSigner(p, domainSep, sig)
	if err != nil {
		return false
	}
	return got == expected
}

func normalizeV(v byte) (byte, error) {
	switch v {
	case 0, 1:
		return v + 27, nil
	case 27, 28:
		return v, nil
	default:
		return 0, fmt.Errorf("crypto/eip712: %w: recovery byte %d", domain.ErrInvalidSignature, v)
	}
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}

func uint64To32Bytes(v uint64) []byte {
	return bigIntTo32Bytes(new(big.Int).SetUint64(v))
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
