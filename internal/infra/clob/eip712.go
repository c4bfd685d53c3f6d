package clob

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"math/rand"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"

	"polytrader/internal/domain"
)

// usdcDecimals is the fixed-point scale for on-chain amounts; both sides of a
// CTF order are expressed in 10^6 units.
const usdcDecimals = 6

var zeroAddress = common.Address{}

// OrderSigner produces EIP-712 signed CTF Exchange orders from a wallet
// private key. The domain separator pins orders to the exchange contract on
// one chain, so a signed order cannot be replayed elsewhere.
type OrderSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

// NewOrderSigner parses a hex private key. A malformed key is a SigningError.
func NewOrderSigner(privateKeyHex string, chainID int64) (*OrderSigner, error) {
	if len(privateKeyHex) >= 2 && privateKeyHex[:2] == "0x" {
		privateKeyHex = privateKeyHex[2:]
	}
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, &domain.SigningError{Op: "parse private key", Err: err}
	}
	return &OrderSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(chainID),
	}, nil
}

// Address returns the signing wallet address.
func (s *OrderSigner) Address() common.Address {
	return s.address
}

// BuildOrder converts an intent into the unsigned wire order. BUY makes USDC
// and takes shares; SELL makes shares and takes USDC. Amounts are truncated
// to the 10^6 fixed-point scale. Salt is generated here, once per logical
// order, and must be reused across retries of the same submission.
func (s *OrderSigner) BuildOrder(intent domain.OrderIntent, maker string) (*SignedOrder, error) {
	shares := intent.Size.Shift(usdcDecimals).Truncate(0)
	notional := intent.Price.Mul(intent.Size).Shift(usdcDecimals).Truncate(0)

	var makerAmount, takerAmount decimal.Decimal
	switch intent.Side {
	case domain.SideBuy:
		makerAmount, takerAmount = notional, shares
	case domain.SideSell:
		makerAmount, takerAmount = shares, notional
	default:
		return nil, &domain.SigningError{Op: "build order", Err: fmt.Errorf("unknown side %q", intent.Side)}
	}

	expiration := int64(0)
	if !intent.Expiration.IsZero() {
		expiration = intent.Expiration.Unix()
	}

	return &SignedOrder{
		Salt:          rand.Int63(),
		Maker:         maker,
		Signer:        s.address.Hex(),
		Taker:         zeroAddress.Hex(),
		TokenID:       intent.TokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		Side:          intent.Side,
		Expiration:    fmt.Sprintf("%d", expiration),
		Nonce:         "0",
		FeeRateBps:    "0",
		SignatureType: SignatureTypeEOA,
	}, nil
}

// SignOrder hashes the order per EIP-712 and attaches the signature.
// Deterministic for a fixed order: identical input bytes yield an identical
// signature, which is what lets an ambiguous submission be retried safely.
func (s *OrderSigner) SignOrder(order *SignedOrder, negRisk bool) error {
	digest, err := s.hashOrder(order, negRisk)
	if err != nil {
		return err
	}

	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return &domain.SigningError{Op: "sign digest", Err: err}
	}
	// Ethereum convention: v in {27, 28}.
	sig[64] += 27

	order.Signature = hexutil.Encode(sig)
	return nil
}

// hashOrder computes the EIP-712 digest of a CTF Exchange order.
func (s *OrderSigner) hashOrder(order *SignedOrder, negRisk bool) ([]byte, error) {
	tokenID, ok := new(big.Int).SetString(order.TokenID, 10)
	if !ok {
		return nil, &domain.SigningError{Op: "hash order", Err: fmt.Errorf("token id %q is not a decimal integer", order.TokenID)}
	}
	makerAmount, ok := new(big.Int).SetString(order.MakerAmount, 10)
	if !ok {
		return nil, &domain.SigningError{Op: "hash order", Err: fmt.Errorf("bad maker amount %q", order.MakerAmount)}
	}
	takerAmount, ok := new(big.Int).SetString(order.TakerAmount, 10)
	if !ok {
		return nil, &domain.SigningError{Op: "hash order", Err: fmt.Errorf("bad taker amount %q", order.TakerAmount)}
	}

	side := "0" // BUY
	if order.Side == domain.SideSell {
		side = "1"
	}

	contract := ExchangeAddress
	if negRisk {
		contract = NegRiskExchangeAddress
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": []apitypes.Type{
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "signer", Type: "address"},
				{Name: "taker", Type: "address"},
				{Name: "tokenId", Type: "uint256"},
				{Name: "makerAmount", Type: "uint256"},
				{Name: "takerAmount", Type: "uint256"},
				{Name: "expiration", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "feeRateBps", Type: "uint256"},
				{Name: "side", Type: "uint8"},
				{Name: "signatureType", Type: "uint8"},
			},
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              "Polymarket CTF Exchange",
			Version:           "1",
			ChainId:           (*math.HexOrDecimal256)(s.chainID),
			VerifyingContract: contract,
		},
		Message: apitypes.TypedDataMessage{
			"salt":          fmt.Sprintf("%d", order.Salt),
			"maker":         order.Maker,
			"signer":        order.Signer,
			"taker":         order.Taker,
			"tokenId":       tokenID.String(),
			"makerAmount":   makerAmount.String(),
			"takerAmount":   takerAmount.String(),
			"expiration":    order.Expiration,
			"nonce":         order.Nonce,
			"feeRateBps":    order.FeeRateBps,
			"side":          side,
			"signatureType": fmt.Sprintf("%d", order.SignatureType),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, &domain.SigningError{Op: "hash domain", Err: err}
	}

	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, &domain.SigningError{Op: "hash message", Err: err}
	}

	// Final digest: keccak256("\x19\x01" || domainSeparator || typedDataHash)
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256(rawData), nil
}
