package exchange

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"perpmm/internal/config"
)

// Signer signs every action sent to the venue with the wallet's private
// key. Perp venues of this kind have no separate derived API key: the
// wallet signature on an EIP-712 typed "Agent" action is the sole
// credential the live execution backend presents.
type Signer struct {
	privateKey   *ecdsa.PrivateKey
	address      common.Address
	vaultAddress common.Address
	hasVault     bool
}

// NewSigner builds a Signer from the wallet section of config.
func NewSigner(cfg config.WalletConfig) (*Signer, error) {
	keyHex := cfg.SecretKey
	if len(keyHex) >= 2 && keyHex[:2] == "0x" {
		keyHex = keyHex[2:]
	}
	privateKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse wallet secret key: %w", err)
	}

	s := &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
	if cfg.VaultAddress != "" {
		s.vaultAddress = common.HexToAddress(cfg.VaultAddress)
		s.hasVault = true
	}
	return s, nil
}

// Address returns the signer's wallet address.
func (s *Signer) Address() common.Address { return s.address }

// SignOrderAction signs one order-placement action, returning a hex-encoded
// signature ready to attach to the REST request body. nonce must be
// strictly increasing across actions signed by this wallet.
func (s *Signer) SignOrderAction(actionHash []byte, nonce int64) (string, error) {
	vault := ""
	if s.hasVault {
		vault = s.vaultAddress.Hex()
	}

	sig, err := s.signTypedData(
		&apitypes.TypedDataDomain{
			Name:    "Exchange",
			Version: "1",
			ChainId: (*ethmath.HexOrDecimal256)(big.NewInt(1)),
		},
		apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"Agent": {
				{Name: "source", Type: "string"},
				{Name: "connectionId", Type: "bytes32"},
			},
		},
		apitypes.TypedDataMessage{
			"source":       vault,
			"connectionId": actionHash,
		},
		"Agent",
	)
	if err != nil {
		return "", fmt.Errorf("sign order action: %w", err)
	}
	return "0x" + common.Bytes2Hex(sig), nil
}

// signTypedData signs EIP-712 typed data and adjusts V to 27/28.
func (s *Signer) signTypedData(domain *apitypes.TypedDataDomain, typesDef apitypes.Types, message apitypes.TypedDataMessage, primaryType string) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       typesDef,
		PrimaryType: primaryType,
		Domain:      *domain,
		Message:     message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("typed data hash: %w", err)
	}

	sig, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign typed data: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}
