package aster

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "funding_harvester/pkg/errors"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const typedRecvWindow = "50000"

// typedDataArguments is the ABI tuple the venue verifies:
// (json(payload), user, signer, nonce).
var typedDataArguments = abi.Arguments{
	{Type: mustABIType("string")},
	{Type: mustABIType("address")},
	{Type: mustABIType("address")},
	{Type: mustABIType("uint256")},
}

func mustABIType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("abi type %q: %v", t, err))
	}
	return typ
}

// TypedSigner signs perp v3 requests with the venue's Ethereum typed-data
// scheme: the request payload is canonicalized to JSON, ABI-encoded
// together with the account addresses and a microsecond nonce, hashed with
// keccak256, and personally signed.
type TypedSigner struct {
	user       common.Address
	signerAddr common.Address
	privateKey *ecdsa.PrivateKey

	// now is swappable for deterministic tests.
	now func() time.Time
}

// NewTypedSigner builds a signer from the Ethereum credential triple.
// The private key is hex with or without a 0x prefix and must derive the
// signer address, so a mismatched credential set fails at startup instead
// of on the first rejected order.
func NewTypedSigner(user, signerAddr, privateKeyHex string) (*TypedSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, apperrors.SignatureError{Scheme: "typed", Reason: "invalid private key"}
	}
	addr := common.HexToAddress(signerAddr)
	if derived := crypto.PubkeyToAddress(key.PublicKey); derived != addr {
		return nil, apperrors.SignatureError{Scheme: "typed", Reason: "private key does not derive the signer address"}
	}
	return &TypedSigner{
		user:       common.HexToAddress(user),
		signerAddr: addr,
		privateKey: key,
		now:        time.Now,
	}, nil
}

// SignRequest injects timestamp and recvWindow, signs the canonical
// payload, and attaches user, signer, nonce, and signature.
func (s *TypedSigner) SignRequest(req *http.Request) error {
	q := req.URL.Query()
	if q.Get("timestamp") == "" {
		q.Set("timestamp", fmt.Sprintf("%d", s.now().UnixMilli()))
	}
	if q.Get("recvWindow") == "" {
		q.Set("recvWindow", typedRecvWindow)
	}

	payload := make(map[string]string, len(q))
	for key := range q {
		payload[key] = q.Get(key)
	}

	jsonPayload, err := canonicalJSON(payload)
	if err != nil {
		return apperrors.SignatureError{Scheme: "typed", Reason: "payload not serializable"}
	}

	nonce := s.now().UnixMicro()
	signature, err := s.signPayload(jsonPayload, nonce)
	if err != nil {
		return err
	}

	q.Set("user", s.user.Hex())
	q.Set("signer", s.signerAddr.Hex())
	q.Set("nonce", strconv.FormatInt(nonce, 10))
	q.Set("signature", signature)
	req.URL.RawQuery = q.Encode()
	return nil
}

// signPayload is the deterministic core: for a fixed payload and nonce the
// output signature is identical across calls.
func (s *TypedSigner) signPayload(jsonPayload string, nonce int64) (string, error) {
	packed, err := typedDataArguments.Pack(jsonPayload, s.user, s.signerAddr, big.NewInt(nonce))
	if err != nil {
		return "", apperrors.SignatureError{Scheme: "typed", Reason: "abi encoding failed"}
	}

	digest := crypto.Keccak256(packed)
	signature, err := crypto.Sign(accounts.TextHash(digest), s.privateKey)
	if err != nil {
		return "", apperrors.SignatureError{Scheme: "typed", Reason: "ecdsa signing failed"}
	}

	// The venue expects the Ethereum recovery id convention.
	if signature[64] < 27 {
		signature[64] += 27
	}
	return hexutil.Encode(signature), nil
}

// canonicalJSON renders the payload with keys sorted and no extra
// whitespace. All values are already strings, so output is byte-stable for
// a fixed input.
func canonicalJSON(payload map[string]string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
