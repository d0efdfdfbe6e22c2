package aster

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	apperrors "funding_harvester/pkg/errors"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAPIKey = "test-api-key"
	testSecret = "test-api-secret"

	// Well-known development key, never funded.
	testPrivateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress    = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func fixedClock() time.Time {
	return time.UnixMilli(1700000000000)
}

func signedTestRequest(t *testing.T, s *HMACSigner, rawURL string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	require.NoError(t, err)
	require.NoError(t, s.SignRequest(req))
	return req
}

func TestHMACSigner_InjectsTimestampAndRecvWindow(t *testing.T) {
	s := NewHMACSigner(testAPIKey, testSecret)
	s.now = fixedClock

	req := signedTestRequest(t, s, "https://venue.test/api/v1/account?symbol=BTCUSDT")

	q := req.URL.Query()
	assert.Equal(t, "1700000000000", q.Get("timestamp"))
	assert.Equal(t, "5000", q.Get("recvWindow"))
	assert.Equal(t, testAPIKey, req.Header.Get("X-MBX-APIKEY"))
	assert.Len(t, q.Get("signature"), 64)
}

func TestHMACSigner_SignsExactlyTheSentQuery(t *testing.T) {
	s := NewHMACSigner(testAPIKey, testSecret)
	s.now = fixedClock

	req := signedTestRequest(t, s, "https://venue.test/api/v1/order?symbol=BTCUSDT&side=BUY")

	raw := req.URL.RawQuery
	idx := strings.LastIndex(raw, "&signature=")
	require.NotEqual(t, -1, idx, "signature must be the final parameter")

	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(raw[:idx]))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), raw[idx+len("&signature="):])
}

func TestHMACSigner_Deterministic(t *testing.T) {
	s := NewHMACSigner(testAPIKey, testSecret)
	s.now = fixedClock

	first := signedTestRequest(t, s, "https://venue.test/api/v1/account?symbol=BTCUSDT")
	second := signedTestRequest(t, s, "https://venue.test/api/v1/account?symbol=BTCUSDT")
	assert.Equal(t, first.URL.RawQuery, second.URL.RawQuery)

	params := url.Values{"symbol": {"BTCUSDT"}, "timestamp": {"1700000000000"}}
	changed := url.Values{"symbol": {"ETHUSDT"}, "timestamp": {"1700000000000"}}
	assert.NotEqual(t, s.signParams(params), s.signParams(changed))
}

func TestHMACSigner_KeepsCallerTimestamp(t *testing.T) {
	s := NewHMACSigner(testAPIKey, testSecret)
	s.now = fixedClock

	req := signedTestRequest(t, s, "https://venue.test/api/v1/account?timestamp=42&recvWindow=9000")

	q := req.URL.Query()
	assert.Equal(t, "42", q.Get("timestamp"))
	assert.Equal(t, "9000", q.Get("recvWindow"))
}

func TestTypedSigner_SignatureRecoversSignerAddress(t *testing.T) {
	s, err := NewTypedSigner(testAddress, testAddress, testPrivateKey)
	require.NoError(t, err)

	payload := `{"symbol":"BTCUSDT","type":"MARKET"}`
	sigHex, err := s.signPayload(payload, 12345)
	require.NoError(t, err)

	sig, err := hexutil.Decode(sigHex)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.True(t, sig[64] == 27 || sig[64] == 28, "recovery id must use the Ethereum convention")

	packed, err := typedDataArguments.Pack(payload, s.user, s.signerAddr, big.NewInt(12345))
	require.NoError(t, err)
	recoverSig := make([]byte, 65)
	copy(recoverSig, sig)
	recoverSig[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash(crypto.Keccak256(packed)), recoverSig)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddress), crypto.PubkeyToAddress(*pub))
}

func TestTypedSigner_Deterministic(t *testing.T) {
	s, err := NewTypedSigner(testAddress, testAddress, testPrivateKey)
	require.NoError(t, err)

	payload := `{"symbol":"BTCUSDT"}`
	first, err := s.signPayload(payload, 777)
	require.NoError(t, err)
	second, err := s.signPayload(payload, 777)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	changed, err := s.signPayload(`{"symbol":"ETHUSDT"}`, 777)
	require.NoError(t, err)
	assert.NotEqual(t, first, changed)

	bumpedNonce, err := s.signPayload(payload, 778)
	require.NoError(t, err)
	assert.NotEqual(t, first, bumpedNonce)
}

func TestTypedSigner_SignRequestAttachesIdentity(t *testing.T) {
	s, err := NewTypedSigner(testAddress, testAddress, testPrivateKey)
	require.NoError(t, err)
	s.now = fixedClock

	req, err := http.NewRequest(http.MethodPost, "https://venue.test/fapi/v3/order?symbol=BTCUSDT&side=SELL", nil)
	require.NoError(t, err)
	require.NoError(t, s.SignRequest(req))

	q := req.URL.Query()
	assert.Equal(t, testAddress, q.Get("user"))
	assert.Equal(t, testAddress, q.Get("signer"))
	assert.Equal(t, "1700000000000000", q.Get("nonce"))
	assert.Equal(t, "1700000000000", q.Get("timestamp"))
	assert.Equal(t, "50000", q.Get("recvWindow"))
	assert.True(t, strings.HasPrefix(q.Get("signature"), "0x"))
	assert.Len(t, q.Get("signature"), 132)
}

func TestTypedSigner_RejectsBadKeyWithoutLeakingIt(t *testing.T) {
	_, err := NewTypedSigner(testAddress, testAddress, "certainly-not-a-key")
	require.Error(t, err)

	var sigErr apperrors.SignatureError
	require.ErrorAs(t, err, &sigErr)
	assert.NotContains(t, err.Error(), "certainly-not-a-key")
}

func TestTypedSigner_RejectsMismatchedSignerAddress(t *testing.T) {
	otherAddress := "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"

	_, err := NewTypedSigner(testAddress, otherAddress, testPrivateKey)
	require.Error(t, err)

	var sigErr apperrors.SignatureError
	require.ErrorAs(t, err, &sigErr)
	assert.NotContains(t, err.Error(), testPrivateKey)
}

func TestCanonicalJSON_SortsKeysCompactly(t *testing.T) {
	out, err := canonicalJSON(map[string]string{
		"symbol":     "BTCUSDT",
		"side":       "SELL",
		"quantity":   "0.5",
		"recvWindow": "50000",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"quantity":"0.5","recvWindow":"50000","side":"SELL","symbol":"BTCUSDT"}`, out)
}
