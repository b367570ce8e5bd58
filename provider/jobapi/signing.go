package jobapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Signature headers sent instead of the bearer credential.
const (
	headerSignature = "X-Signature"
	headerPublicKey = "X-Signature-Key"
	headerTimestamp = "X-Signature-Timestamp"
	headerNode      = "X-Signature-Node"
)

var errNoCredential = errors.New("jobapi: request carries no credential to sign with")

// accountKey is a decoded account credential.
type accountKey struct {
	priv *secp256k1.PrivateKey
	pub  string // hex, compressed
}

// signer signs requests on behalf of accounts whose credential is a secp256k1
// private key. Decoded keys are kept per credential.
type signer struct {
	node string
	now  func() time.Time

	mu   sync.Mutex
	keys map[string]*accountKey
}

func newSigner(node string, now func() time.Time) *signer {
	if now == nil {
		now = time.Now
	}
	return &signer{node: node, now: now, keys: make(map[string]*accountKey)}
}

func (s *signer) key(credential string) (*accountKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k, ok := s.keys[credential]; ok {
		return k, nil
	}
	priv, err := decodeKey(credential)
	if err != nil {
		return nil, err
	}
	k := &accountKey{priv: priv, pub: hex.EncodeToString(priv.PubKey().SerializeCompressed())}
	s.keys[credential] = k
	return k, nil
}

// decodeKey parses a hex credential, with or without a 0x prefix, into a
// private key.
func decodeKey(credential string) (*secp256k1.PrivateKey, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(credential), "0x"), "0X")
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("jobapi: signing credential is not hex: %w", err)
	}
	if len(b) != secp256k1.PrivKeyBytesLen {
		return nil, fmt.Errorf("jobapi: signing credential must be %d bytes, got %d", secp256k1.PrivKeyBytesLen, len(b))
	}
	priv := secp256k1.PrivKeyFromBytes(b)
	if priv.Key.IsZero() {
		return nil, errors.New("jobapi: signing credential is the zero key")
	}
	return priv, nil
}

// canonical is the string a signature covers: method, path with query,
// timestamp, node and the hex SHA-256 of the body, one per line.
func canonical(method, path, ts, node string, body []byte) string {
	sum := sha256.Sum256(body)
	return strings.Join([]string{method, path, ts, node, hex.EncodeToString(sum[:])}, "\n")
}

// sign returns the base64 r||s signature of the canonical string. dcrd signs
// deterministically (RFC 6979) and always emits low-S values.
func sign(priv *secp256k1.PrivateKey, msg string) string {
	digest := sha256.Sum256([]byte(msg))
	compact := ecdsa.SignCompact(priv, digest[:], false)
	return base64.StdEncoding.EncodeToString(compact[1:])
}

// signingTransport swaps the bearer credential for signature headers.
type signingTransport struct {
	next   http.RoundTripper
	signer *signer
}

func (t *signingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	credential, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(credential) == "" {
		return nil, errNoCredential
	}
	k, err := t.signer.key(credential)
	if err != nil {
		return nil, err
	}

	var body []byte
	if req.Body != nil {
		body, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("jobapi: read body to sign: %w", err)
		}
	}

	ts := strconv.FormatInt(t.signer.now().UnixMilli(), 10)
	out := req.Clone(req.Context())
	out.Header.Del("Authorization")
	out.Header.Set(headerSignature, sign(k.priv, canonical(req.Method, req.URL.RequestURI(), ts, t.signer.node, body)))
	out.Header.Set(headerPublicKey, k.pub)
	out.Header.Set(headerTimestamp, ts)
	out.Header.Set(headerNode, t.signer.node)
	if req.Body != nil {
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.ContentLength = int64(len(body))
	}
	return t.next.RoundTrip(out)
}
