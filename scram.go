package protomq

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // SHA-1 required for SCRAM-SHA-1 compatibility
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// SCRAMHash represents the hash algorithm used for SCRAM authentication.
type SCRAMHash int

const (
	// SCRAMHashSHA1 uses SHA-1 (for legacy compatibility, not recommended for new deployments).
	SCRAMHashSHA1 SCRAMHash = iota
	// SCRAMHashSHA256 uses SHA-256 (recommended).
	SCRAMHashSHA256
	// SCRAMHashSHA512 uses SHA-512 (highest security).
	SCRAMHashSHA512
)

// String returns the MQTT auth method name for this hash.
func (h SCRAMHash) String() string {
	switch h {
	case SCRAMHashSHA1:
		return "SCRAM-SHA-1"
	case SCRAMHashSHA256:
		return "SCRAM-SHA-256"
	case SCRAMHashSHA512:
		return "SCRAM-SHA-512"
	default:
		return "SCRAM-SHA-256"
	}
}

// hashFunc returns the hash.Hash constructor for this algorithm.
func (h SCRAMHash) hashFunc() func() hash.Hash {
	switch h {
	case SCRAMHashSHA1:
		return sha1.New
	case SCRAMHashSHA256:
		return sha256.New
	case SCRAMHashSHA512:
		return sha512.New
	default:
		return sha256.New
	}
}

// keySize returns the key size in bytes for this hash.
func (h SCRAMHash) keySize() int {
	switch h {
	case SCRAMHashSHA1:
		return 20
	case SCRAMHashSHA256:
		return 32
	case SCRAMHashSHA512:
		return 64
	default:
		return 32
	}
}

// SCRAM exchange errors.
var (
	ErrSCRAMBadChallenge    = errors.New("protomq: malformed SCRAM server message")
	ErrSCRAMNonceMismatch   = errors.New("protomq: SCRAM server nonce does not extend client nonce")
	ErrSCRAMBadServerProof  = errors.New("protomq: SCRAM server signature verification failed")
	ErrSCRAMExchangeStalled = errors.New("protomq: SCRAM challenge after exchange completion")
	ErrSCRAMBadClientProof  = errors.New("protomq: SCRAM client proof verification failed")
)

// scramPhase tracks progress through the three SCRAM messages.
type scramPhase int

const (
	scramPhaseInitial scramPhase = iota
	scramPhaseChallenged
	scramPhaseDone
)

// SCRAMAuthenticator drives the client side of a SCRAM exchange over
// MQTT 5.0 enhanced authentication. It produces the client-first
// message for CONNECT, answers the server's challenge with the client
// proof, and verifies the server's signature for mutual
// authentication.
type SCRAMAuthenticator struct {
	username string
	password string
	hashType SCRAMHash

	phase           scramPhase
	clientNonce     string
	clientFirstBare string
	serverSignature []byte
}

// NewSCRAMAuthenticator creates a SCRAM authenticator for the given
// credentials. The zero hash value selects SCRAM-SHA-1; pass
// SCRAMHashSHA256 unless the server requires otherwise.
func NewSCRAMAuthenticator(username, password string, hashType SCRAMHash) *SCRAMAuthenticator {
	return &SCRAMAuthenticator{
		username: username,
		password: password,
		hashType: hashType,
	}
}

// Method returns the authentication method name announced in CONNECT.
func (a *SCRAMAuthenticator) Method() string {
	return a.hashType.String()
}

// Done reports whether the client has sent its proof.
func (a *SCRAMAuthenticator) Done() bool {
	return a.phase == scramPhaseDone
}

// Respond consumes the server's challenge data and returns the next
// authentication data to send.
func (a *SCRAMAuthenticator) Respond(challenge []byte) ([]byte, error) {
	switch a.phase {
	case scramPhaseInitial:
		return a.clientFirst()
	case scramPhaseChallenged:
		return a.clientFinal(string(challenge))
	default:
		// The only legal post-proof message is the server signature.
		if err := a.verifyServerFinal(string(challenge)); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

// clientFirst builds the client-first-message: n,,n=<user>,r=<nonce>.
func (a *SCRAMAuthenticator) clientFirst() ([]byte, error) {
	nonce, err := generateScramNonce()
	if err != nil {
		return nil, err
	}
	a.clientNonce = nonce
	a.clientFirstBare = fmt.Sprintf("n=%s,r=%s", a.username, a.clientNonce)
	a.phase = scramPhaseChallenged
	return []byte("n,," + a.clientFirstBare), nil
}

// clientFinal answers the server-first-message with the client proof.
func (a *SCRAMAuthenticator) clientFinal(serverFirst string) ([]byte, error) {
	serverNonce, saltB64, iterStr := parseScramServerFirst(serverFirst)
	if serverNonce == "" || saltB64 == "" || iterStr == "" {
		return nil, ErrSCRAMBadChallenge
	}
	if !strings.HasPrefix(serverNonce, a.clientNonce) {
		return nil, ErrSCRAMNonceMismatch
	}

	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return nil, ErrSCRAMBadChallenge
	}
	iterations, err := strconv.Atoi(iterStr)
	if err != nil || iterations <= 0 {
		return nil, ErrSCRAMBadChallenge
	}

	hashFunc := a.hashType.hashFunc()

	// SaltedPassword = PBKDF2(password, salt, iterations, keySize, Hash)
	saltedPassword := pbkdf2.Key([]byte(a.password), salt, iterations, a.hashType.keySize(), hashFunc)

	// ClientKey = HMAC(SaltedPassword, "Client Key")
	clientKeyHMAC := hmac.New(hashFunc, saltedPassword)
	clientKeyHMAC.Write([]byte("Client Key"))
	clientKey := clientKeyHMAC.Sum(nil)

	// StoredKey = H(ClientKey)
	h := hashFunc()
	h.Write(clientKey)
	storedKey := h.Sum(nil)

	clientFinalWithoutProof := "c=biws,r=" + serverNonce
	authMessage := strings.Join([]string{a.clientFirstBare, serverFirst, clientFinalWithoutProof}, ",")

	// ClientSignature = HMAC(StoredKey, AuthMessage)
	clientSigHMAC := hmac.New(hashFunc, storedKey)
	clientSigHMAC.Write([]byte(authMessage))
	clientSignature := clientSigHMAC.Sum(nil)

	// ClientProof = ClientKey XOR ClientSignature
	proof := make([]byte, len(clientKey))
	for i := range clientKey {
		proof[i] = clientKey[i] ^ clientSignature[i]
	}

	// ServerKey = HMAC(SaltedPassword, "Server Key"), kept to verify
	// the server-final-message for mutual authentication.
	serverKeyHMAC := hmac.New(hashFunc, saltedPassword)
	serverKeyHMAC.Write([]byte("Server Key"))
	serverKey := serverKeyHMAC.Sum(nil)

	serverSigHMAC := hmac.New(hashFunc, serverKey)
	serverSigHMAC.Write([]byte(authMessage))
	a.serverSignature = serverSigHMAC.Sum(nil)

	a.phase = scramPhaseDone
	final := fmt.Sprintf("%s,p=%s", clientFinalWithoutProof, base64.StdEncoding.EncodeToString(proof))
	return []byte(final), nil
}

// verifyServerFinal checks v=<signature> against the expected server
// signature.
func (a *SCRAMAuthenticator) verifyServerFinal(serverFinal string) error {
	if a.serverSignature == nil {
		return ErrSCRAMExchangeStalled
	}

	var sigB64 string
	for _, part := range strings.Split(serverFinal, ",") {
		if strings.HasPrefix(part, "v=") {
			sigB64 = part[2:]
		}
	}
	if sigB64 == "" {
		return ErrSCRAMBadChallenge
	}

	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return ErrSCRAMBadChallenge
	}
	if !hmac.Equal(sig, a.serverSignature) {
		return ErrSCRAMBadServerProof
	}
	return nil
}

// SCRAMCredentials is the precomputed server-side verifier for one
// user. Only derived keys are stored, never the password.
type SCRAMCredentials struct {
	Hash       SCRAMHash
	Salt       []byte
	Iterations int
	StoredKey  []byte
	ServerKey  []byte
}

// ComputeSCRAMCredentials derives the stored verifier from a password.
func ComputeSCRAMCredentials(password string, salt []byte, iterations int, hashType SCRAMHash) *SCRAMCredentials {
	hashFunc := hashType.hashFunc()
	saltedPassword := pbkdf2.Key([]byte(password), salt, iterations, hashType.keySize(), hashFunc)

	clientKeyHMAC := hmac.New(hashFunc, saltedPassword)
	clientKeyHMAC.Write([]byte("Client Key"))
	clientKey := clientKeyHMAC.Sum(nil)

	h := hashFunc()
	h.Write(clientKey)
	storedKey := h.Sum(nil)

	serverKeyHMAC := hmac.New(hashFunc, saltedPassword)
	serverKeyHMAC.Write([]byte("Server Key"))
	serverKey := serverKeyHMAC.Sum(nil)

	return &SCRAMCredentials{
		Hash:       hashType,
		Salt:       salt,
		Iterations: iterations,
		StoredKey:  storedKey,
		ServerKey:  serverKey,
	}
}

// GenerateSalt produces a random salt for credential computation.
func GenerateSalt(size int) ([]byte, error) {
	salt := make([]byte, size)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// SCRAMCredentialLookup resolves a username to its stored credentials.
type SCRAMCredentialLookup func(username string) (*SCRAMCredentials, error)

// SCRAMVerifier drives the server side of the SCRAM exchange: it
// consumes the client-first message, issues the challenge, and checks
// the client proof. It implements Authenticator for server-role
// sessions.
type SCRAMVerifier struct {
	hashType SCRAMHash
	lookup   SCRAMCredentialLookup

	phase       scramPhase
	creds       *SCRAMCredentials
	serverFirst string
	firstBare   string
	username    string
}

// NewSCRAMVerifier creates a server-side SCRAM verifier.
func NewSCRAMVerifier(hashType SCRAMHash, lookup SCRAMCredentialLookup) *SCRAMVerifier {
	return &SCRAMVerifier{hashType: hashType, lookup: lookup}
}

// Method returns the authentication method name.
func (v *SCRAMVerifier) Method() string {
	return v.hashType.String()
}

// Username returns the authenticated username after a successful
// exchange.
func (v *SCRAMVerifier) Username() string {
	return v.username
}

// Done reports whether the client proof has been verified.
func (v *SCRAMVerifier) Done() bool {
	return v.phase == scramPhaseDone
}

// Respond consumes the client's message and returns the server's.
func (v *SCRAMVerifier) Respond(challenge []byte) ([]byte, error) {
	switch v.phase {
	case scramPhaseInitial:
		return v.challenge(string(challenge))
	case scramPhaseChallenged:
		return v.verify(string(challenge))
	default:
		return nil, ErrSCRAMExchangeStalled
	}
}

// challenge parses the client-first message and issues the
// server-first challenge.
func (v *SCRAMVerifier) challenge(clientFirst string) ([]byte, error) {
	bare, ok := strings.CutPrefix(clientFirst, "n,,")
	if !ok {
		return nil, ErrSCRAMBadChallenge
	}

	var username, clientNonce string
	for _, part := range strings.Split(bare, ",") {
		if len(part) < 2 {
			continue
		}
		switch part[:2] {
		case "n=":
			username = part[2:]
		case "r=":
			clientNonce = part[2:]
		}
	}
	if username == "" || clientNonce == "" {
		return nil, ErrSCRAMBadChallenge
	}

	creds, err := v.lookup(username)
	if err != nil {
		return nil, err
	}
	if creds.Hash != v.hashType {
		return nil, ErrSCRAMBadChallenge
	}

	serverNonce, err := generateScramNonce()
	if err != nil {
		return nil, err
	}

	v.creds = creds
	v.username = username
	v.firstBare = bare
	v.serverFirst = fmt.Sprintf("r=%s%s,s=%s,i=%d",
		clientNonce, serverNonce,
		base64.StdEncoding.EncodeToString(creds.Salt), creds.Iterations)
	v.phase = scramPhaseChallenged
	return []byte(v.serverFirst), nil
}

// verify checks the client-final proof and returns the server
// signature.
func (v *SCRAMVerifier) verify(clientFinal string) ([]byte, error) {
	var nonce, proofB64 string
	for _, part := range strings.Split(clientFinal, ",") {
		if len(part) < 2 {
			continue
		}
		switch part[:2] {
		case "r=":
			nonce = part[2:]
		case "p=":
			proofB64 = part[2:]
		}
	}
	if nonce == "" || proofB64 == "" {
		return nil, ErrSCRAMBadChallenge
	}

	proof, err := base64.StdEncoding.DecodeString(proofB64)
	if err != nil {
		return nil, ErrSCRAMBadChallenge
	}

	withoutProof := "c=biws,r=" + nonce
	authMessage := strings.Join([]string{v.firstBare, v.serverFirst, withoutProof}, ",")
	hashFunc := v.hashType.hashFunc()

	clientSigHMAC := hmac.New(hashFunc, v.creds.StoredKey)
	clientSigHMAC.Write([]byte(authMessage))
	clientSignature := clientSigHMAC.Sum(nil)

	if len(proof) != len(clientSignature) {
		return nil, ErrSCRAMBadClientProof
	}

	// Recover ClientKey = ClientProof XOR ClientSignature and check
	// H(ClientKey) against the stored key.
	clientKey := make([]byte, len(proof))
	for i := range proof {
		clientKey[i] = proof[i] ^ clientSignature[i]
	}
	h := hashFunc()
	h.Write(clientKey)
	if !hmac.Equal(h.Sum(nil), v.creds.StoredKey) {
		return nil, ErrSCRAMBadClientProof
	}

	serverSigHMAC := hmac.New(hashFunc, v.creds.ServerKey)
	serverSigHMAC.Write([]byte(authMessage))
	serverSignature := serverSigHMAC.Sum(nil)

	v.phase = scramPhaseDone
	return []byte("v=" + base64.StdEncoding.EncodeToString(serverSignature)), nil
}

// parseScramServerFirst extracts nonce, salt and iteration count from
// the server-first-message: r=<nonce>,s=<salt>,i=<iterations>.
func parseScramServerFirst(msg string) (nonce, salt, iterations string) {
	for _, part := range strings.Split(msg, ",") {
		if len(part) < 2 {
			continue
		}
		switch part[:2] {
		case "r=":
			nonce = part[2:]
		case "s=":
			salt = part[2:]
		case "i=":
			iterations = part[2:]
		}
	}
	return
}

// generateScramNonce creates a cryptographically secure random nonce.
func generateScramNonce() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
