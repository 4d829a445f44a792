package artifact

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rch-lane/xcode-worker/internal/canon"
)

// AttestationSchemaID/Version identify the attestation document shape.
const (
	AttestationSchemaID      = "rch-xcode/attestation@1"
	AttestationSchemaVersion = 1
)

// SignatureAlgorithm is the only algorithm this subsystem signs with.
// There is no ecosystem Ed25519 wrapper in the dependency corpus this
// module was built against; the standard library's crypto/ed25519 is used
// directly.
const SignatureAlgorithm = "ed25519"

// Attestation binds a completed job's manifest to the identities that
// produced it.
type Attestation struct {
	SchemaVersion   int       `json:"schema_version"`
	SchemaID        string    `json:"schema_id"`
	CreatedAt       time.Time `json:"created_at"`
	WorkerIdentity  string    `json:"worker_identity"`
	BackendIdentity string    `json:"backend_identity,omitempty"`
	JobID           string    `json:"job_id"`
	JobKey          string    `json:"job_key"`
	ManifestSHA256  string    `json:"manifest_sha256"`
}

// SignedAttestation is the document persisted as attestation.json.
type SignedAttestation struct {
	Attestation    Attestation `json:"attestation"`
	Signature      string      `json:"signature"`
	KeyFingerprint string      `json:"key_fingerprint"`
	Algorithm      string      `json:"algorithm"`
}

// GenerateKeypair creates a new Ed25519 signing key.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("artifact: generate keypair: %w", err)
	}
	return pub, priv, nil
}

// KeyFingerprint returns the hex SHA-256 digest of canon.Canonicalize(pub),
// which encodes the key's bytes as a JSON string of their standard base64
// form.
func KeyFingerprint(pub ed25519.PublicKey) (string, error) {
	b, err := canon.Canonicalize([]byte(pub))
	if err != nil {
		return "", fmt.Errorf("artifact: canonicalize public key: %w", err)
	}
	return canon.SHA256Hex(b), nil
}

// Sign produces a SignedAttestation over att using key.
func Sign(att Attestation, key ed25519.PrivateKey) (*SignedAttestation, error) {
	canonical, err := canon.Canonicalize(att)
	if err != nil {
		return nil, fmt.Errorf("artifact: canonicalize attestation: %w", err)
	}
	sig := ed25519.Sign(key, canonical)
	pub, ok := key.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("artifact: unexpected public key type")
	}
	fp, err := KeyFingerprint(pub)
	if err != nil {
		return nil, err
	}
	return &SignedAttestation{
		Attestation:    att,
		Signature:      hex.EncodeToString(sig),
		KeyFingerprint: fp,
		Algorithm:      SignatureAlgorithm,
	}, nil
}

// VerifySignature checks sa.Signature against pub.
func VerifySignature(sa SignedAttestation, pub ed25519.PublicKey) error {
	if sa.Algorithm != SignatureAlgorithm {
		return fmt.Errorf("artifact: unsupported signature algorithm %q", sa.Algorithm)
	}
	canonical, err := canon.Canonicalize(sa.Attestation)
	if err != nil {
		return fmt.Errorf("artifact: canonicalize attestation: %w", err)
	}
	sig, err := hex.DecodeString(sa.Signature)
	if err != nil {
		return fmt.Errorf("artifact: decode signature: %w", err)
	}
	if !ed25519.Verify(pub, canonical, sig) {
		return fmt.Errorf("artifact: signature verification failed")
	}
	return nil
}

// CommitAttestation writes sa to jobDir/attestation.json via a two-phase
// write-temp-then-rename, matching CommitManifest.
func CommitAttestation(jobDir string, sa *SignedAttestation) error {
	return writeJSONAtomic(filepath.Join(jobDir, "attestation.json"), sa)
}

// LoadAttestation reads jobDir/attestation.json.
func LoadAttestation(jobDir string) (*SignedAttestation, error) {
	b, err := os.ReadFile(filepath.Join(jobDir, "attestation.json"))
	if err != nil {
		return nil, fmt.Errorf("artifact: read attestation: %w", err)
	}
	var sa SignedAttestation
	if err := json.Unmarshal(b, &sa); err != nil {
		return nil, fmt.Errorf("artifact: unmarshal attestation: %w", err)
	}
	return &sa, nil
}
