package plugins

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nexora-run/taskorch/internal/domain"
)

// ApprovedFilename is the on-disk record of plugin approval decisions,
// sitting alongside the plugin manifests it references.
const ApprovedFilename = "approved.json"

// approvalClaims binds a signed approval to one specific name+version so a
// token copied onto a newer (unreviewed) version of a plugin doesn't
// validate.
type approvalClaims struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	ApprovedBy string `json:"approved_by"`
	jwt.RegisteredClaims
}

// ApprovalStore persists plugin approval decisions as HS256-signed JWTs
// keyed by plugin name, so a hand-edited approved.json (changing true/false
// or the version string) fails signature verification instead of silently
// granting trust. Grounded on spec.md §4.5's "approval persisted,
// independently verifiable" requirement for self-extension; this is the
// Plugin-entity counterpart of the HMAC-signed tool-regression rollback
// entries in internal/toolregistry.
type ApprovalStore struct {
	path   string
	secret []byte

	mu sync.Mutex
}

// OpenApprovalStore opens (without requiring it to already exist) the
// approved.json at path, signed/verified with secret.
func OpenApprovalStore(path string, secret []byte) (*ApprovalStore, error) {
	if len(secret) == 0 {
		return nil, domain.New(domain.KindSignatureMismatch, "plugin approval store requires a non-empty signing secret")
	}
	return &ApprovalStore{path: path, secret: secret}, nil
}

func (s *ApprovalStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, domain.Wrap(domain.KindStorageUnavailable, err, "read plugin approvals")
	}
	var tokens map[string]string
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, domain.Wrap(domain.KindStorageUnavailable, err, "parse plugin approvals")
	}
	return tokens, nil
}

func (s *ApprovalStore) save(tokens map[string]string) error {
	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return domain.Wrap(domain.KindStorageUnavailable, err, "marshal plugin approvals")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return domain.Wrap(domain.KindStorageUnavailable, err, "create plugin approval dir")
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return domain.Wrap(domain.KindStorageUnavailable, err, "write plugin approvals")
	}
	return nil
}

// Approve records a signed approval for name@version, valid for ttl.
func (s *ApprovalStore) Approve(name, version, approvedBy string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	claims := approvalClaims{
		Name:       name,
		Version:    version,
		ApprovedBy: approvedBy,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   name,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return domain.Wrap(domain.KindSignatureMismatch, err, "sign plugin approval")
	}

	tokens, err := s.load()
	if err != nil {
		return err
	}
	tokens[name] = signed
	return s.save(tokens)
}

// Revoke removes any approval recorded for name.
func (s *ApprovalStore) Revoke(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.load()
	if err != nil {
		return err
	}
	delete(tokens, name)
	return s.save(tokens)
}

// IsApproved reports whether name@version has a currently valid signed
// approval on record.
func (s *ApprovalStore) IsApproved(name, version string) (bool, error) {
	s.mu.Lock()
	tokens, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return false, err
	}
	raw, ok := tokens[name]
	if !ok {
		return false, nil
	}

	var claims approvalClaims
	_, err = jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return false, nil
	}
	return claims.Name == name && claims.Version == version, nil
}

// ApprovedVersion returns the version currently approved for name, if any.
// Satisfies internal/sandbox.ApprovalLookup, letting the sandbox runtime's
// load-time approval-binding check consult this store directly.
func (s *ApprovalStore) ApprovedVersion(name string) (string, bool) {
	s.mu.Lock()
	tokens, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return "", false
	}
	raw, ok := tokens[name]
	if !ok {
		return "", false
	}

	var claims approvalClaims
	_, err = jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || claims.Name != name {
		return "", false
	}
	return claims.Version, true
}
