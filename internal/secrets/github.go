// Package secrets persists rotated session cookies back into GitHub
// Actions repository secrets so the next scheduled run authenticates
// with fresh material.
package secrets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/ternarybob/arbor"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/oauth2"
)

// Store writes repository secrets through the GitHub Actions API.
// An unconfigured store (missing token or repo) is a silent no-op;
// secret persistence is never allowed to fail a renewal run.
type Store struct {
	client *github.Client
	owner  string
	repo   string
	logger arbor.ILogger
}

// NewStore builds a store for "owner/repo". Returns a no-op store when
// token or repo is empty or repo is malformed.
func NewStore(token, ownerRepo string, logger arbor.ILogger) *Store {
	s := &Store{logger: logger}
	owner, repo, found := strings.Cut(ownerRepo, "/")
	if token == "" || !found || owner == "" || repo == "" {
		return s
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	s.client = github.NewClient(oauth2.NewClient(context.Background(), ts))
	s.owner = owner
	s.repo = repo
	return s
}

// Configured reports whether UpdateSecret will actually call GitHub.
func (s *Store) Configured() bool {
	return s.client != nil
}

// UpdateSecret seals value with the repository public key and upserts
// the named secret. Failures are logged and reported as false; they
// never propagate as errors.
func (s *Store) UpdateSecret(ctx context.Context, name, value string) bool {
	if !s.Configured() {
		return false
	}

	key, _, err := s.client.Actions.GetRepoPublicKey(ctx, s.owner, s.repo)
	if err != nil {
		s.logger.Warn().Err(err).Str("secret", name).Msg("Fetching repository public key failed")
		return false
	}

	encrypted, err := sealSecret(key.GetKey(), value)
	if err != nil {
		s.logger.Warn().Err(err).Str("secret", name).Msg("Sealing secret failed")
		return false
	}

	_, err = s.client.Actions.CreateOrUpdateRepoSecret(ctx, s.owner, s.repo, &github.EncryptedSecret{
		Name:           name,
		KeyID:          key.GetKeyID(),
		EncryptedValue: encrypted,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("secret", name).Msg("Updating repository secret failed")
		return false
	}

	s.logger.Info().Str("secret", name).Msg("Repository secret updated")
	return true
}

// sealSecret encrypts value with the base64-encoded X25519 public key
// using an anonymous NaCl box, the format the Actions API requires.
func sealSecret(publicKey, value string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil {
		return "", err
	}
	var key [32]byte
	copy(key[:], decoded)

	sealed, err := box.SealAnonymous(nil, []byte(value), &key, rand.Reader)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}
