// SPDX-License-Identifier: GPL-3.0-or-later
package credentials

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/CrawX/go-imap-phishguard/domain"

	"github.com/99designs/keyring"
)

const ServiceName = "phishguard"

// Keyring resolves IMAP passwords by the credential reference of an account,
// the address is used if no reference is configured.
type Keyring struct {
	ring keyring.Keyring
}

func NewKeyring(backends []string, fileDir, filePassword string) (*Keyring, error) {
	allowed := make([]keyring.BackendType, 0, len(backends))
	for _, b := range backends {
		allowed = append(allowed, keyring.BackendType(b))
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:              ServiceName,
		AllowedBackends:          allowed,
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(filePassword),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("could not open keyring: %w", err)
	}

	return &Keyring{ring: ring}, nil
}

func ref(account *domain.Account) string {
	if account.CredentialRef != "" {
		return account.CredentialRef
	}
	return account.Address
}

func (k *Keyring) Password(_ context.Context, account *domain.Account) (string, error) {
	item, err := k.ring.Get(ref(account))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("credential %q: %w", ref(account), domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("could not get credential %q: %w", ref(account), err)
	}

	return string(item.Data), nil
}

func (k *Keyring) SetPassword(account *domain.Account, password string) error {
	err := k.ring.Set(keyring.Item{
		Key:         ref(account),
		Data:        []byte(password),
		Label:       "IMAP password of " + account.Address,
		Description: "phishguard imap credential",
	})
	if err != nil {
		return fmt.Errorf("could not set credential %q: %w", ref(account), err)
	}
	return nil
}

func (k *Keyring) RemovePassword(account *domain.Account) error {
	err := k.ring.Remove(ref(account))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("could not remove credential %q: %w", ref(account), err)
	}
	return nil
}
