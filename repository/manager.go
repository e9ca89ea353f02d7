package repository

import (
	"database/sql"
	"errors"
	"log"

	gorepo "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-uas"
)

// Manager bundles the core repositories with the provider link store so
// a service wires a single value.
type Manager struct {
	uas.RepositoryManager
	links *SocialAccountRepository
}

func NewManager(db *bun.DB) *Manager {
	return &Manager{
		RepositoryManager: uas.NewRepositoryManager(db),
		links:             NewSocialAccountRepository(db),
	}
}

func (m *Manager) Validate() error {
	if err := m.RepositoryManager.Validate(); err != nil {
		return err
	}
	if m.links == nil || m.links.db == nil {
		return errors.New("repository socialAccounts should be initialized")
	}
	return nil
}

func (m *Manager) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m *Manager) SocialAccounts() *SocialAccountRepository {
	return m.links
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || gorepo.IsRecordNotFound(err)
}
