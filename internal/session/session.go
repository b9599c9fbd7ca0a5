// Package session manages the user registry and online presence.
//
// Users are seeded at startup into the regular and admin registry sets; there
// is no self-service registration. Login and logout toggle membership of the
// online set — the membership check and the toggle run inside ONE optimistic
// store transaction watching the online set, so two racing logins for the same
// user cannot both succeed.
package session

import (
	"errors"
	"fmt"

	"github.com/snehjoshi/courier/internal/journal"
	"github.com/snehjoshi/courier/internal/store"
	"github.com/snehjoshi/courier/internal/types"
)

// Registry set keys.
const (
	setRegular = "regular_users"
	setAdmin   = "admin_users"
	setOnline  = "online_users"
)

var (
	// ErrUsernameNotFound means the username is in neither registry set.
	ErrUsernameNotFound = errors.New("session: username not found")

	// ErrAlreadyLoggedIn means the user is already in the online set.
	ErrAlreadyLoggedIn = errors.New("session: user already logged in")

	// ErrNotLoggedIn means the user is not in the online set.
	ErrNotLoggedIn = errors.New("session: user not logged in")
)

// Manager validates usernames and toggles online presence.
type Manager struct {
	st   store.Store
	jrnl *journal.Journal
}

// New creates a Manager recording presence changes in jrnl.
func New(st store.Store, jrnl *journal.Journal) *Manager {
	return &Manager{st: st, jrnl: jrnl}
}

// Seed adds the given users to the registry sets. Re-seeding with the same
// names is a no-op; existing members are never removed.
func (m *Manager) Seed(regular, admin []string) error {
	return m.st.Txn(func(tx store.Tx) error {
		if len(regular) > 0 {
			if err := tx.SAdd(setRegular, regular...); err != nil {
				return err
			}
		}
		if len(admin) > 0 {
			if err := tx.SAdd(setAdmin, admin...); err != nil {
				return err
			}
		}
		return nil
	})
}

// Login puts username into the online set and journals the event.
// Returns ErrUsernameNotFound for unknown users and ErrAlreadyLoggedIn when
// the user is already online.
func (m *Manager) Login(username string) error {
	err := m.st.Txn(func(tx store.Tx) error {
		if err := m.requireKnown(tx, username); err != nil {
			return err
		}
		online, err := tx.SIsMember(setOnline, username)
		if err != nil {
			return err
		}
		if online {
			return fmt.Errorf("%w: %s", ErrAlreadyLoggedIn, username)
		}
		return tx.SAdd(setOnline, username)
	}, setOnline)
	if err != nil {
		return err
	}
	return m.jrnl.Record(username + " has logged in.")
}

// Logout removes username from the online set and journals the event.
// Returns ErrUsernameNotFound for unknown users and ErrNotLoggedIn when the
// user is not online.
func (m *Manager) Logout(username string) error {
	err := m.st.Txn(func(tx store.Tx) error {
		if err := m.requireKnown(tx, username); err != nil {
			return err
		}
		online, err := tx.SIsMember(setOnline, username)
		if err != nil {
			return err
		}
		if !online {
			return fmt.Errorf("%w: %s", ErrNotLoggedIn, username)
		}
		return tx.SRem(setOnline, username)
	}, setOnline)
	if err != nil {
		return err
	}
	return m.jrnl.Record(username + " has logged out.")
}

// Online returns the usernames currently logged in, sorted.
func (m *Manager) Online() ([]string, error) {
	var users []string
	err := m.st.View(func(tx store.ReadTx) error {
		var err error
		users, err = tx.SMembers(setOnline)
		return err
	})
	return users, err
}

// IsKnown reports whether username is in either registry set.
func (m *Manager) IsKnown(username string) (bool, error) {
	var known bool
	err := m.st.View(func(tx store.ReadTx) error {
		var err error
		known, err = isKnown(tx, username)
		return err
	})
	return known, err
}

// Role returns the registry role of username.
func (m *Manager) Role(username string) (types.Role, error) {
	var role types.Role
	err := m.st.View(func(tx store.ReadTx) error {
		admin, err := tx.SIsMember(setAdmin, username)
		if err != nil {
			return err
		}
		if admin {
			role = types.RoleAdmin
			return nil
		}
		regular, err := tx.SIsMember(setRegular, username)
		if err != nil {
			return err
		}
		if !regular {
			return fmt.Errorf("%w: %s", ErrUsernameNotFound, username)
		}
		role = types.RoleRegular
		return nil
	})
	return role, err
}

func (m *Manager) requireKnown(tx store.ReadTx, username string) error {
	known, err := isKnown(tx, username)
	if err != nil {
		return err
	}
	if !known {
		return fmt.Errorf("%w: %s", ErrUsernameNotFound, username)
	}
	return nil
}

func isKnown(tx store.ReadTx, username string) (bool, error) {
	regular, err := tx.SIsMember(setRegular, username)
	if err != nil || regular {
		return regular, err
	}
	return tx.SIsMember(setAdmin, username)
}
