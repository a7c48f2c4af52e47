// Package account implements the AccountDirectory collaborator: account
// and container records, the unknown pseudo-account, and each account's
// synthetic legacy default-public/default-private containers.
package account

import (
	"sync"
)

// Status is the lifecycle status of an account or container.
type Status int

const (
	StatusActive Status = iota
	StatusInactive
)

// UnknownID is the short id used by the unknown account and its unknown
// container, matching clusterview.UnknownID's sentinel value.
const UnknownID uint16 = 0xFFFF

// UnknownAccountName and UnknownContainerName are the well-known names
// reserved for the sentinel records; a real account/container may never
// be named this, and the pipeline's injection rules treat a header value
// equal to either name as InvalidAccount/InvalidContainer.
const (
	UnknownAccountName   = "UNKNOWN_ACCOUNT"
	UnknownContainerName = "UNKNOWN_CONTAINER"
)

// DefaultPublicContainerName and DefaultPrivateContainerName name the two
// synthetic legacy containers an account may have.
const (
	DefaultPublicContainerName  = "default-public"
	DefaultPrivateContainerName = "default-private"
)

// Container is a directory record for one container.
type Container struct {
	ID        uint16
	Name      string
	AccountID uint16
	Status    Status
	Private   bool
}

// Account is a directory record for one account.
type Account struct {
	ID     uint16
	Name   string
	Status Status
	// HasLegacyContainers is true when the account has default-public /
	// default-private synthetic containers populated.
	HasLegacyContainers bool
}

// Directory is the AccountDirectory collaborator: lookups by name or id.
// Reads must be safe for concurrent use; writes happen via an
// out-of-band updater.
type Directory interface {
	AccountByName(name string) (Account, bool)
	AccountByID(id uint16) (Account, bool)
	ContainerByName(accountID uint16, name string) (Container, bool)
	ContainerByID(accountID, containerID uint16) (Container, bool)
	// DefaultContainer returns the account's default-public or
	// default-private legacy container, if it has legacy containers.
	DefaultContainer(accountID uint16, private bool) (Container, bool)
	UnknownAccount() Account
	UnknownContainer() Container
}

// Static is an in-memory Directory, updated wholesale under a lock by
// an out-of-band updater.
type Static struct {
	mu         sync.RWMutex
	byName     map[string]Account
	byID       map[uint16]Account
	containers map[uint16]map[string]Container // accountID -> name -> Container
	byCID      map[uint16]map[uint16]Container // accountID -> containerID -> Container
	unknownAcc Account
	unknownCtr Container
}

// NewStatic builds a Static directory seeded with the unknown
// account/container and any number of real accounts.
func NewStatic(accounts []Account, containers []Container) *Static {
	d := &Static{
		byName:     map[string]Account{},
		byID:       map[uint16]Account{},
		containers: map[uint16]map[string]Container{},
		byCID:      map[uint16]map[uint16]Container{},
		unknownAcc: Account{ID: UnknownID, Name: UnknownAccountName, Status: StatusActive},
		unknownCtr: Container{ID: UnknownID, Name: UnknownContainerName, AccountID: UnknownID},
	}
	for _, a := range accounts {
		d.byName[a.Name] = a
		d.byID[a.ID] = a
		d.containers[a.ID] = map[string]Container{}
		d.byCID[a.ID] = map[uint16]Container{}
	}
	for _, c := range containers {
		if d.containers[c.AccountID] == nil {
			d.containers[c.AccountID] = map[string]Container{}
			d.byCID[c.AccountID] = map[uint16]Container{}
		}
		d.containers[c.AccountID][c.Name] = c
		d.byCID[c.AccountID][c.ID] = c
	}
	return d
}

// AccountByName looks up an account by its unique name.
func (d *Static) AccountByName(name string) (Account, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.byName[name]
	return a, ok
}

// AccountByID looks up an account by its numeric id.
func (d *Static) AccountByID(id uint16) (Account, bool) {
	if id == UnknownID {
		return d.UnknownAccount(), true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.byID[id]
	return a, ok
}

// ContainerByName looks up a container by name within an account.
func (d *Static) ContainerByName(accountID uint16, name string) (Container, bool) {
	if name == UnknownContainerName {
		return d.UnknownContainer(), true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.containers[accountID]
	if !ok {
		return Container{}, false
	}
	c, ok := m[name]
	return c, ok
}

// ContainerByID looks up a container by id within an account.
func (d *Static) ContainerByID(accountID, containerID uint16) (Container, bool) {
	if containerID == UnknownID {
		return d.UnknownContainer(), true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.byCID[accountID]
	if !ok {
		return Container{}, false
	}
	c, ok := m[containerID]
	return c, ok
}

// DefaultContainer returns the account's legacy default container by
// privacy flag, if the account has legacy containers at all.
func (d *Static) DefaultContainer(accountID uint16, private bool) (Container, bool) {
	d.mu.RLock()
	acc, ok := d.byID[accountID]
	d.mu.RUnlock()
	if !ok || !acc.HasLegacyContainers {
		return Container{}, false
	}
	name := DefaultPublicContainerName
	if private {
		name = DefaultPrivateContainerName
	}
	return d.ContainerByName(accountID, name)
}

// UnknownAccount returns the unknown pseudo-account record.
func (d *Static) UnknownAccount() Account { return d.unknownAcc }

// UnknownContainer returns the unknown pseudo-container record.
func (d *Static) UnknownContainer() Container { return d.unknownCtr }

// Replace atomically swaps the directory contents, modeling an
// out-of-band bulk update.
func (d *Static) Replace(accounts []Account, containers []Container) {
	fresh := NewStatic(accounts, containers)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byName = fresh.byName
	d.byID = fresh.byID
	d.containers = fresh.containers
	d.byCID = fresh.byCID
}
