package pipeline

import (
	"strconv"
	"strings"

	"github.com/xiahome/ambry/internal/account"
	"github.com/xiahome/ambry/internal/clusterview"
)

// isPrivate interprets the x-ambry-private header as a boolean flag.
func isPrivate(rc *RequestContext) bool {
	v := strings.TrimSpace(rc.Headers.Get(HeaderPrivate))
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func setTarget(rc *RequestContext, acc account.Account, ctr account.Container) {
	rc.Args[ArgTargetAccount] = acc
	rc.Args[ArgTargetContainer] = ctr
}

// inject implements the account/container injection rule matrix for
// POST.
func inject(rc *RequestContext, dir account.Directory) error {
	if _, ok := rc.Args[ArgTargetAccount]; ok {
		return NewError(BadRequest, nil)
	}
	if _, ok := rc.Args[ArgTargetContainer]; ok {
		return NewError(BadRequest, nil)
	}

	accountHeader := strings.TrimSpace(rc.Headers.Get(HeaderTargetAccount))
	containerHeader := strings.TrimSpace(rc.Headers.Get(HeaderTargetContainer))

	if accountHeader == "" {
		return injectNoAccountHeader(rc, dir, containerHeader)
	}
	return injectWithAccountHeader(rc, dir, accountHeader, containerHeader)
}

func injectNoAccountHeader(rc *RequestContext, dir account.Directory, containerHeader string) error {
	if containerHeader != "" {
		if containerHeader == account.UnknownContainerName {
			return NewError(InvalidContainer, nil)
		}
		return NewError(MissingArgs, nil)
	}

	unknownAcc := dir.UnknownAccount()
	defaultCtr, _ := dir.DefaultContainer(unknownAcc.ID, isPrivate(rc))
	if defaultCtr == (account.Container{}) {
		defaultCtr = dir.UnknownContainer()
	}
	acc, ctr := unknownAcc, defaultCtr

	if serviceID := strings.TrimSpace(rc.Headers.Get(HeaderServiceID)); serviceID != "" {
		if serviceID == account.UnknownAccountName {
			return NewError(InvalidAccount, nil)
		}
		if candidate, ok := dir.AccountByName(serviceID); ok {
			if candidate.ID == account.UnknownID {
				return NewError(InvalidAccount, nil)
			}
			acc = candidate
			if d, ok := dir.DefaultContainer(acc.ID, isPrivate(rc)); ok {
				ctr = d
			} else {
				// A service-id naming a real account that has no legacy
				// default containers falls back to the unknown account,
				// silently discarding the named account. Surprising, but
				// kept for compatibility with existing callers.
				acc = dir.UnknownAccount()
				ctr = dir.UnknownContainer()
			}
		}
	}

	setTarget(rc, acc, ctr)
	return nil
}

func injectWithAccountHeader(rc *RequestContext, dir account.Directory, accountHeader, containerHeader string) error {
	if accountHeader == account.UnknownAccountName {
		return NewError(InvalidAccount, nil)
	}
	acc, ok := dir.AccountByName(accountHeader)
	if !ok {
		return NewError(InvalidAccount, nil)
	}
	if containerHeader == "" {
		return NewError(MissingArgs, nil)
	}
	if containerHeader == account.UnknownContainerName {
		return NewError(InvalidContainer, nil)
	}
	ctr, ok := dir.ContainerByName(acc.ID, containerHeader)
	if !ok {
		return NewError(InvalidContainer, nil)
	}
	setTarget(rc, acc, ctr)
	return nil
}

// resolve implements the account/container resolution rules for
// GET/HEAD/DELETE.
func resolve(rc *RequestContext, id clusterview.BlobId, dir account.Directory) error {
	accountUnknown := id.AccountID == clusterview.UnknownID
	containerUnknown := id.ContainerID == clusterview.UnknownID

	if accountUnknown && containerUnknown {
		setTarget(rc, dir.UnknownAccount(), dir.UnknownContainer())
		return nil
	}
	if accountUnknown && !containerUnknown {
		return NewError(InvalidContainer, nil)
	}

	acc, ok := dir.AccountByID(id.AccountID)
	if !ok {
		return NewError(InvalidAccount, nil)
	}
	if containerUnknown {
		return NewError(InvalidContainer, nil)
	}
	ctr, ok := dir.ContainerByID(id.AccountID, id.ContainerID)
	if !ok {
		return NewError(InvalidContainer, nil)
	}
	setTarget(rc, acc, ctr)
	return nil
}
