package proxyengine

import (
	"github.com/ndproxyd/ndproxyd/internal/ndproxyerr"
	"github.com/ndproxyd/ndproxyd/internal/proxyif"
)

// BindInterface opens and registers a new proxy interface named name.
func (e *Engine) BindInterface(name string) (err error) {
	return e.do(func() (err error) { return e.bindInterface(name) })
}

func (e *Engine) bindInterface(name string) (err error) {
	if _, exists := e.interfaces[name]; exists {
		return ndproxyerr.New(ndproxyerr.AlreadyExists, "interface "+name+" is already bound")
	}

	iface, oerr := proxyif.Open(name)
	if oerr != nil {
		return oerr
	}

	e.interfaces[name] = iface
	e.watch(iface)

	return nil
}

// ReleaseInterface removes name from its group if any, cancels its
// pending loop timer, discards its cached neighbor entries, and closes it.
func (e *Engine) ReleaseInterface(name string) (err error) {
	return e.do(func() (err error) { return e.releaseInterface(name) })
}

func (e *Engine) releaseInterface(name string) (err error) {
	iface, ok := e.interfaces[name]
	if !ok {
		return ndproxyerr.New(ndproxyerr.DoesNotExist, "interface "+name+" is not bound")
	}

	if groupName, inGroup := iface.CurrentGroup(); inGroup {
		if g, gok := e.groups.Group(groupName); gok {
			_ = g.RemoveMember(name)
		}
	}

	e.cancelLoopTimer(name)
	e.cache.ClearForInterface(name)
	delete(e.interfaces, name)

	return iface.Close()
}

// CreateGroup creates a new empty proxy group named name.
func (e *Engine) CreateGroup(name string) (err error) {
	return e.do(func() (err error) {
		_, cerr := e.groups.CreateGroup(name)

		return cerr
	})
}

// ReleaseGroup removes every member of the named group, canceling each
// member's pending loop timer first, then destroys the group.
func (e *Engine) ReleaseGroup(name string) (err error) {
	return e.do(func() (err error) { return e.releaseGroup(name) })
}

func (e *Engine) releaseGroup(name string) (err error) {
	g, ok := e.groups.Group(name)
	if !ok {
		return ndproxyerr.New(ndproxyerr.DoesNotExist, "group "+name+" does not exist")
	}

	for _, m := range g.GetMembers() {
		e.cancelLoopTimer(m.Name())
	}

	e.cache.ClearForGroup(name)

	return e.groups.ReleaseGroup(name)
}

// AddToGroup adds ifName to groupName, optionally designating it upstream.
func (e *Engine) AddToGroup(ifName, groupName string, asUpstream bool) (err error) {
	return e.do(func() (err error) { return e.addToGroup(ifName, groupName, asUpstream) })
}

func (e *Engine) addToGroup(ifName, groupName string, asUpstream bool) (err error) {
	iface, ok := e.interfaces[ifName]
	if !ok {
		return ndproxyerr.New(ndproxyerr.DoesNotExist, "interface "+ifName+" is not bound")
	}

	g, ok := e.groups.Group(groupName)
	if !ok {
		return ndproxyerr.New(ndproxyerr.DoesNotExist, "group "+groupName+" does not exist")
	}

	if aerr := g.AddMember(iface); aerr != nil {
		return aerr
	}

	if asUpstream {
		return g.SetUpstream(ifName)
	}

	return nil
}

// RemoveFromGroup removes ifName from its current group, canceling its
// pending loop timer.
func (e *Engine) RemoveFromGroup(ifName string) (err error) {
	return e.do(func() (err error) { return e.removeFromGroup(ifName) })
}

func (e *Engine) removeFromGroup(ifName string) (err error) {
	iface, ok := e.interfaces[ifName]
	if !ok {
		return ndproxyerr.New(ndproxyerr.DoesNotExist, "interface "+ifName+" is not bound")
	}

	groupName, inGroup := iface.CurrentGroup()
	if !inGroup {
		return ndproxyerr.New(ndproxyerr.DoesNotExist, "interface "+ifName+" is not in a group")
	}

	g, ok := e.groups.Group(groupName)
	if !ok {
		return ndproxyerr.New(ndproxyerr.DoesNotExist, "group "+groupName+" does not exist")
	}

	e.cancelLoopTimer(ifName)
	e.cache.ClearForInterface(ifName)

	return g.RemoveMember(ifName)
}

// SetUpstream designates ifName as its group's upstream member.
func (e *Engine) SetUpstream(ifName string) (err error) {
	return e.do(func() (err error) { return e.setUpstream(ifName) })
}

func (e *Engine) setUpstream(ifName string) (err error) {
	iface, ok := e.interfaces[ifName]
	if !ok {
		return ndproxyerr.New(ndproxyerr.DoesNotExist, "interface "+ifName+" is not bound")
	}

	groupName, inGroup := iface.CurrentGroup()
	if !inGroup {
		return ndproxyerr.New(ndproxyerr.InvalidArgument, "interface "+ifName+" is not in a group")
	}

	g, ok := e.groups.Group(groupName)
	if !ok {
		return ndproxyerr.New(ndproxyerr.DoesNotExist, "group "+groupName+" does not exist")
	}

	return g.SetUpstream(ifName)
}

// UnsetUpstream clears groupName's upstream member, if any.
func (e *Engine) UnsetUpstream(groupName string) (err error) {
	return e.do(func() (err error) { return e.unsetUpstream(groupName) })
}

func (e *Engine) unsetUpstream(groupName string) (err error) {
	g, ok := e.groups.Group(groupName)
	if !ok {
		return ndproxyerr.New(ndproxyerr.DoesNotExist, "group "+groupName+" does not exist")
	}

	g.UnsetUpstream()

	return nil
}
