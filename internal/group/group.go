// Package group implements proxy groups and the group manager: named sets
// of member interfaces that share multicast ND traffic, one of which may be
// designated the upstream.
package group

import (
	"regexp"

	"github.com/AdguardTeam/golibs/container"
	"github.com/ndproxyd/ndproxyd/internal/ndproxyerr"
)

// nameRE matches valid group names: non-empty ASCII drawn from
// [A-Za-z0-9_-].
var nameRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidName reports whether name is a syntactically valid group name.
func ValidName(name string) (ok bool) { return nameRE.MatchString(name) }

// Member is a group member: a proxy interface.  The group calls PostJoin
// and PostLeave on the exact add and exact remove of a member, and uses
// CurrentGroup to detect a member already claimed by a different group.
type Member interface {
	// Name returns the member's unique name.
	Name() string

	// CurrentGroup returns the name of the group the member currently
	// believes it belongs to, if any.
	CurrentGroup() (name string, ok bool)

	// PostJoin is called immediately after the member is added to a group.
	PostJoin(groupName string)

	// PostLeave is called immediately after the member is removed from its
	// group.
	PostLeave()
}

// Group is a named set of member interfaces.  It owns its membership list;
// a member's own group back-reference is a weak edge the member maintains
// itself in response to PostJoin/PostLeave.
type Group struct {
	name     string
	members  container.KeyValues[string, Member]
	upstream string
}

// newGroup returns an empty Group named name.  name is assumed already
// validated by the caller.
func newGroup(name string) (g *Group) {
	return &Group{name: name}
}

// Name returns g's name.
func (g *Group) Name() (name string) { return g.name }

// indexOf returns the position of name in g.members, or -1.
func (g *Group) indexOf(name string) (idx int) {
	for i, kv := range g.members {
		if kv.Key == name {
			return i
		}
	}

	return -1
}

// AddMember adds m to g.  If m already believes it is a member of g, this is
// a no-op success.  If m believes it belongs to a different group, it fails
// with [ndproxyerr.InvalidArgument].
func (g *Group) AddMember(m Member) (err error) {
	if cur, ok := m.CurrentGroup(); ok {
		if cur == g.name {
			return nil
		}

		return ndproxyerr.New(
			ndproxyerr.InvalidArgument,
			"member "+m.Name()+" already belongs to group "+cur,
		)
	}

	g.members = append(g.members, container.KeyValue[string, Member]{
		Key:   m.Name(),
		Value: m,
	})
	m.PostJoin(g.name)

	return nil
}

// RemoveMember removes the member named name from g, firing its PostLeave
// hook and clearing the upstream slot if name was the upstream.  It fails
// with [ndproxyerr.DoesNotExist] if name is not a current member.
func (g *Group) RemoveMember(name string) (err error) {
	idx := g.indexOf(name)
	if idx < 0 {
		return ndproxyerr.New(ndproxyerr.DoesNotExist, "member "+name+" not in group "+g.name)
	}

	m := g.members[idx].Value
	g.members = append(g.members[:idx], g.members[idx+1:]...)

	if g.upstream == name {
		g.upstream = ""
	}

	m.PostLeave()

	return nil
}

// RemoveAll removes every member from g, firing each one's PostLeave hook.
func (g *Group) RemoveAll() {
	for _, name := range g.memberNames() {
		_ = g.RemoveMember(name)
	}
}

// memberNames returns a snapshot of g's current member names, safe to range
// over while mutating g.members.
func (g *Group) memberNames() (names []string) {
	names = make([]string, len(g.members))
	for i, kv := range g.members {
		names[i] = kv.Key
	}

	return names
}

// SetUpstream designates the member named name as g's upstream.  It fails
// with [ndproxyerr.DoesNotExist] if name is not a current member.
func (g *Group) SetUpstream(name string) (err error) {
	if g.indexOf(name) < 0 {
		return ndproxyerr.New(ndproxyerr.DoesNotExist, "member "+name+" not in group "+g.name)
	}

	g.upstream = name

	return nil
}

// UnsetUpstream clears g's upstream slot, if any.
func (g *Group) UnsetUpstream() { g.upstream = "" }

// Upstream returns g's current upstream member, if any.
func (g *Group) Upstream() (m Member, ok bool) {
	if g.upstream == "" {
		return nil, false
	}

	idx := g.indexOf(g.upstream)
	if idx < 0 {
		return nil, false
	}

	return g.members[idx].Value, true
}

// IsUpstream reports whether name is g's current upstream member.
func (g *Group) IsUpstream(name string) (ok bool) { return g.upstream != "" && g.upstream == name }

// GetMembers returns g's members in insertion order.
func (g *Group) GetMembers() (members []Member) {
	members = make([]Member, len(g.members))
	for i, kv := range g.members {
		members[i] = kv.Value
	}

	return members
}

// HasMember reports whether name is a current member of g.
func (g *Group) HasMember(name string) (ok bool) { return g.indexOf(name) >= 0 }

// Manager owns groups by name.
type Manager struct {
	groups map[string]*Group
}

// NewManager returns an empty Manager.
func NewManager() (m *Manager) {
	return &Manager{groups: map[string]*Group{}}
}

// CreateGroup creates and returns a new empty group named name.  It fails
// with [ndproxyerr.InvalidArgument] if name is not a valid group name, or
// [ndproxyerr.AlreadyExists] if a group with that name already exists.
func (m *Manager) CreateGroup(name string) (g *Group, err error) {
	if !ValidName(name) {
		return nil, ndproxyerr.New(ndproxyerr.InvalidArgument, "invalid group name "+name)
	}

	if _, ok := m.groups[name]; ok {
		return nil, ndproxyerr.New(ndproxyerr.AlreadyExists, "group "+name+" already exists")
	}

	g = newGroup(name)
	m.groups[name] = g

	return g, nil
}

// ReleaseGroup removes all of the named group's members and destroys it.
// It fails with [ndproxyerr.DoesNotExist] if there is no such group.
func (m *Manager) ReleaseGroup(name string) (err error) {
	g, ok := m.groups[name]
	if !ok {
		return ndproxyerr.New(ndproxyerr.DoesNotExist, "group "+name+" does not exist")
	}

	g.RemoveAll()
	delete(m.groups, name)

	return nil
}

// Group returns the group named name, if it exists.
func (m *Manager) Group(name string) (g *Group, ok bool) {
	g, ok = m.groups[name]

	return g, ok
}
