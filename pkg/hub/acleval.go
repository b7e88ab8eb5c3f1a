package hub

import (
	"github.com/grumble-cluster/grumble/pkg/acl"
	"github.com/grumble-cluster/grumble/pkg/database"
)

// ACLEval is the hub's authoritative permission evaluator: it loads
// the channel/ACL/group tables once and answers EffectivePermission
// queries against pkg/acl's walk-from-root algorithm (§4.4). The edge
// runs the identical algorithm against its advisory mirror via the
// same pkg/acl package, minus authority.
type ACLEval struct {
	store *Store
}

// NewACLEval builds an evaluator backed by store.
func NewACLEval(store *Store) *ACLEval {
	return &ACLEval{store: store}
}

// aclChannel adapts one loaded database.Channel row into pkg/acl's
// Channel interface, resolving Parent()/Entries()/Groups() against
// the snapshot maps ChannelTree loaded.
type aclChannel struct {
	row    database.Channel
	byID   map[uint32]database.Channel
	acls   map[uint32][]database.ACLEntry
	groups map[uint32][]database.Group
}

func (c *aclChannel) ID() uint32 { return c.row.ChannelID }

func (c *aclChannel) Parent() (acl.Channel, bool) {
	if c.row.ParentID == nil {
		return nil, false
	}
	parentRow, ok := c.byID[*c.row.ParentID]
	if !ok {
		return nil, false
	}
	return &aclChannel{row: parentRow, byID: c.byID, acls: c.acls, groups: c.groups}, true
}

func (c *aclChannel) InheritACL() bool { return c.row.InheritACL }

func (c *aclChannel) Entries() []acl.Entry {
	rows := c.acls[c.row.ChannelID]
	out := make([]acl.Entry, len(rows))
	for i, r := range rows {
		e := acl.Entry{
			ApplyHere: r.ApplyHere,
			ApplySubs: r.ApplySubs,
			Group:     r.Group,
			Allow:     acl.Permission(r.Allow),
			Deny:      acl.Permission(r.Deny),
		}
		if r.UserID != nil {
			e.HasUser = true
			e.UserID = *r.UserID
		}
		out[i] = e
	}
	return out
}

func (c *aclChannel) Groups() []acl.Group {
	rows := c.groups[c.row.ChannelID]
	out := make([]acl.Group, len(rows))
	for i, r := range rows {
		out[i] = acl.Group{Name: r.Name, Inherited: r.Inherited, Inheritable: r.Inheritable}
	}
	return out
}

// Evaluate computes a user's effective permission mask on channelID
// (§4.4). isMember resolves group membership; the hub supplies one
// backed by database.GroupMember, the edge one backed by its mirror.
func (e *ACLEval) Evaluate(channelID uint32, userID int32, hasUser bool, isMember func(group string, channel acl.Channel) bool) (acl.Permission, error) {
	byID, acls, groups, err := e.store.ChannelTree()
	if err != nil {
		return 0, err
	}
	row, ok := byID[channelID]
	if !ok {
		return 0, nil
	}
	target := &aclChannel{row: row, byID: byID, acls: acls, groups: groups}
	ctx := acl.Context{UserID: userID, HasUser: hasUser}
	return acl.EffectivePermission(target, ctx, isMember), nil
}
