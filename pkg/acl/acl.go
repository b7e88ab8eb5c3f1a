// Package acl implements Mumble permission-mask evaluation (§4.4):
// walking a channel's parent chain, applying inherited and local ACL
// entries in order, and resolving group membership. Both the hub
// (authoritative) and the edge (advisory) use this package against
// their own view of the channel/ACL/group tables.
package acl

// Permission is a bitmask over the named Mumble permissions (§8
// property 2).
type Permission uint32

const (
	None         Permission = 0
	Write        Permission = 1 << 0
	Traverse     Permission = 1 << 1
	Enter        Permission = 1 << 2
	Speak        Permission = 1 << 3
	Whisper      Permission = 1 << 4
	MuteDeafen   Permission = 1 << 5
	Move         Permission = 1 << 6
	MakeChannel  Permission = 1 << 7
	MakeTempChannel Permission = 1 << 8
	LinkChannel  Permission = 1 << 9
	TextMessage  Permission = 1 << 10
	Kick         Permission = 1 << 11
	Ban          Permission = 1 << 12
	Register     Permission = 1 << 13
	SelfRegister Permission = 1 << 14

	// All is the union of every named permission; used by the
	// SuperUser fast path.
	All Permission = Write | Traverse | Enter | Speak | Whisper | MuteDeafen |
		Move | MakeChannel | MakeTempChannel | LinkChannel | TextMessage |
		Kick | Ban | Register | SelfRegister
)

// Entry is one ACL rule attached to a channel (§3, §4.4).
type Entry struct {
	ApplyHere bool
	ApplySubs bool
	Inherited bool
	UserID    int32  // 0 means "not user-keyed"; use HasUser
	HasUser   bool
	Group     string // empty means "not group-keyed"
	Allow     Permission
	Deny      Permission
}

// Group is a named set of users scoped to a channel (§3, §4.4,
// GLOSSARY).
type Group struct {
	Name        string
	Inherited   bool
	Inheritable bool
	Members     map[int32]bool
	Add         map[int32]bool
	Remove      map[int32]bool
}

// Channel is the minimal view ACL evaluation needs of a channel node:
// its own ACL entries/groups and whether inheritance is cut here.
type Channel interface {
	ID() uint32
	Parent() (Channel, bool)
	InheritACL() bool
	Entries() []Entry
	Groups() []Group
}

// Context carries the caller-identifying information ACL evaluation
// needs beyond the channel tree itself: which registered user (if
// any) and which ad-hoc tokens/groups apply.
type Context struct {
	UserID  int32
	HasUser bool
}

// EffectivePermission walks from root to channel, accumulating the
// allow/deny masks of every matching entry, per §4.4:
//
//   - at each ancestor, entries with ApplySubs=true apply;
//   - at the target channel itself, entries with ApplyHere=true also
//     apply;
//   - inheritance from above stops at the first channel (inclusive of
//     itself, exclusive of entries defined directly on it) whose
//     InheritACL() is false;
//   - user-keyed entries match ctx.UserID directly; group-keyed
//     entries match via isMember, which the caller supplies to resolve
//     inheritance/inheritable group semantics without this package
//     needing the full group-membership algorithm.
func EffectivePermission(channel Channel, ctx Context, isMember func(group string, channel Channel) bool) Permission {
	chain := ancestorChain(channel)
	target := len(chain) - 1

	// A channel with inherit_acl=false cuts off entries defined above
	// it, regardless of their ApplySubs flag; its own entries still
	// propagate to its descendants (§4.4, §8 property 4). This also
	// applies when the target channel itself sets inherit_acl=false:
	// it excludes every ancestor entry from its own evaluation, keeping
	// only its own ApplyHere entries. breakAt is the index of the
	// closest such channel (including the target), or 0 if none.
	breakAt := 0
	for i := 0; i <= target; i++ {
		if !chain[i].InheritACL() {
			breakAt = i
		}
	}

	var effective Permission
	for i, c := range chain {
		isTarget := i == target
		if !isTarget && i < breakAt {
			continue
		}
		for _, e := range c.Entries() {
			applies := (isTarget && e.ApplyHere) || (!isTarget && e.ApplySubs)
			if !applies {
				continue
			}
			if !entryMatches(e, ctx, c, isMember) {
				continue
			}
			effective = (effective &^ e.Deny) | e.Allow
		}
	}
	return effective
}

func entryMatches(e Entry, ctx Context, channel Channel, isMember func(string, Channel) bool) bool {
	if e.HasUser {
		return ctx.HasUser && e.UserID == ctx.UserID
	}
	if e.Group != "" {
		if isMember == nil {
			return false
		}
		return isMember(e.Group, channel)
	}
	// Neither user- nor group-keyed: treat as "all users" (Mumble's
	// "all" built-in group is represented as an entry with no
	// selector).
	return true
}

func ancestorChain(channel Channel) []Channel {
	var chain []Channel
	cur := channel
	for {
		chain = append(chain, cur)
		parent, ok := cur.Parent()
		if !ok {
			break
		}
		cur = parent
	}
	// Reverse so index 0 is root, last is the target channel.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}
