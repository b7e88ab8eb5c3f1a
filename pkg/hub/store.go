package hub

import (
	"errors"

	"github.com/grumble-cluster/grumble/pkg/database"
	"gorm.io/gorm"
)

// Store is the hub's authoritative view over pkg/database: it adds
// channel-tree-shaped operations (parent lookup, cascade remove) on
// top of the flat CRUD methods DbTx exposes, which is what
// pkg/acl.Channel and the mutation handlers need (§3, §4.4).
type Store struct {
	db       *database.DB
	serverID uint64
}

// NewStore wraps db for serverID, the single virtual server this hub
// process is authoritative for.
func NewStore(db *database.DB, serverID uint64) *Store {
	return &Store{db: db, serverID: serverID}
}

// ServerID returns the server this store is scoped to.
func (s *Store) ServerID() uint64 {
	return s.serverID
}

// ChannelTree loads every channel, ACL entry, and group for the
// store's server in one pass, for building pkg/acl.Channel views or
// serializing a full §4.5 dissemination.
func (s *Store) ChannelTree() (map[uint32]database.Channel, map[uint32][]database.ACLEntry, map[uint32][]database.Group, error) {
	tx := s.db.Tx()
	defer tx.Rollback()

	channels, err := tx.ChannelRead(s.serverID)
	if err != nil {
		return nil, nil, nil, err
	}
	byID := make(map[uint32]database.Channel, len(channels))
	acls := make(map[uint32][]database.ACLEntry, len(channels))
	groups := make(map[uint32][]database.Group, len(channels))
	for _, ch := range channels {
		byID[ch.ChannelID] = ch
		entries, err := tx.ACLRead(s.serverID, ch.ChannelID)
		if err != nil {
			return nil, nil, nil, err
		}
		acls[ch.ChannelID] = entries
		g, err := tx.GroupRead(s.serverID, ch.ChannelID)
		if err != nil {
			return nil, nil, nil, err
		}
		groups[ch.ChannelID] = g
	}
	return byID, acls, groups, nil
}

// SaveChannel upserts one channel row (§4.3 ChannelState forward).
func (s *Store) SaveChannel(ch database.Channel) error {
	ch.ServerID = s.serverID
	tx := s.db.Tx()
	if err := tx.ChannelSave(&ch); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// RemoveChannel deletes a channel and its owned ACL/group rows (§3
// "deleted with cascade to descendants" — the caller resolves the
// descendant set before calling this once per node).
func (s *Store) RemoveChannel(channelID uint32) error {
	tx := s.db.Tx()
	if err := tx.ChannelRemove(s.serverID, channelID); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// SaveACL replaces one channel's full ACL entry list (§4.3 ACL save).
func (s *Store) SaveACL(channelID uint32, entries []database.ACLEntry) error {
	for i := range entries {
		entries[i].ServerID = s.serverID
		entries[i].ChannelID = channelID
	}
	tx := s.db.Tx()
	if err := tx.ACLWrite(s.serverID, channelID, entries); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// UserByName/UserByID/RegisterUser expose the registered-user table
// to hub.Auth (§4.2 step 7).
func (s *Store) UserByName(name string) (*database.User, error) {
	tx := s.db.Tx()
	defer tx.Rollback()
	return tx.UserByName(s.serverID, name)
}

func (s *Store) UserByID(userID int32) (*database.User, error) {
	tx := s.db.Tx()
	defer tx.Rollback()
	return tx.UserByID(s.serverID, userID)
}

func (s *Store) RegisterUser(u database.User) (int32, error) {
	tx := s.db.Tx()
	id, err := tx.UserNextID(s.serverID)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	u.ServerID = s.serverID
	u.UserID = id
	if err := tx.UserSave(&u); err != nil {
		tx.Rollback()
		return 0, err
	}
	return id, tx.Commit()
}

// BanList/SaveBans expose the ban table for hub.handleACL's sibling,
// the BanList query/update path (§3 Ban).
func (s *Store) BanList(limit, offset int) ([]database.Ban, int64, error) {
	tx := s.db.Tx()
	defer tx.Rollback()
	return tx.BanRead(s.serverID, limit, offset)
}

func (s *Store) SaveBans(bans []database.Ban) error {
	for i := range bans {
		bans[i].ServerID = s.serverID
	}
	tx := s.db.Tx()
	if err := tx.BanWrite(bans); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// SaveBlob records a texture/comment blob's metadata row once its
// bytes are written to pkg/blobstore (§3 "Blob | content hash").
func (s *Store) SaveBlob(hash string, size int64) error {
	tx := s.db.Tx()
	if err := tx.BlobSave(&database.Blob{ServerID: s.serverID, Hash: hash, Size: size}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ChannelMemory returns a registered user's remembered channel, nil if
// none was ever recorded (§4.2 step 8f).
func (s *Store) ChannelMemory(userID int32) (*database.ChannelMemory, error) {
	tx := s.db.Tx()
	defer tx.Rollback()
	mem, err := tx.ChannelMemoryGet(s.serverID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return mem, nil
}

// RememberChannel persists a registered user's current channel as
// their "last known" channel (§4.2 step 8f, §9 decision area).
func (s *Store) RememberChannel(userID int32, channelID uint32) error {
	tx := s.db.Tx()
	if err := tx.ChannelMemorySet(&database.ChannelMemory{ServerID: s.serverID, UserID: userID, ChannelID: channelID}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
