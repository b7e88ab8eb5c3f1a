package database

// ACLEntry is one ACL rule attached to a channel (§3, §4.4). UserID is
// a pointer so a group-keyed entry (UserID nil, Group set) can be told
// apart from a user-keyed one.
type ACLEntry struct {
	ServerID uint64  `gorm:"not null;index:idx_acl_server"`
	Server   *Server `gorm:"constraint:OnDelete:CASCADE;"`

	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	ChannelID uint32 `gorm:"index:idx_acl_channel"`
	Index     int

	ApplyHere bool
	ApplySubs bool
	UserID    *int32
	Group     string
	Allow     uint32
	Deny      uint32
}

func (a ACLEntry) TableName() string {
	return "acl_entries"
}

func (d *DbTx) ACLRead(sid uint64, channelID uint32) ([]ACLEntry, error) {
	var entries []ACLEntry
	err := d.db.Order("`index` asc").Find(&entries, "server_id = ? AND channel_id = ?", sid, channelID).Error
	return entries, err
}

// ACLWrite replaces the full entry list for one channel, matching
// teacher's BanWrite "delete all, insert all" shape (§4.4 ACL edits
// arrive as a full replacement set, not incremental diffs).
func (d *DbTx) ACLWrite(sid uint64, channelID uint32, entries []ACLEntry) error {
	if err := d.db.Delete(&ACLEntry{}, "server_id = ? AND channel_id = ?", sid, channelID).Error; err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	return d.db.Create(entries).Error
}
