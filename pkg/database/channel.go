package database

// Channel is a node in a server's channel tree (§3). ParentID is a
// pointer so the root channel (channel_id 0) can be told apart from
// "no parent set yet": root's ParentID is nil.
type Channel struct {
	ServerID uint64  `gorm:"not null;index:idx_channel_server"`
	Server   *Server `gorm:"constraint:OnDelete:CASCADE;"`

	ChannelID uint32 `gorm:"primaryKey"`
	ParentID  *uint32
	Name      string
	Description string
	Position    int32
	MaxUsers    uint32
	Temporary   bool
	InheritACL  bool `gorm:"default:true"`
}

func (c Channel) TableName() string {
	return "channels"
}

func (d *DbTx) ChannelRead(sid uint64) ([]Channel, error) {
	var channels []Channel
	err := d.db.Find(&channels, "server_id = ?", sid).Error
	return channels, err
}

func (d *DbTx) ChannelSave(c *Channel) error {
	return d.db.Save(c).Error
}

// ChannelRemove deletes a channel and cascades to its ACL entries and
// groups (§3 "deleted with cascade to descendants" is the caller's
// responsibility — tree-walk first, then remove each node; this
// method removes exactly one row plus its owned ACL/group rows).
func (d *DbTx) ChannelRemove(sid uint64, channelID uint32) error {
	if err := d.db.Delete(&ACLEntry{}, "server_id = ? AND channel_id = ?", sid, channelID).Error; err != nil {
		return err
	}
	if err := d.db.Delete(&Group{}, "server_id = ? AND channel_id = ?", sid, channelID).Error; err != nil {
		return err
	}
	return d.db.Delete(&Channel{}, "server_id = ? AND channel_id = ?", sid, channelID).Error
}
