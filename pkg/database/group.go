package database

// Group is a named permission group scoped to a channel (§3, §4.4,
// GLOSSARY). Explicit member add/remove lists live in GroupMember
// rather than a serialized blob, so they can be queried directly.
type Group struct {
	ServerID uint64  `gorm:"not null;index:idx_group_server"`
	Server   *Server `gorm:"constraint:OnDelete:CASCADE;"`

	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	ChannelID   uint32 `gorm:"index:idx_group_channel"`
	Name        string
	Inherited   bool
	Inheritable bool `gorm:"default:true"`
}

func (g Group) TableName() string {
	return "groups"
}

// GroupMember records one explicit add or remove of a user_id from a
// group (§4.4's Add/Remove sets, as distinct from inherited
// membership).
type GroupMember struct {
	GroupID uint64 `gorm:"primaryKey;index:idx_member_group"`
	UserID  int32  `gorm:"primaryKey"`
	Remove  bool
}

func (m GroupMember) TableName() string {
	return "group_members"
}

func (d *DbTx) GroupRead(sid uint64, channelID uint32) ([]Group, error) {
	var groups []Group
	err := d.db.Find(&groups, "server_id = ? AND channel_id = ?", sid, channelID).Error
	return groups, err
}

func (d *DbTx) GroupSave(g *Group) error {
	return d.db.Save(g).Error
}

func (d *DbTx) GroupMembers(groupID uint64) ([]GroupMember, error) {
	var members []GroupMember
	err := d.db.Find(&members, "group_id = ?", groupID).Error
	return members, err
}

func (d *DbTx) GroupMemberSet(groupID uint64, members []GroupMember) error {
	if err := d.db.Delete(&GroupMember{}, "group_id = ?", groupID).Error; err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}
	return d.db.Create(members).Error
}
