package database

// Blob is the metadata row for a texture/comment blob (§3): content
// hash is the key, the bytes themselves live in pkg/blobstore and are
// fetched lazily via RequestBlob (§6).
type Blob struct {
	ServerID uint64  `gorm:"not null;index:idx_blob_server"`
	Server   *Server `gorm:"constraint:OnDelete:CASCADE;"`

	Hash string `gorm:"primaryKey"`
	Size int64
}

func (b Blob) TableName() string {
	return "blobs"
}

func (d *DbTx) BlobByHash(sid uint64, hash string) (*Blob, error) {
	var b Blob
	err := d.db.First(&b, "server_id = ? AND hash = ?", sid, hash).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (d *DbTx) BlobSave(b *Blob) error {
	return d.db.Save(b).Error
}

// ChannelMemory persists one user's "remember last channel" setting
// (§9 Open Question area, GLOSSARY rememberChannel), keyed per
// registered user per server.
type ChannelMemory struct {
	ServerID uint64  `gorm:"not null;index:idx_memory_server"`
	Server   *Server `gorm:"constraint:OnDelete:CASCADE;"`

	UserID    int32 `gorm:"primaryKey"`
	ChannelID uint32
}

func (m ChannelMemory) TableName() string {
	return "channel_memories"
}

func (d *DbTx) ChannelMemoryGet(sid uint64, userID int32) (*ChannelMemory, error) {
	var m ChannelMemory
	err := d.db.First(&m, "server_id = ? AND user_id = ?", sid, userID).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (d *DbTx) ChannelMemorySet(m *ChannelMemory) error {
	return d.db.Save(m).Error
}
