package database

import "time"

// User is a registered account (§3 "credentials and groups may come
// from an external auth callback" — PasswordHash is empty when that's
// the case, and hub.Auth falls through to the callback).
type User struct {
	ServerID uint64  `gorm:"not null;index:idx_user_server"`
	Server   *Server `gorm:"constraint:OnDelete:CASCADE;"`

	UserID       int32 `gorm:"primaryKey"`
	Name         string
	PasswordHash []byte
	CertHash     string
	Email        string
	LastActive   time.Time
	TextureBlob  string
	CommentBlob  string
}

func (u User) TableName() string {
	return "users"
}

func (d *DbTx) UserByName(sid uint64, name string) (*User, error) {
	var u User
	err := d.db.First(&u, "server_id = ? AND name = ?", sid, name).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (d *DbTx) UserByID(sid uint64, userID int32) (*User, error) {
	var u User
	err := d.db.First(&u, "server_id = ? AND user_id = ?", sid, userID).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (d *DbTx) UserSave(u *User) error {
	return d.db.Save(u).Error
}

// UserNextID returns one more than the largest stored user_id for sid
// (1 when sid has none); ids freed by removed users are not reused.
func (d *DbTx) UserNextID(sid uint64) (int32, error) {
	var max int32
	err := d.db.Model(&User{}).Where("server_id = ?", sid).Select("COALESCE(MAX(user_id), 0)").Scan(&max).Error
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}
