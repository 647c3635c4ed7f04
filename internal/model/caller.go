package model

import "time"

// Role описывает роль вызывающего.
type Role string

const (
	RoleAuthor Role = "author"
	RoleReader Role = "reader"
	RoleAdmin  Role = "admin"
)

// Valid сообщает, является ли роль известной.
func (r Role) Valid() bool {
	return r == RoleAuthor || r == RoleReader || r == RoleAdmin
}

// Caller — удостоверенный вызывающий.
type Caller struct {
	Role Role
	ID   int64
}

// Admin сообщает, является ли вызывающий администратором.
func (c Caller) Admin() bool {
	return c.Role == RoleAdmin
}

// Owns сообщает, может ли вызывающий действовать от имени владельца ownerID.
func (c Caller) Owns(ownerID int64) bool {
	return c.Admin() || c.ID == ownerID
}

// MaterialLink — ограниченная по времени ссылка на материалы назначения.
type MaterialLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}
