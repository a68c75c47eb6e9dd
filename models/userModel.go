package models

import "gorm.io/gorm"

const (
	RoleStudent  = "Student"
	RoleLecturer = "Lecturer"
	RoleAdmin    = "Admin"
)

// Any is the wildcard filter value: it matches every department or level
// known at evaluation time.
const Any = "Any"

type User struct {
	gorm.Model
	Name       string
	MatricNo   string `gorm:"uniqueIndex"`
	Password   []byte `json:"-"`
	Role       string
	Department string
	Level      string
}

func (u *User) IsLecturer() bool {
	return u.Role == RoleLecturer
}
