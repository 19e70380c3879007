package store

import "time"

// User is a registered person whose purchases are tracked.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Login        string    `gorm:"size:100;uniqueIndex;not null" json:"login"`
	PasswordHash string    `gorm:"size:100;not null" json:"-"`
	Email        string    `gorm:"size:100;uniqueIndex;not null" json:"email"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName pins the table name.
func (User) TableName() string { return "users" }

// CoffeeMachine dispenses cups with a fixed caffeine content.
type CoffeeMachine struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:100" json:"name"`
	Caffeine  int       `json:"caffeine"` // mg per cup
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName pins the table name.
func (CoffeeMachine) TableName() string { return "coffee_machines" }

// Purchase is one cup bought by a user. Caffeine is copied from the machine
// at purchase time because machines can be re-tuned later.
type Purchase struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	MachineID uint      `gorm:"index;not null" json:"machine_id"`
	Timestamp time.Time `gorm:"index;not null" json:"timestamp"`
	Caffeine  int       `json:"caffeine"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName pins the table name.
func (Purchase) TableName() string { return "coffee_purchases" }
