package models

import (
	"context"
	"errors"
	"time"

	"github.com/propdesk/brokerage_backend/config"
	"github.com/propdesk/brokerage_backend/utils"
	"gorm.io/gorm"
)

type User struct {
	ID           int       `gorm:"primary_key" json:"id"`
	Name         string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Email        string    `gorm:"size:100;not null;unique" json:"email" binding:"required"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	Role         UserRole  `gorm:"type:enum('BROKER','RM','SRM');not null" json:"role"`
	City         string    `gorm:"size:100" json:"city"`
	IsActive     *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Name     string   `json:"name" validate:"required"`
	Email    string   `json:"email" validate:"required,email"`
	Password string   `json:"password" validate:"required,min=6"`
	Role     UserRole `json:"role" validate:"required"`
	City     string   `json:"city"`
}

type LoginInfo struct {
	Token string   `json:"token"`
	Name  string   `json:"name"`
	Role  UserRole `json:"role"`
	City  string   `json:"city"`
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {
	if err := utils.Validate.Struct(input); err != nil {
		return nil, utils.ValidationError("invalid user input")
	}

	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	user := User{
		Name:         input.Name,
		Email:        input.Email,
		PasswordHash: string(hashed),
		Role:         input.Role,
		City:         input.City,
		IsActive:     utils.NewTrue(),
	}
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func GetUser(ctx context.Context, id int) (*User, error) {
	return utils.FetchModel[User](ctx, id)
}

func GetUserByEmail(ctx context.Context, email string) (*User, error) {
	db := config.GetDB()
	var user User
	if err := db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &user, nil
}

func Login(ctx context.Context, email string, password string) (*LoginInfo, error) {
	user, err := GetUserByEmail(ctx, email)
	if err != nil {
		return nil, utils.ValidationError("invalid email or password")
	}
	if err := utils.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, utils.ValidationError("invalid email or password")
	}
	if user.IsActive == nil || !*user.IsActive {
		return nil, utils.AuthorizationError("account is deactivated")
	}

	token, err := utils.JwtGenerate(user.ID, string(user.Role))
	if err != nil {
		return nil, err
	}
	// Cache the session so middleware can reject revoked tokens without a DB hit.
	if err := config.SetRedisValue("Token:"+token, user.Email, 24*time.Hour); err != nil {
		return nil, err
	}

	return &LoginInfo{
		Token: token,
		Name:  user.Name,
		Role:  user.Role,
		City:  user.City,
	}, nil
}

// DeactivateBroker flips the account inactive inside the caller's transaction.
// Reactivation is a manual operation; nothing in this codebase reverses it.
func DeactivateBroker(tx *gorm.DB, brokerId int) error {
	return tx.Model(&User{}).
		Where("id = ? AND role = ?", brokerId, UserRoleBroker).
		Update("is_active", false).Error
}

type RMAssignment struct {
	ID        int       `gorm:"primary_key" json:"id"`
	RmId      int       `gorm:"not null;index:uniq_rm_broker,unique" json:"rm_id"`
	BrokerId  int       `gorm:"not null;index:uniq_rm_broker,unique" json:"broker_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// AssignedBrokerIds lists the brokers an RM is responsible for. RM-facing
// queues and decisions are always scoped to this set.
func AssignedBrokerIds(ctx context.Context, rmId int) ([]int, error) {
	db := config.GetDB()
	var ids []int
	err := db.WithContext(ctx).Model(&RMAssignment{}).
		Where("rm_id = ?", rmId).
		Pluck("broker_id", &ids).Error
	return ids, err
}

// RMForBroker returns the broker's assigned RM, or nil when unassigned.
func RMForBroker(tx *gorm.DB, brokerId int) (*int, error) {
	var assignment RMAssignment
	err := tx.Where("broker_id = ?", brokerId).First(&assignment).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &assignment.RmId, nil
}
