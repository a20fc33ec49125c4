package bcrypt

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

type IBcrypt interface {
	HashPassword(password string) (string, error)
	ComparePassword(hashPassword string, password string) error
	ValidateHash(hashPassword string) error
}

type bcryptService struct {
	cost int
}

func New() IBcrypt {
	return &bcryptService{
		cost: bcrypt.DefaultCost,
	}
}

func NewWithCost(cost int) IBcrypt {
	return &bcryptService{
		cost: cost,
	}
}

func (b *bcryptService) HashPassword(password string) (string, error) {
	result, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return "", err
	}
	return string(result), nil
}

func (b *bcryptService) ComparePassword(hashPassword string, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashPassword), []byte(password))
}

// ValidateHash rejects values that are not bcrypt hashes, so a plaintext
// password put into the hash setting fails at startup instead of at login.
func (b *bcryptService) ValidateHash(hashPassword string) error {
	if _, err := bcrypt.Cost([]byte(hashPassword)); err != nil {
		return fmt.Errorf("invalid bcrypt hash: %w", err)
	}
	return nil
}
