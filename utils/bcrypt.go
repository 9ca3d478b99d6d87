package utils

import "golang.org/x/crypto/bcrypt"

// Login latency scales exponentially with the cost factor.
const passwordHashCost = bcrypt.DefaultCost

func HashPassword(s string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(s), passwordHashCost)
}

func ComparePassword(hashed string, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
}
