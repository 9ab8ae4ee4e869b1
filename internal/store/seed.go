// ABOUTME: Seed data used when a collection blob is absent or corrupt
// ABOUTME: Mirrors the demo tenant the console ships with

package store

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// seedPassword is the demo login password for all seed users.
const seedPassword = "123"

// SeedCompanies returns the initial tenant list.
func SeedCompanies() []*Company {
	return []*Company{
		{
			ID:         "c1",
			Name:       "Minha Empresa Demo",
			MaxUsers:   15,
			CreatedAt:  time.Now().UTC(),
			MetaConfig: &MetaConfig{},
		},
	}
}

// SeedUsers returns the initial operator accounts. Passwords are stored as
// bcrypt hashes even for seed data.
func SeedUsers() []*User {
	hash := HashPassword(seedPassword)
	return []*User{
		{
			ID:         "u1",
			Name:       "Super Admin",
			Email:      "admin@zapflow.com",
			Password:   hash,
			Role:       RoleSuperAdmin,
			Phone:      "5511999990001",
			BirthDate:  "1985-05-10",
			Age:        38,
			Profession: "Administrator",
		},
		{
			ID:         "u2",
			Name:       "Carlos Gerente",
			Email:      "carlos@empresa.com",
			Password:   hash,
			Role:       RoleCompanyAdmin,
			CompanyID:  "c1",
			AvatarURL:  "https://ui-avatars.com/api/?name=Carlos+Gerente&background=random",
			Phone:      "5511999990002",
			BirthDate:  "1990-08-15",
			Age:        33,
			Profession: "Gerente Comercial",
		},
	}
}

// SeedChats returns the initial chat collection: one example contact with a
// single unread customer message.
func SeedChats() []*Chat {
	now := time.Now().UnixMilli() - 5*60*1000
	return []*Chat{
		{
			ID:                   "chat1",
			CustomerName:         "Cliente Exemplo",
			CustomerPhone:        "+55 11 99999-9999",
			AvatarURL:            "https://ui-avatars.com/api/?name=Cliente+Exemplo&background=random",
			UnreadCount:          1,
			LastMessageTimestamp: now,
			Status:               ChatActive,
			CustomerEmail:        "cliente@exemplo.com",
			CustomerCompany:      "Exemplo Ltda",
			Messages: []*Message{
				{
					ID:         "m1",
					Text:       "Olá, gostaria de conhecer mais sobre os serviços.",
					SenderID:   SenderCustomer,
					Timestamp:  now,
					Status:     MessageRead,
					IsCustomer: true,
				},
			},
		},
	}
}

// SeedScheduledMessages returns the initial (empty) scheduler collection.
func SeedScheduledMessages() []*ScheduledMessage {
	return []*ScheduledMessage{}
}

// HashPassword bcrypt-hashes a plaintext password for storage.
func HashPassword(plain string) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		// bcrypt only fails on absurd cost/length inputs
		panic(err)
	}
	return string(hash)
}

// CheckPassword reports whether plain matches the stored bcrypt hash.
func CheckPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
