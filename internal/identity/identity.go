// ABOUTME: Identity store operations: operator accounts and tenant companies
// ABOUTME: Login, tenant registration, team management and integration config

package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zapflow/zapflow/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrCompanyNotFound    = errors.New("company not found")
	ErrCompanyFull        = errors.New("company user limit reached")
	ErrEmailTaken         = errors.New("email already registered")
)

// maxUsersPerCompany is fixed at company creation time.
const maxUsersPerCompany = 15

// defaultAgentPassword is assigned to agents added by a company admin.
// They are expected to change it on first login.
const defaultAgentPassword = "123"

// Service owns the Users and Companies collections. Mutations snapshot each
// collection to the blob store independently; there is no cross-collection
// transaction.
type Service struct {
	mu        sync.Mutex
	users     []*store.User
	companies []*store.Company

	blobs  store.Blobs
	logger *slog.Logger
}

// NewService restores users and companies from the blob store, falling back
// to seed data per collection.
func NewService(ctx context.Context, blobs store.Blobs, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "identity")

	return &Service{
		users:     store.LoadCollection(ctx, blobs, store.KeyUsers, store.SeedUsers(), logger),
		companies: store.LoadCollection(ctx, blobs, store.KeyCompanies, store.SeedCompanies(), logger),
		blobs:     blobs,
		logger:    logger,
	}
}

// Authenticate verifies email and password and returns the matching user.
func (s *Service) Authenticate(email, password string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == email && store.CheckPassword(u.Password, password) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrInvalidCredentials
}

// TenantRegistration is the input for RegisterTenant.
type TenantRegistration struct {
	CompanyName string
	Name        string
	Email       string
	Password    string
	Phone       string
	BirthDate   string
	Age         int
	Profession  string
	AvatarURL   string
}

// RegisterTenant creates a new company and its COMPANY_ADMIN user in one
// step. The company's user cap is fixed at creation.
func (s *Service) RegisterTenant(reg TenantRegistration) (*store.User, *store.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findByEmailLocked(reg.Email) != nil {
		return nil, nil, ErrEmailTaken
	}

	company := &store.Company{
		ID:        uuid.New().String(),
		Name:      reg.CompanyName,
		MaxUsers:  maxUsersPerCompany,
		CreatedAt: time.Now().UTC(),
	}
	user := &store.User{
		ID:         uuid.New().String(),
		Name:       reg.Name,
		Email:      reg.Email,
		Password:   store.HashPassword(reg.Password),
		Role:       store.RoleCompanyAdmin,
		CompanyID:  company.ID,
		Phone:      reg.Phone,
		BirthDate:  reg.BirthDate,
		Age:        reg.Age,
		Profession: reg.Profession,
		AvatarURL:  reg.AvatarURL,
	}

	s.companies = append(s.companies, company)
	s.users = append(s.users, user)
	s.persistCompaniesLocked()
	s.persistUsersLocked()

	s.logger.Info("tenant registered", "company_id", company.ID, "admin_id", user.ID)
	uc, cc := *user, *company
	return &uc, &cc, nil
}

// AddAgent creates an AGENT account in the given company with the default
// password. The company's user cap is a soft check at creation time, not a
// transactional guarantee.
func (s *Service) AddAgent(companyID, name, email, phone, avatarURL string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	company := s.findCompanyLocked(companyID)
	if company == nil {
		return nil, fmt.Errorf("%w: %s", ErrCompanyNotFound, companyID)
	}
	if s.countCompanyUsersLocked(companyID) >= company.MaxUsers {
		return nil, ErrCompanyFull
	}
	if s.findByEmailLocked(email) != nil {
		return nil, ErrEmailTaken
	}

	user := &store.User{
		ID:        uuid.New().String(),
		Name:      name,
		Email:     email,
		Password:  store.HashPassword(defaultAgentPassword),
		Role:      store.RoleAgent,
		CompanyID: companyID,
		Phone:     phone,
		AvatarURL: avatarURL,
	}
	s.users = append(s.users, user)
	s.persistUsersLocked()

	s.logger.Info("agent added", "user_id", user.ID, "company_id", companyID)
	cp := *user
	return &cp, nil
}

// RemoveUser deletes a user account. Chats referencing the user stay valid:
// senderId is a weak display reference, never ownership.
func (s *Service) RemoveUser(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, u := range s.users {
		if u.ID == userID {
			s.users = append(s.users[:i], s.users[i+1:]...)
			s.persistUsersLocked()
			s.logger.Info("user removed", "user_id", userID)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
}

// AddCompany creates a tenant without an admin (super-admin flow).
func (s *Service) AddCompany(name string) *store.Company {
	company := &store.Company{
		ID:        uuid.New().String(),
		Name:      name,
		MaxUsers:  maxUsersPerCompany,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.companies = append(s.companies, company)
	s.persistCompaniesLocked()
	s.mu.Unlock()

	s.logger.Info("company added", "company_id", company.ID, "name", name)
	cp := *company
	return &cp
}

// DeleteCompany removes a tenant and all users belonging to it.
func (s *Service) DeleteCompany(companyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, c := range s.companies {
		if c.ID == companyID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrCompanyNotFound, companyID)
	}

	s.companies = append(s.companies[:idx], s.companies[idx+1:]...)
	kept := s.users[:0]
	for _, u := range s.users {
		if u.CompanyID != companyID {
			kept = append(kept, u)
		}
	}
	s.users = kept
	s.persistCompaniesLocked()
	s.persistUsersLocked()

	s.logger.Info("company deleted", "company_id", companyID)
	return nil
}

// ChangePassword replaces a user's password hash.
func (s *Service) ChangePassword(userID, newPassword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.ID == userID {
			u.Password = store.HashPassword(newPassword)
			s.persistUsersLocked()
			s.logger.Info("password changed", "user_id", userID)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
}

// UpdateMetaConfig replaces a company's integration credentials. Only that
// company's admin may call this; the gateway enforces the role check.
func (s *Service) UpdateMetaConfig(companyID string, cfg store.MetaConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	company := s.findCompanyLocked(companyID)
	if company == nil {
		return fmt.Errorf("%w: %s", ErrCompanyNotFound, companyID)
	}
	company.MetaConfig = &cfg
	s.persistCompaniesLocked()
	return nil
}

// User returns a copy of the user with the given id.
func (s *Service) User(userID string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.ID == userID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
}

// Users returns a copy of all user accounts.
func (s *Service) Users() []*store.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*store.User, len(s.users))
	for i, u := range s.users {
		cp := *u
		out[i] = &cp
	}
	return out
}

// Companies returns a copy of all tenants.
func (s *Service) Companies() []*store.Company {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*store.Company, len(s.companies))
	for i, c := range s.companies {
		cp := *c
		out[i] = &cp
	}
	return out
}

// Company returns a copy of the company with the given id.
func (s *Service) Company(companyID string) (*store.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c := s.findCompanyLocked(companyID); c != nil {
		cp := *c
		return &cp, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrCompanyNotFound, companyID)
}

func (s *Service) findByEmailLocked(email string) *store.User {
	for _, u := range s.users {
		if u.Email == email {
			return u
		}
	}
	return nil
}

func (s *Service) findCompanyLocked(companyID string) *store.Company {
	for _, c := range s.companies {
		if c.ID == companyID {
			return c
		}
	}
	return nil
}

func (s *Service) countCompanyUsersLocked(companyID string) int {
	n := 0
	for _, u := range s.users {
		if u.CompanyID == companyID {
			n++
		}
	}
	return n
}

func (s *Service) persistUsersLocked() {
	store.SaveCollection(s.blobs, store.KeyUsers, s.users, s.logger)
}

func (s *Service) persistCompaniesLocked() {
	store.SaveCollection(s.blobs, store.KeyCompanies, s.companies, s.logger)
}
