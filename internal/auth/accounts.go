package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/MagnunAVF/shortlinks/internal"
	"github.com/MagnunAVF/shortlinks/internal/store"
)

type IDGenerator interface {
	NextID() int64
}

type Accounts struct {
	users  store.Users
	ids    IDGenerator
	issuer *Issuer
	admins map[string]struct{}
	cost   int
}

// NewAccounts creates the account service. Usernames listed in admins get the
// admin role when they sign up.
func NewAccounts(users store.Users, ids IDGenerator, issuer *Issuer, admins []string) *Accounts {
	set := make(map[string]struct{}, len(admins))
	for _, a := range admins {
		if a = strings.TrimSpace(a); a != "" {
			set[a] = struct{}{}
		}
	}
	return &Accounts{users: users, ids: ids, issuer: issuer, admins: set, cost: bcrypt.DefaultCost}
}

func (a *Accounts) Signup(ctx context.Context, username, password string) (*internal.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", internal.ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	role := internal.RoleUser
	if _, ok := a.admins[username]; ok {
		role = internal.RoleAdmin
	}

	user := &internal.User{
		ID:           a.ids.NextID(),
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
	}
	if err := a.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login returns a signed token. Unknown users and wrong passwords are both
// reported as internal.ErrUnauthorized.
func (a *Accounts) Login(ctx context.Context, username, password string) (string, error) {
	user, err := a.users.FindUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, internal.ErrNotFound) {
		return "", fmt.Errorf("login %q: %w", username, internal.ErrUnauthorized)
	}
	if err != nil {
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", fmt.Errorf("login %q: %w", username, internal.ErrUnauthorized)
	}
	return a.issuer.Issue(user)
}
