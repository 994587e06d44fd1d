package resolvers

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/collabstore/internal/model"
	"github.com/MarcoPoloResearchLab/collabstore/internal/query"
	"github.com/MarcoPoloResearchLab/collabstore/internal/store"
)

const (
	opUser          = "resolvers.user"
	opUserWithEmail = "resolvers.user_with_email"
	opAddUser       = "resolvers.add_user"
	opEditUser      = "resolvers.edit_user"
	opDeleteUser    = "resolvers.delete_user"
	opSignUp        = "resolvers.sign_up"
)

// NewUser is the input for AddUser. Password must already be hashed.
type NewUser struct {
	ID       string
	Email    string
	Password string
	UserName string
	Type     string
	Status   model.UserStatus
}

// UserPatch holds the fields EditUser may change. Nil fields are left untouched.
type UserPatch struct {
	Email    *string
	Password *string
	UserName *string
	Type     *model.UserType
	Status   *model.UserStatus
}

// User looks a user up by id.
func (r *Resolver) User(id string) (model.User, bool, error) {
	var (
		user  model.User
		found bool
	)
	err := r.read(opUser, func(snapshot store.Snapshot) error {
		user, found = query.Find(snapshot.Users(), func(u model.User) bool { return u.ID == id })
		return nil
	})
	return user, found, err
}

// UserWithEmail looks a user up by email. Malformed addresses simply match nothing.
func (r *Resolver) UserWithEmail(email string) (model.User, bool, error) {
	normalized, err := model.NormalizeEmail(email)
	if err != nil {
		return model.User{}, false, nil
	}
	var (
		user  model.User
		found bool
	)
	err = r.read(opUserWithEmail, func(snapshot store.Snapshot) error {
		user, found = query.Find(snapshot.Users(), func(u model.User) bool { return u.Email == normalized })
		return nil
	})
	return user, found, err
}

// AddUser stores a new user. Emails are unique among STANDARD users.
func (r *Resolver) AddUser(ctx context.Context, input NewUser) (model.User, error) {
	supplied, err := model.ValidateID(input.ID)
	if err != nil {
		return model.User{}, newServiceError(opAddUser, reasonInvalidInput, invalid(err))
	}
	email, err := model.NormalizeEmail(input.Email)
	if err != nil {
		return model.User{}, newServiceError(opAddUser, reasonInvalidInput, invalid(err))
	}
	userType, err := model.ParseUserType(input.Type)
	if err != nil {
		return model.User{}, newServiceError(opAddUser, reasonInvalidInput, invalid(err))
	}
	status := input.Status
	if status == "" {
		status = model.UserStatusActive
	}
	userName := input.UserName
	if userName == "" {
		userName = email
	}

	var created model.User
	err = r.write(ctx, opAddUser, func(_ context.Context, working *store.State, ids store.IDProvider) (*store.State, error) {
		id, err := assignID(working.Users, supplied, ids)
		if err != nil {
			return nil, err
		}
		if userType == model.UserTypeStandard && standardEmailTaken(working.Users, email, "") {
			return nil, fmt.Errorf("%w: email %s already registered", ErrConflict, email)
		}
		now := r.nowMillis()
		created = model.User{
			ID:        id,
			Email:     email,
			Password:  input.Password,
			UserName:  userName,
			Type:      userType,
			Status:    status,
			CreatedAt: now,
			UpdatedAt: now,
		}
		working.Users = append(working.Users, created)
		return working, nil
	})
	if err != nil {
		return model.User{}, err
	}
	return created, nil
}

// EditUser shallow-merges patch over the user. A missing id returns found=false.
func (r *Resolver) EditUser(ctx context.Context, id string, patch UserPatch) (model.User, bool, error) {
	var email string
	if patch.Email != nil {
		normalized, err := model.NormalizeEmail(*patch.Email)
		if err != nil {
			return model.User{}, false, newServiceError(opEditUser, reasonInvalidInput, invalid(err))
		}
		email = normalized
	}
	if patch.Type != nil {
		userType, err := model.ParseUserType(string(*patch.Type))
		if err != nil {
			return model.User{}, false, newServiceError(opEditUser, reasonInvalidInput, invalid(err))
		}
		patch.Type = &userType
	}

	var (
		updated model.User
		found   bool
	)
	err := r.write(ctx, opEditUser, func(_ context.Context, working *store.State, _ store.IDProvider) (*store.State, error) {
		index := query.Index(working.Users, id)
		if index == -1 {
			return working, nil
		}
		user := working.Users[index]
		if patch.Email != nil {
			user.Email = email
		}
		if patch.Password != nil {
			user.Password = *patch.Password
		}
		if patch.UserName != nil {
			user.UserName = *patch.UserName
		}
		if patch.Type != nil {
			user.Type = *patch.Type
		}
		if patch.Status != nil {
			user.Status = *patch.Status
		}
		if user.Type == model.UserTypeStandard && standardEmailTaken(working.Users, user.Email, user.ID) {
			return nil, fmt.Errorf("%w: email %s already registered", ErrConflict, user.Email)
		}
		user.UpdatedAt = r.nowMillis()
		working.Users[index] = user
		updated, found = user, true
		return working, nil
	})
	if err != nil {
		return model.User{}, false, err
	}
	return updated, found, nil
}

// DeleteUser removes the user row. Authored documents and memberships are left in place.
func (r *Resolver) DeleteUser(ctx context.Context, id string) (DeleteResult, error) {
	var result DeleteResult
	err := r.write(ctx, opDeleteUser, func(_ context.Context, working *store.State, _ store.IDProvider) (*store.State, error) {
		index := query.Index(working.Users, id)
		if index == -1 {
			return working, nil
		}
		working.Users = removeAt(working.Users, index)
		result.Successful = true
		return working, nil
	})
	return result, err
}

// SignUp completes registration for email. An ANONYMOUS user with that email is promoted in place
// and keeps its id; otherwise a new STANDARD user is created.
func (r *Resolver) SignUp(ctx context.Context, email, passwordHash string) (model.User, error) {
	normalized, err := model.NormalizeEmail(email)
	if err != nil {
		return model.User{}, newServiceError(opSignUp, reasonInvalidInput, invalid(err))
	}

	var user model.User
	err = r.write(ctx, opSignUp, func(_ context.Context, working *store.State, ids store.IDProvider) (*store.State, error) {
		now := r.nowMillis()
		index := -1
		for i, existing := range working.Users {
			if existing.Email != normalized {
				continue
			}
			if existing.Type != model.UserTypeAnonymous {
				return nil, fmt.Errorf("%w: %s", ErrUserExists, normalized)
			}
			if index == -1 {
				index = i
			}
		}
		if index != -1 {
			promoted := working.Users[index]
			promoted.Password = passwordHash
			promoted.Type = model.UserTypeStandard
			promoted.Status = model.UserStatusActive
			promoted.UpdatedAt = now
			working.Users[index] = promoted
			user = promoted
			return working, nil
		}

		id, err := ids.NewID()
		if err != nil {
			return nil, err
		}
		user = model.User{
			ID:        id,
			Email:     normalized,
			Password:  passwordHash,
			UserName:  normalized,
			Type:      model.UserTypeStandard,
			Status:    model.UserStatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		working.Users = append(working.Users, user)
		return working, nil
	})
	if err != nil {
		return model.User{}, err
	}
	return user, nil
}

func standardEmailTaken(users []model.User, email, exceptID string) bool {
	for _, user := range users {
		if user.ID != exceptID && user.Type == model.UserTypeStandard && user.Email == email {
			return true
		}
	}
	return false
}
