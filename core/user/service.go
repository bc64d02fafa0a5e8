package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/chuo/core"
)

var (
	// errors
	ErrNotFound           = errors.New("user not found")
	ErrEmailExists        = errors.New("a user with this email already exists")
	ErrUsernameExists     = errors.New("a user with this username already exists")
	ErrInvalidCredential  = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account temporarily locked")
	ErrAccountDeactivated = errors.New("account deactivated")

	// burned on unknown accounts so a failed lookup costs the same as a
	// failed password check
	dummyHash, _ = bcrypt.GenerateFromPassword([]byte("chuo.dummy"), bcrypt.DefaultCost)
)

type (
	Repository interface {
		CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...User) error
		CreateUser(ctx context.Context, usr User) (User, error)
		QueryAllUsers(ctx context.Context) ([]User, error)
		GetUserByID(ctx context.Context, id string) (User, error)
		GetUserByUsername(ctx context.Context, username string) (User, error)
		GetUserByUsernameOrEmail(ctx context.Context, uname string) (User, error)
		// FilterUsers applies AND operation on available QueryFilter fields.
		FilterUsers(ctx context.Context, filter QueryFilter) ([]User, error)
		UpdateUser(ctx context.Context, usr User) (User, error)
	}

	Service interface {
		Create(ctx context.Context, nu NewUser) (User, error)
		QueryAll(ctx context.Context) ([]User, error)
		GetByID(ctx context.Context, id string) (User, error)
		GetByUsername(ctx context.Context, uname string) (User, error)
		Filter(ctx context.Context, filter QueryFilter) ([]User, error)
		CheckUniqueness(uname, email string, exclUsers ...User) error

		Authenticate(ctx context.Context, uname, pwd string) (User, error)
		ChangePassword(ctx context.Context, id string, pc PasswordChange) error

		GenerateToken(usr User) (string, *Claims, error)
		ValidateToken(ss string) (*Claims, error)
		RevokeToken(claims *Claims)
		RevokeUserTokens(id string)
	}

	service struct {
		repo     Repository
		mailSvc  core.EmailService
		conf     *core.Config
		failures *failureTracker
		revoked  *revocationList
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, mailSvc core.EmailService, conf *core.Config) Service {
	return &service{
		repo:     repo,
		mailSvc:  mailSvc,
		conf:     conf,
		failures: newFailureTracker(conf.Auth.LockoutThreshold, conf.Auth.LockoutDecay),
		revoked:  newRevocationList(conf.Server.JWTExpirationDelta),
	}
}

func (svc *service) CheckUniqueness(uname, email string, exclUsers ...User) error {
	if err := svc.repo.CheckUsernameUniqueness(context.Background(), uname, email, exclUsers...); err != nil {
		var field string
		switch err {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		default:
			return err
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

func (svc *service) Create(ctx context.Context, nu NewUser) (User, error) {
	now := time.Now().UTC()
	usr := User{
		ID:         nu.ID,
		Name:       nu.Name,
		Username:   nu.Username,
		Email:      nu.Email,
		IsActive:   true,
		Roles:      nu.Roles,
		Department: nu.Department,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, err
	}
	usr, err := svc.repo.CreateUser(ctx, usr)
	if err != nil {
		return User{}, err
	}
	svc.sendWelcomeMail(usr)
	return usr, nil
}

func (svc *service) QueryAll(ctx context.Context) ([]User, error) {
	return svc.repo.QueryAllUsers(ctx)
}

func (svc *service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUserByID(ctx, id)
}

func (svc *service) GetByUsername(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUserByUsername(ctx, core.CleanString(uname, true /* lower */))
}

func (svc *service) Filter(ctx context.Context, filter QueryFilter) ([]User, error) {
	return svc.repo.FilterUsers(ctx, filter)
}

// Authenticate verifies the credential for the given username or email.
// Failed attempts feed the per-identity lockout counter; the raw pwd is
// never logged nor echoed back.
func (svc *service) Authenticate(ctx context.Context, uname, pwd string) (User, error) {
	usr, err := svc.repo.GetUserByUsernameOrEmail(ctx, core.CleanString(uname, true /* lower */))
	if err != nil {
		if err == ErrNotFound {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(pwd))
			return User{}, err
		}
		return User{}, err
	}

	if svc.failures.locked(usr.ID) {
		return User{}, ErrAccountLocked
	}
	if err = usr.CheckPassword(pwd); err != nil {
		if svc.failures.record(usr.ID) {
			svc.sendLockoutMail(usr)
		}
		return User{}, ErrInvalidCredential
	}
	if !usr.IsActive {
		return User{}, ErrAccountDeactivated
	}

	svc.failures.reset(usr.ID)
	usr.LastLogin = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *service) ChangePassword(ctx context.Context, id string, pc PasswordChange) error {
	if err := pc.Validate(); err != nil {
		return err
	}
	usr, err := svc.repo.GetUserByID(ctx, id)
	if err != nil {
		return err
	}
	if err = usr.CheckPassword(pc.OldPassword); err != nil {
		return ErrInvalidCredential
	}
	if err = usr.SetPassword(pc.NewPassword); err != nil {
		return err
	}
	usr.UpdatedAt = time.Now().UTC()
	_, err = svc.repo.UpdateUser(ctx, usr)
	return err
}

// Tokens

func (svc *service) GenerateToken(usr User) (string, *Claims, error) {
	claims := getUserClaims(usr, svc.conf.AppName, svc.conf.Server.JWTExpirationDelta)
	ss, err := generateToken(claims, svc.conf.SecretKey)
	if err != nil {
		return "", nil, err
	}
	return ss, claims, nil
}

func (svc *service) ValidateToken(ss string) (*Claims, error) {
	claims, err := parseToken(ss, svc.conf.SecretKey)
	if err != nil {
		return nil, err
	}
	if svc.revoked.isRevoked(claims) {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

func (svc *service) RevokeToken(claims *Claims) {
	svc.revoked.revokeToken(claims)
}

// RevokeUserTokens invalidates every token issued to the identity so far
// (forced logout).
func (svc *service) RevokeUserTokens(id string) {
	svc.revoked.revokeUser(id)
}

// Mails

func (svc *service) sendWelcomeMail(usr User) {
	if usr.Email == "" {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject: "Your account is ready",
		BodyStr: fmt.Sprintf(
			"Hello %s,\n\nAn account has been provisioned for you on %s.\nUsername: %s\n\nPlease sign in and change your password.",
			usr.Name, svc.conf.AppName, usr.Username,
		),
	})
}

func (svc *service) sendLockoutMail(usr User) {
	if usr.Email == "" {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject: "Account temporarily locked",
		BodyStr: fmt.Sprintf(
			"Hello %s,\n\nYour account has been temporarily locked after repeated failed sign-in attempts. "+
				"It will unlock on its own after %s. If this was not you, please contact the registrar.",
			usr.Name, svc.conf.Auth.LockoutDecay,
		),
	})
}
