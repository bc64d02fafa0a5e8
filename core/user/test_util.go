package user

import (
	"github.com/trezcool/chuo/core"
)

type serviceMock struct {
	service
}

// NewServiceMock returns a Service for tests; mails are whatever the
// provided mailSvc does (usually the dummy service).
func NewServiceMock(repo Repository, mailSvc core.EmailService, conf *core.Config) Service {
	return &serviceMock{
		service: service{
			repo:     repo,
			mailSvc:  mailSvc,
			conf:     conf,
			failures: newFailureTracker(conf.Auth.LockoutThreshold, conf.Auth.LockoutDecay),
			revoked:  newRevocationList(conf.Server.JWTExpirationDelta),
		},
	}
}
