package user

import (
	"context"

	"github.com/trezcool/voluntas/core"
)

type serviceMock struct {
	*Service
}

// NewServiceMock returns a Service that sends password reset emails synchronously.
func NewServiceMock(repo Repository, mailSvc core.EmailService, conf *core.Config) ServiceInterface {
	return &serviceMock{
		Service: NewService(repo, mailSvc, conf),
	}
}

func (svc *serviceMock) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !usr.Active() {
		return ErrNotFound
	}
	// run synchronously
	svc.sendPasswordResetMail(usr)
	return nil
}
