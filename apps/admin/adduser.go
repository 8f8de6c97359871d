package main

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/voluntas/core"
	"github.com/trezcool/voluntas/core/user"
)

// addUser updates or creates a user.User
func (cli *commandLine) addUser(uname, email, pwd string, isAdmin bool) error {
	var usr user.User
	var err error
	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)

	if usr, err = cli.usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: []string{uname, email}}); err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			return err
		}
		if uname == "" {
			uname = strings.SplitN(email, "@", 2)[0]
		}
		usr = user.User{
			Name:     uname,
			Username: uname,
			Email:    email,
			Roles:    []string{user.RoleMember},
		}
	}
	if isAdmin {
		usr.Roles = user.AllRoles
	}
	usr.SetActive(true)
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}
	if _, err := cli.usrRepo.UpdateOrCreateUser(ctx, usr); err != nil {
		return err
	}
	return nil
}
