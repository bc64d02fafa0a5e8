package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/trezcool/chuo/core/user"
)

func rolesFor(role string) ([]string, error) {
	switch role {
	case "student":
		return user.StudentRoles, nil
	case "teacher":
		return user.TeacherRoles, nil
	case "admin":
		return user.AllRoles, nil
	}
	return nil, fmt.Errorf("unknown role %q", role)
}

func (cli *commandLine) addUser(id, name, uname, email, dept, role, pwd string) error {
	roles, err := rolesFor(role)
	if err != nil {
		return err
	}
	if id == "" {
		id = uuid.New().String()
	}

	nu := user.NewUser{
		ID:              id,
		Name:            name,
		Username:        uname,
		Email:           email,
		Department:      dept,
		Password:        pwd,
		PasswordConfirm: pwd,
		Roles:           roles,
	}
	if err := nu.Validate(cli.usrSvc); err != nil {
		return err
	}
	usr, err := cli.usrSvc.Create(context.Background(), nu)
	if err != nil {
		return err
	}
	fmt.Printf("created %s (%s)\n", usr.Username, usr.ID)
	return nil
}
