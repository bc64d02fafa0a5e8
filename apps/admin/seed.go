package main

import (
	"context"
	"fmt"

	"github.com/trezcool/chuo/core/user"
)

func (cli *commandLine) seed() error {
	created, err := user.SeedDemo(context.Background(), cli.usrRepo)
	for _, uname := range created {
		fmt.Printf("created %s\n", uname)
	}
	if err != nil {
		return err
	}
	if len(created) > 0 {
		fmt.Printf("demo accounts use password %q\n", user.DemoPassword)
	}
	return nil
}
