package commands

import (
	"context"
	"fmt"
)

type LogoutCmd struct {
	ServerFlags

	All bool `help:"invalidate every session for this user, not just this one"`
}

func (c *LogoutCmd) Run(globals *Globals) error {
	ctx := context.Background()

	client, err := newSessionClient(c.ServerFlags)
	if err != nil {
		return err
	}

	if err := client.Logout(ctx, c.All); err != nil {
		return err
	}

	fmt.Println("Logged out")

	return nil
}
