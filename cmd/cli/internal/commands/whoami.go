package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/salesloop/crmgate/internal/session"
)

type WhoamiCmd struct {
	ServerFlags
}

func (c *WhoamiCmd) Run(globals *Globals) error {
	ctx := context.Background()

	client, err := newSessionClient(c.ServerFlags)
	if err != nil {
		return err
	}

	user, err := client.Profile(ctx)
	if err != nil {
		if errors.Is(err, session.ErrSessionExpired) {
			return fmt.Errorf("not logged in: %w", err)
		}
		return err
	}

	fmt.Printf("%s <%s> role=%s\n", user.Username, user.Email, user.Role)

	return nil
}
