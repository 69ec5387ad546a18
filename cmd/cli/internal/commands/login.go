package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/salesloop/crmgate/internal/session"
)

type LoginCmd struct {
	ServerFlags

	Username string `help:"username to authenticate as" required:""`
	Password string `help:"password (prefer the environment variable over the flag)" env:"CRMGATE_PASSWORD" required:""`
}

func (c *LoginCmd) Run(globals *Globals) error {
	ctx := context.Background()

	client, err := newSessionClient(c.ServerFlags)
	if err != nil {
		return err
	}

	sess, err := client.Login(ctx, c.Username, c.Password)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			return fmt.Errorf("login rejected: %w", err)
		}
		return err
	}

	fmt.Printf("Logged in as %s (session %s)\n", c.Username, sess.SessionID)

	return nil
}
