package commands

import (
	"github.com/salesloop/crmgate/internal/gateway"
	"github.com/salesloop/crmgate/internal/session"
)

type Globals struct {
	Debug   bool
	Version string
}

// ServerFlags is shared by every command that talks to the backend.
type ServerFlags struct {
	Server string `help:"CRM backend base URL" default:"http://localhost:8080" env:"CRMGATE_SERVER"`
}

// newSessionClient builds a session client over the file store in
// ~/.crmgate/ so the session survives across invocations.
func newSessionClient(flags ServerFlags) (*session.Client, error) {
	store, err := session.NewFileStore("")
	if err != nil {
		return nil, err
	}

	return session.NewClient(store, gateway.New(flags.Server)), nil
}
