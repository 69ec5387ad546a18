package commands

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

type GetCmd struct {
	ServerFlags

	Path string `arg:"" help:"API path to fetch, e.g. /companies"`
}

func (c *GetCmd) Run(globals *Globals) error {
	ctx := context.Background()

	client, err := newSessionClient(c.ServerFlags)
	if err != nil {
		return err
	}

	path := c.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.Server, "/")+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("request failed with HTTP %d", resp.StatusCode)
	}

	if _, err := io.Copy(os.Stdout, resp.Body); err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	return nil
}
