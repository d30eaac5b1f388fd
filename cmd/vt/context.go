package main

import (
	"fmt"

	"github.com/mortdiggiddy/video-translator/internal/api"
	"github.com/mortdiggiddy/video-translator/internal/config"
)

// commandContext carries lazily-loaded configuration and the daemon client
// across subcommands.
type commandContext struct {
	configFlag *string

	cfg     *config.Config
	cfgPath string
	client  *api.Client
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	path := ""
	if c.configFlag != nil {
		path = *c.configFlag
	}
	cfg, resolved, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	c.cfg = cfg
	c.cfgPath = resolved
	return cfg, nil
}

func (c *commandContext) apiClient() (*api.Client, error) {
	if c.client != nil {
		return c.client, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	c.client = api.NewClient(cfg.APIBind, cfg.APIToken)
	return c.client, nil
}
