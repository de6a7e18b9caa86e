package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"rivalcast/internal/config"
	"rivalcast/internal/control"
	"rivalcast/internal/logging"
	"rivalcast/internal/queue"
	"rivalcast/internal/services"
	"rivalcast/internal/status"
)

type commandContext struct {
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error

	storeOnce sync.Once
	store     *queue.Store
	storeErr  error
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureStore() (*queue.Store, error) {
	c.storeOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.storeErr = err
			return
		}
		c.store, c.storeErr = queue.Open(cfg)
	})
	return c.store, c.storeErr
}

func (c *commandContext) close() error {
	if c.store == nil {
		return nil
	}
	err := c.store.Close()
	c.store = nil
	return err
}

// withController runs fn with a controller bound to the local store. The
// CLI carries no dispatcher, so cancellations reach running executors
// through the daemon's heartbeat loop.
func (c *commandContext) withController(fn func(*control.Controller) error) error {
	store, err := c.ensureStore()
	if err != nil {
		return err
	}
	return fn(control.New(c.config, store, nil, c.logger()))
}

func (c *commandContext) withStatus(fn func(*status.Aggregator, *queue.Store) error) error {
	store, err := c.ensureStore()
	if err != nil {
		return err
	}
	return fn(status.New(c.config, store), store)
}

// logger discards output; the CLI reports through its own stdout.
func (c *commandContext) logger() *slog.Logger {
	return logging.NewNop()
}

func (c *commandContext) jsonMode() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func operatorContext(cmd *cobra.Command, operator string) context.Context {
	ctx := cmd.Context()
	if strings.TrimSpace(operator) != "" {
		ctx = services.WithOperator(ctx, operator)
	}
	return ctx
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
