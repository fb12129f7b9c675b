package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cortexflow/cortex/internal/config"
	"github.com/cortexflow/cortex/internal/kv"
	"github.com/cortexflow/cortex/internal/store"
)

// runDoctor validates configuration and probes the Store and cache
// connections, mirroring the teacher's doctor command's config-then-
// connectivity checks without its workspace/channel-specific checks,
// which don't apply to Cortex.
func runDoctor(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "Config validation: FAILED (%v)\n", err)
		return err
	}
	fmt.Fprintln(out, "Config validation: OK")

	if cfg.Store.URL == "" {
		fmt.Fprintln(out, "Store: using in-memory backend (no STORE_URL configured)")
	} else {
		st, err := store.NewPostgresStore(cfg.Store.URL, &store.PostgresConfig{
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
			ConnectTimeout:  cfg.Store.ConnectTimeout,
		})
		if err != nil {
			fmt.Fprintf(out, "Store: FAILED (%v)\n", err)
			return err
		}
		_ = st.Close()
		fmt.Fprintln(out, "Store: OK")
	}

	if cfg.Cache.URL == "" {
		fmt.Fprintln(out, "Cache: using in-memory backend (no CACHE_URL configured)")
	} else {
		cache, err := kv.NewRedisStore(cfg.Cache.URL)
		if err != nil {
			fmt.Fprintf(out, "Cache: FAILED (%v)\n", err)
			return err
		}
		_ = cache.Close()
		fmt.Fprintln(out, "Cache: OK")
	}

	return nil
}
