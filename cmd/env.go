package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/gasrisk-cli/internal/config"
	"github.com/sells-group/gasrisk-cli/internal/fetcher"
	"github.com/sells-group/gasrisk-cli/internal/source"
	"github.com/sells-group/gasrisk-cli/internal/store"
)

// initStore opens and migrates the configured store backend. Callers
// must close it.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initRegistry builds the source registry with shared fetchers and the
// corridor station list.
func initRegistry() (*source.Registry, error) {
	stations, err := config.LoadStations(cfg.Corridor.StationsFile)
	if err != nil {
		return nil, eris.Wrap(err, "load corridor stations")
	}
	zap.L().Debug("corridor stations loaded",
		zap.String("corridor", cfg.Corridor.Name),
		zap.Int("stations", len(stations.Stations)),
	)

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent: cfg.EBB.UserAgent,
	})
	var ftp *fetcher.FTPFetcher
	if cfg.NOAA.FTPAddr != "" {
		ftp = fetcher.NewFTPFetcher(fetcher.FTPOptions{})
	}

	return source.NewRegistry(cfg, f, ftp, stations.Stations), nil
}
