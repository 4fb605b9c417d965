package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/sells-group/shelter-access/internal/config"
	"github.com/sells-group/shelter-access/internal/db"
	"github.com/sells-group/shelter-access/internal/fetcher"
	"github.com/sells-group/shelter-access/internal/geostore"
	"github.com/sells-group/shelter-access/internal/model"
	"github.com/sells-group/shelter-access/internal/store"
)

func newFetcher(c config.HTTPConfig) *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:  c.UserAgent,
		Timeout:    time.Duration(c.TimeoutSecs) * time.Second,
		MaxRetries: c.MaxRetries,
		HostLimits: fetcher.DefaultHostLimits(),
	})
}

// routerHTTP returns the download settings for trip planner requests, which
// use the router's own timeout when one is set.
func routerHTTP(h config.HTTPConfig, r config.RouterConfig) config.HTTPConfig {
	if r.TimeoutSecs > 0 {
		h.TimeoutSecs = r.TimeoutSecs
	}
	return h
}

// stores bundles the database handles a command opened. The command owns
// them and must call close.
type stores struct {
	geo    geostore.Store
	client *mongo.Client
}

func (s *stores) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.geo.Close(ctx); err != nil {
		zap.L().Warn("close geometry store", zap.Error(err))
	}
	if s.client != nil {
		if err := s.client.Disconnect(ctx); err != nil {
			zap.L().Warn("disconnect mongo", zap.Error(err))
		}
	}
}

// routeStore returns the raw route collection. Only the mongo driver keeps
// raw route documents.
func (s *stores) routeStore(c config.MongoConfig) (*geostore.RouteStore, error) {
	if s.client == nil {
		return nil, eris.New("raw route documents require store.driver=mongo")
	}
	return geostore.NewRouteStore(s.client, c.RouteDB, c.RouteCollection), nil
}

func openStores(ctx context.Context, c config.StoreConfig) (*stores, error) {
	switch c.Driver {
	case "mongo":
		client, err := geostore.ConnectMongo(ctx, c.Mongo)
		if err != nil {
			return nil, err
		}
		return &stores{geo: geostore.NewMongoStore(client, c.Mongo), client: client}, nil
	case "postgres":
		pool, err := db.Connect(ctx, c.DatabaseURL, 0)
		if err != nil {
			return nil, err
		}
		pg := geostore.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return &stores{geo: pg}, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Driver)
	}
}

func initRunStore(ctx context.Context, path string) (store.Store, error) {
	st, err := store.NewSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

func parseModes(flagValues []string) ([]model.Mode, error) {
	if len(flagValues) == 0 {
		flagValues = cfg.Analysis.Modes
	}
	return model.ParseModes(flagValues)
}
