package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/page-mirror/pkg/config"
	"github.com/Sriram-PR/page-mirror/pkg/fetch"
	"github.com/Sriram-PR/page-mirror/pkg/storage"
)

const (
	hostEvictionInterval = 5 * time.Minute
	gcInterval           = 10 * time.Minute
)

// Resources are the pieces shared by every mirror run of a process: one HTTP
// session, the request limits, robots.txt cache, and the asset state store
type Resources struct {
	HTTP   *fetch.Fetcher
	Robots *fetch.RobotsHandler
	Store  storage.AssetStore
	Hosts  *fetch.HostSemaphorePool

	cancel context.CancelFunc
}

// NewResources builds the shared resources from a validated AppConfig.
// A non-empty StateDir opens the persistent Badger store; otherwise asset
// state lives in memory for the life of the process. Background upkeep runs
// until Close.
func NewResources(appCfg *config.AppConfig, resetState bool, log *logrus.Entry) (*Resources, error) {
	userAgent := config.DefaultUserAgent
	if appCfg.DefaultUserAgent != "" {
		userAgent = appCfg.DefaultUserAgent
	}
	client, err := fetch.NewClient(appCfg.HTTPClientSettings, userAgent, log)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP client: %w", err)
	}

	hosts := fetch.NewHostSemaphorePool(appCfg.MaxRequestsPerHost, log)
	limits := fetch.Limits{
		Global:         semaphore.NewWeighted(int64(appCfg.MaxRequests)),
		Hosts:          hosts,
		Rate:           fetch.NewRateLimiter(appCfg.DefaultDelayPerHost, log),
		AcquireTimeout: appCfg.SemaphoreAcquireTimeout,
	}
	httpFetcher := fetch.NewFetcher(client, limits, log)

	var store storage.AssetStore
	if appCfg.StateDir != "" {
		badgerStore, err := storage.NewBadgerStore(appCfg.StateDir, resetState, log)
		if err != nil {
			return nil, err
		}
		store = badgerStore
	} else {
		log.Debug("No state_dir configured, keeping asset state in memory")
		store = storage.NewMemoryStore()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go hosts.RunEviction(ctx, hostEvictionInterval)
	go store.RunGC(ctx, gcInterval)

	return &Resources{
		HTTP:   httpFetcher,
		Robots: fetch.NewRobotsHandler(httpFetcher, log),
		Store:  store,
		Hosts:  hosts,
		cancel: cancel,
	}, nil
}

// Close stops background upkeep and closes the asset store
func (r *Resources) Close() error {
	r.cancel()
	return r.Store.Close()
}
