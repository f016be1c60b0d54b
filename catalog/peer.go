// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

// Package catalog assembles the business catalog pipeline: raw
// collection, standardization, deduplication, photo materialization
// and the HTTP surface, all glued together by the event bus.
package catalog

import (
	"context"
	"net"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/barhop/barhop/catalog/api"
	"github.com/barhop/barhop/catalog/catalogdb"
	"github.com/barhop/barhop/catalog/collector"
	"github.com/barhop/barhop/catalog/costcontrol"
	"github.com/barhop/barhop/catalog/deals"
	"github.com/barhop/barhop/catalog/dedupe"
	"github.com/barhop/barhop/catalog/events"
	"github.com/barhop/barhop/catalog/jobqueue"
	"github.com/barhop/barhop/catalog/objectstore"
	"github.com/barhop/barhop/catalog/photos"
	"github.com/barhop/barhop/catalog/standardize"
	"github.com/barhop/barhop/storage"
	"github.com/barhop/barhop/storage/boltdb"
	"github.com/barhop/barhop/storage/rediskv"
	"github.com/barhop/barhop/storage/teststore"
)

var (
	// Error is the default catalog peer errs class.
	Error = errs.Class("catalog")

	mon = monkit.Package()
)

// Config is the top-level configuration of the peer.
type Config struct {
	QueuePath string `help:"path of the job queue database" default:"$CONFDIR/jobs.db"`

	RedisAddress  string `help:"address of the signed-url cache redis, empty for in-process" default:""`
	RedisPassword string `help:"password of the signed-url cache redis" default:""`
	RedisDB       int    `help:"redis database holding the signed-url cache" default:"0"`

	Database  catalogdb.Config
	Queue     jobqueue.Config
	Collector collector.Config
	Cost      costcontrol.Config
	Store     objectstore.Config
	Photos    photos.Config
	Deals     deals.Config
	API       api.Config
}

// Peer is the top-level catalog process.
//
// architecture: Peer
type Peer struct {
	Log    *zap.Logger
	Config Config

	DB       *catalogdb.DB
	JobStore *boltdb.Client
	Cache    storage.KeyValueStore

	Events       *events.Bus
	Queue        *jobqueue.Queue
	Cost         *costcontrol.Service
	Gateway      *objectstore.Gateway
	Collector    *collector.Service
	Standardizer *standardize.Service
	Deduplicator *dedupe.Service
	Photos       *photos.Processor
	Deals        *deals.Service

	API struct {
		Listener net.Listener
		Server   *api.Server
	}
}

// New constructs the peer, opening the databases and listeners it
// needs. The caller owns Close.
func New(ctx context.Context, log *zap.Logger, config Config) (_ *Peer, err error) {
	defer mon.Task()(&ctx)(&err)

	peer := &Peer{Log: log, Config: config}

	peer.DB, err = catalogdb.Open(log.Named("db"), config.Database.Path)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if err := peer.DB.MigrateToLatest(ctx); err != nil {
		return nil, errs.Combine(Error.Wrap(err), peer.Close())
	}

	peer.JobStore, err = boltdb.New(config.QueuePath, "jobs")
	if err != nil {
		return nil, errs.Combine(Error.Wrap(err), peer.Close())
	}

	if config.RedisAddress != "" {
		peer.Cache, err = rediskv.New(ctx, config.RedisAddress, config.RedisPassword, config.RedisDB)
		if err != nil {
			return nil, errs.Combine(Error.Wrap(err), peer.Close())
		}
	} else {
		peer.Cache = teststore.New()
	}

	peer.Events = events.NewBus(log.Named("events"))
	peer.Queue = jobqueue.New(log.Named("jobqueue"), peer.JobStore, config.Queue)

	peer.Cost = costcontrol.NewService(log.Named("costcontrol"), peer.DB.CostControl(), config.Cost)

	client, err := objectstore.DialMinio(config.Store)
	if err != nil {
		return nil, errs.Combine(Error.Wrap(err), peer.Close())
	}
	var purger objectstore.Purger
	if config.Store.CDN.ZoneID != "" && config.Store.CDN.APIToken != "" {
		purger = objectstore.NewCloudflarePurger(config.Store.CDN.ZoneID, config.Store.CDN.APIToken)
	}
	peer.Gateway = objectstore.NewGateway(log.Named("objectstore"), client, peer.Cost, peer.Cache, purger, config.Store)

	var sources []collector.Source
	if config.Collector.GoogleAPIKey != "" {
		sources = append(sources, collector.NewGoogleSource(config.Collector.GoogleAPIKey, config.Collector.RequestTimeout))
	}
	if config.Collector.YelpAPIKey != "" {
		sources = append(sources, collector.NewYelpSource(config.Collector.YelpAPIKey, config.Collector.RequestTimeout))
	}
	peer.Collector = collector.NewService(log.Named("collector"), peer.Queue, peer.Events, peer.DB.RawDocs(), config.Collector, sources...)

	peer.Standardizer = standardize.NewService(log.Named("standardize"), peer.Events)
	peer.Deduplicator = dedupe.NewService(log.Named("dedupe"), peer.DB.Businesses(), peer.Events)
	peer.Photos = photos.NewProcessor(log.Named("photos"),
		peer.DB.Photos(), peer.DB.Businesses(), peer.DB.RawDocs(),
		peer.Gateway, peer.Cost, peer.Events, config.Photos)
	peer.Deals = deals.NewService(log.Named("deals"),
		peer.DB.Deals(), peer.DB.Businesses(), peer.Events, config.Deals)

	peer.API.Listener, err = net.Listen("tcp", config.API.Address)
	if err != nil {
		return nil, errs.Combine(Error.Wrap(err), peer.Close())
	}
	peer.API.Server = api.NewServer(log.Named("api"), config.API, peer.API.Listener,
		peer.Collector, peer.Queue,
		peer.DB.Businesses(), peer.DB.Photos(), peer.DB.Deals(), peer.Gateway)

	return peer, nil
}

// Run starts the workers and the api server and blocks until ctx is
// canceled or a component fails.
func (peer *Peer) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	// jobs left active by an earlier crash go back to waiting
	if err := peer.Queue.RecoverAbandoned(ctx); err != nil {
		return Error.Wrap(err)
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return peer.Queue.Run(ctx)
	})
	group.Go(func() error {
		return peer.API.Server.Run(ctx)
	})
	return group.Wait()
}

// Close releases all resources in reverse construction order.
func (peer *Peer) Close() error {
	var group errs.Group

	if peer.API.Server != nil {
		group.Add(peer.API.Server.Close())
	} else if peer.API.Listener != nil {
		group.Add(peer.API.Listener.Close())
	}
	if peer.Cache != nil {
		group.Add(peer.Cache.Close())
	}
	if peer.JobStore != nil {
		group.Add(peer.JobStore.Close())
	}
	if peer.DB != nil {
		group.Add(peer.DB.Close())
	}
	return group.Err()
}
