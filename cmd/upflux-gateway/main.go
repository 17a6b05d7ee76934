package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/upflux/upflux-gateway/internal/alert"
	"github.com/upflux/upflux-gateway/internal/cloud"
	"github.com/upflux/upflux-gateway/internal/command"
	"github.com/upflux/upflux-gateway/internal/config"
	"github.com/upflux/upflux-gateway/internal/device"
	"github.com/upflux/upflux-gateway/internal/instrumentation"
	"github.com/upflux/upflux-gateway/internal/license"
	"github.com/upflux/upflux-gateway/internal/logpull"
	"github.com/upflux/upflux-gateway/internal/prober"
	"github.com/upflux/upflux-gateway/internal/recommender"
	"github.com/upflux/upflux-gateway/internal/store"
	"github.com/upflux/upflux-gateway/internal/update"
	"github.com/upflux/upflux-gateway/internal/usage"
	"github.com/upflux/upflux-gateway/pkg/log"
	"github.com/upflux/upflux-gateway/pkg/thread"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const updateSweepInterval = 10 * time.Second

func main() {
	log := log.InitLogs()
	log.Println("Starting gateway")
	defer log.Println("Gateway stopped")

	configFile := pflag.String("config", config.ConfigFile(), "path of the gateway configuration file")
	pflag.Parse()

	cfg, err := config.LoadOrGenerate(*configFile)
	if err != nil {
		log.Fatalf("reading configuration: %v", err)
	}
	log.Printf("Using config: %s", cfg)

	logLvl, err := logrus.ParseLevel(cfg.Gateway.LogLevel)
	if err != nil {
		logLvl = logrus.InfoLevel
	}
	log.SetLevel(logLvl)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Println("Initializing data store")
	db, err := store.InitDB(cfg, log)
	if err != nil {
		log.Fatalf("initializing data store: %v", err)
	}
	st := store.NewStore(db, log.WithField("pkg", "store"))
	defer st.Close()
	if err := st.InitialMigration(); err != nil {
		log.Fatalf("running store migrations: %v", err)
	}

	if cfg.Update.PublicKeyFile == "" {
		log.Fatalf("update.publicKeyFile must be set")
	}
	verifier, err := update.NewVerifierFromFile(cfg.Update.PublicKeyFile)
	if err != nil {
		log.Fatalf("loading update verifier: %v", err)
	}

	alerts := alert.NewBus(cfg.Gateway.GatewayID, log)
	aggregator := usage.NewAggregator()
	deviceClient := device.NewClient(cfg, st, log)

	worker, err := cloud.NewWorker(cfg, st, alerts, log)
	if err != nil {
		log.Fatalf("initializing cloud worker: %v", err)
	}

	licenses := license.NewCoordinator(st, worker, deviceClient, log)
	updates := update.NewEngine(cfg, deviceClient, worker, verifier, st.Version(), log)
	scheduler := update.NewScheduler(cfg, updates, worker, log)
	commands := command.NewEngine(deviceClient, worker, log)
	puller := logpull.NewPuller(deviceClient, log)

	worker.AttachHandlers(cloud.Handlers{
		Licenses: licenses,
		Commands: commands,
		Updates:  updates,
		Schedule: scheduler,
		Logs:     puller,
		Versions: deviceClient,
	})

	deviceServer := device.NewServer(cfg, log, st, aggregator, licenses, worker, alerts)
	probe := prober.New(st, prober.NewICMPPinger(), worker, log)

	proberThread := thread.New(ctx, log, "liveness prober", prober.Interval, probe.Sweep)
	proberThread.Start()
	defer proberThread.Stop()

	schedulerThread := thread.New(ctx, log, "update scheduler", updateSweepInterval, scheduler.Sweep)
	schedulerThread.Start()
	defer schedulerThread.Stop()

	if cfg.Gateway.LicenseCheckIntervalMin > 0 {
		interval := time.Duration(cfg.Gateway.LicenseCheckIntervalMin) * time.Minute
		licenseThread := thread.New(ctx, log, "license renewal sweep", interval, licenses.SweepExpiring)
		licenseThread.Start()
		defer licenseThread.Stop()
	}

	if cfg.Recommender.Address != "" {
		bridge := recommender.NewBridge(recommender.NewClient(cfg.Recommender.Address), aggregator, worker, log)
		bridgeThread := thread.New(ctx, log, "recommender bridge", recommender.Interval, bridge.Tick)
		bridgeThread.Start()
		defer bridgeThread.Stop()
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return worker.Run(groupCtx) })
	group.Go(func() error { return deviceServer.Run(groupCtx) })
	if cfg.Gateway.MetricsAddress != "" {
		group.Go(func() error { return instrumentation.Serve(groupCtx, cfg.Gateway.MetricsAddress, log) })
	}

	if err := group.Wait(); err != nil {
		log.Fatalf("Error running gateway: %v", err)
	}
}
