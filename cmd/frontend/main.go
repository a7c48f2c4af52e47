// Command frontend runs the HTTP-facing frontend of the blob store: it
// wires ClusterView, AccountDirectory, ReplicaTransport, the router
// core, IdConverter, SecurityGate and Pipeline together and serves the
// REST surface.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/minio/cli"
	"github.com/sirupsen/logrus"

	"github.com/xiahome/ambry/internal/account"
	"github.com/xiahome/ambry/internal/clockutil"
	"github.com/xiahome/ambry/internal/clusterview"
	"github.com/xiahome/ambry/internal/config"
	"github.com/xiahome/ambry/internal/httpapi"
	"github.com/xiahome/ambry/internal/idconverter"
	"github.com/xiahome/ambry/internal/logger"
	"github.com/xiahome/ambry/internal/pipeline"
	"github.com/xiahome/ambry/internal/router"
	"github.com/xiahome/ambry/internal/security"
	"github.com/xiahome/ambry/internal/transport"
)

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "config-dir, C",
		Usage: "path to a YAML config file",
	},
	cli.StringFlag{
		Name:  "addr",
		Value: ":1174",
		Usage: "address to serve the frontend on",
	},
	cli.IntFlag{
		Name:  "parallelism",
		Value: 0,
		Usage: "override the configured delete/get/put parallelism (0 = use config)",
	},
	cli.BoolFlag{
		Name:  "quiet",
		Usage: "disable the startup banner",
	},
	cli.BoolFlag{
		Name:  "json-logs",
		Usage: "emit structured JSON logs instead of text",
	},
}

func main() {
	app := cli.NewApp()
	app.Name = "frontend"
	app.Usage = "ambry-style distributed blob store frontend"
	app.Flags = globalFlags
	app.Action = runServer
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer(c *cli.Context) error {
	cfg, err := config.Load(c.String("config-dir"))
	if err != nil {
		return err
	}
	if addr := c.String("addr"); addr != "" {
		cfg.Addr = addr
	}
	if c.Bool("json-logs") {
		cfg.JSONLogs = true
	}
	if p := c.Int("parallelism"); p > 0 {
		cfg.Router.DeleteParallelism = p
		cfg.Router.GetParallelism = p
		cfg.Router.PutParallelism = p
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.Init(level, os.Stderr, cfg.JSONLogs)

	if !c.Bool("quiet") {
		printBanner(cfg)
	}

	cv := demoClusterView()
	dir := demoAccountDirectory()
	clock := clockutil.System{}
	rt := transport.NewRESTTransport(http.DefaultClient, 4096)
	core := router.NewCore(cv, rt, clock, router.Config{
		DeleteParallelism:   cfg.Router.DeleteParallelism,
		DeleteSuccessTarget: cfg.Router.DeleteSuccessTarget,
		GetParallelism:      cfg.Router.GetParallelism,
		GetSuccessTarget:    cfg.Router.GetSuccessTarget,
		PutParallelism:      cfg.Router.PutParallelism,
		PutSuccessTarget:    cfg.Router.PutSuccessTarget,
		OperationTimeout:    cfg.Router.OperationTimeout,
		RequestTimeout:      cfg.Router.RequestTimeout,
		PollInterval:        cfg.Router.PollInterval,
	})

	idconv := idconverter.NewAliasRegistry(func() string { return randomAlias() })
	gate := security.Default{}
	pl := pipeline.New(cv, dir, core, idconv, gate, clock)
	pl.Start()

	srv := httpapi.New(pl, cv, cfg.MaxRPS, cfg.MaxBlobSize)
	httpSrv := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info(context.Background(), "frontend: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		pl.Stop()
		_ = core.Close()
	}
	return nil
}

func printBanner(cfg config.Config) {
	color.New(color.FgGreen, color.Bold).Println("ambry-frontend")
	color.New(color.FgCyan).Printf("  listening on %s\n", cfg.Addr)
	color.New(color.FgCyan).Printf("  max blob size %s\n", humanize.IBytes(uint64(cfg.MaxBlobSize)))
	for k, v := range config.Flatten(cfg) {
		color.New(color.FgHiBlack).Printf("  %s = %v\n", k, v)
	}
}

// demoClusterView and demoAccountDirectory seed a minimal in-memory
// cluster map and directory so the binary is runnable out of the box;
// a real deployment replaces both with a cluster map service and an
// account directory service.
func demoClusterView() clusterview.ClusterView {
	p0 := clusterview.NewPartitionId(0)
	replicas := map[uint64][]clusterview.ReplicaId{
		0: {
			{Partition: p0, DataNode: "datanode-0:6000", Datacenter: "dc1"},
			{Partition: p0, DataNode: "datanode-1:6000", Datacenter: "dc1"},
			{Partition: p0, DataNode: "datanode-2:6000", Datacenter: "dc2"},
		},
	}
	return clusterview.NewStatic(replicas, []clusterview.PartitionId{p0})
}

func demoAccountDirectory() account.Directory {
	return account.NewStatic(nil, nil)
}

var aliasCounter uint64

func randomAlias() string {
	return fmt.Sprintf("a%d", atomic.AddUint64(&aliasCounter, 1))
}
