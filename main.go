package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/agora/activitypub"
	"github.com/deemkeen/agora/db"
	"github.com/deemkeen/agora/notify"
	"github.com/deemkeen/agora/util"
	"github.com/deemkeen/agora/web"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "agora",
		Short:   "Federated link aggregator speaking ActivityPub",
		Version: util.GetVersion(),
		// no args runs the server, like before the subcommands existed
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		personCmd(),
		communityCmd(),
		postCmd(),
		commentCmd(),
		messageCmd(),
		modCmd(),
		deleteCmd(),
		removeCmd(),
		followCmd(),
		banCmd(),
		ledgerCmd(),
		modlogCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the delivery worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	conf, err := util.ReadConf()
	if err != nil {
		return err
	}
	util.ConfigureLogging(conf)
	log.Debugf("Configuration:\n%s", util.PrettyPrint(conf))

	store := db.GetDB(util.ResolveFilePath(conf.Conf.DatabasePath))
	defer store.Close()

	activitypub.RegisterMetrics()
	hub := notify.NewHub()
	inst := activitypub.NewInstance(store, conf, activitypub.NewHTTPFetcher(), hub)

	if conf.Conf.WithAp {
		inst.StartDeliveryWorker(ctx)
	} else {
		log.Warn("Federation is disabled, set withAp to accept activities")
	}

	log.Infof("%s serving %s", util.GetNameAndVersion(), conf.Conf.SslDomain)
	return web.NewServer(conf, store, inst, hub).Run(ctx)
}

// app is what the admin commands work with
type app struct {
	conf  *util.AppConfig
	store *db.DB
	inst  *activitypub.Instance
}

func openApp() (*app, error) {
	conf, err := util.ReadConf()
	if err != nil {
		return nil, err
	}
	util.ConfigureLogging(conf)
	store := db.GetDB(util.ResolveFilePath(conf.Conf.DatabasePath))
	// deliveries are queued here and sent by the running server
	inst := activitypub.NewInstance(store, conf, activitypub.NewHTTPFetcher(), nil)
	return &app{conf: conf, store: store, inst: inst}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		log.Warnf("Failed to close database: %v", err)
	}
}
