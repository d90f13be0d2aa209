package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/couchbase/stellar-distributed/coordination"
	"github.com/couchbase/stellar-distributed/pkg/webapi"
	"github.com/couchbase/stellar-distributed/utils/netutils"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Checks that the distributed config is present and well formed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setupRuntime(cmd)
		if err != nil {
			return err
		}

		snap, err := rt.resolver.Load(cmd.Context())
		if err != nil {
			return err
		}

		for _, m := range snap.Members() {
			if _, err := coordination.PrimaryAddress(m); err != nil {
				return err
			}
		}

		me, err := snap.Me()
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "distributed configuration is valid on %s\n", me.Identity())
		return nil
	},
}

var membersCmd = &cobra.Command{
	Use:   "members",
	Short: "Lists the members of the group in rank order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setupRuntime(cmd)
		if err != nil {
			return err
		}

		snap, err := rt.resolver.Load(cmd.Context())
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RANK\tMEMBER\tIDENTITY\tLOCAL IP\tPUBLIC IP\tROLE")
		for _, m := range snap.Members() {
			localIP, _ := m.PrimaryLocalIP()
			publicIP, _ := m.PrimaryPublicIP()

			role := "worker"
			if m.IsMaster() {
				role = "master"
			}
			if m.ID() == snap.SelfID() {
				role += " (self)"
			}

			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
				m.Rank(), m.ID(), m.Identity(), dashIfEmpty(localIP), dashIfEmpty(publicIP), role)
		}
		return tw.Flush()
	},
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

var procsPerHost int

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "Prints an MPI host list and process count for the group",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setupRuntime(cmd)
		if err != nil {
			return err
		}

		snap, err := rt.resolver.Load(cmd.Context())
		if err != nil {
			return err
		}

		hosts, err := coordination.HostList(snap.Members(), procsPerHost)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "HOSTS=%s\n", hosts)
		fmt.Fprintf(out, "NP=%d\n", coordination.ProcessCount(snap.RequiredCount(), procsPerHost))
		return nil
	},
}

var rendezvousPort int

var rendezvousCmd = &cobra.Command{
	Use:   "rendezvous",
	Short: "Prints the rendezvous endpoint, rank and world size of this member",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setupRuntime(cmd)
		if err != nil {
			return err
		}

		snap, err := rt.resolver.Load(cmd.Context())
		if err != nil {
			return err
		}

		master, err := snap.Master()
		if err != nil {
			return err
		}

		url, err := coordination.RendezvousURL(master, rendezvousPort)
		if err != nil {
			return err
		}

		me, err := snap.Me()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "MASTER_URL=%s\n", url)
		fmt.Fprintf(out, "RANK=%d\n", me.Rank())
		fmt.Fprintf(out, "WORLD_SIZE=%d\n", snap.RequiredCount())
		return nil
	},
}

var tfPort int

var tfConfigCmd = &cobra.Command{
	Use:   "tf-config",
	Short: "Prints a TF_CONFIG document describing the group",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setupRuntime(cmd)
		if err != nil {
			return err
		}

		snap, err := rt.resolver.Load(cmd.Context())
		if err != nil {
			return err
		}

		tfConfig, err := coordination.NewTFConfig(snap, tfPort)
		if err != nil {
			return err
		}

		data, err := tfConfig.Marshal()
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var sshPlanCmd = &cobra.Command{
	Use:   "ssh-plan",
	Short: "Prints the SSH topology this member should set up",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setupRuntime(cmd)
		if err != nil {
			return err
		}

		snap, err := rt.resolver.Load(cmd.Context())
		if err != nil {
			return err
		}

		plan, err := coordination.PlanSSH(snap)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "IS_MASTER=%t\n", plan.IsMaster)
		fmt.Fprintf(out, "SELF=%s\n", plan.Self)
		fmt.Fprintf(out, "MASTER=%s\n", plan.Master)
		for _, worker := range plan.Workers {
			fmt.Fprintf(out, "WORKER=%s\n", worker)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the membership of this task over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setupRuntime(cmd)
		if err != nil {
			return err
		}

		return runServer(cmd.Context(), rt)
	},
}

func init() {
	hostsCmd.Flags().IntVar(&procsPerHost, "processes-per-host", 1, "the number of processes each member runs")
	rendezvousCmd.Flags().IntVar(&rendezvousPort, "port", 1234, "the port the master listens on for rendezvous")
	tfConfigCmd.Flags().IntVar(&tfPort, "port", 12345, "the port each worker listens on")

	serveCmd.Flags().String("bind-address", "0.0.0.0", "the local address to bind to")
	serveCmd.Flags().Int("web-port", 9091, "the web metrics/health port")
	_ = viper.BindPFlags(serveCmd.Flags())
}

func runServer(ctx context.Context, rt *runtimeState) error {
	logger := rt.logger
	config := rt.config

	logger.Info("starting stellar-distributed", zap.String("version", rootCmd.Version))

	shutdownTelemetry, err := installTelemetry(ctx, rt)
	if err != nil {
		return errors.Wrap(err, "failed to initialize opentelemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownTelemetry(shutdownCtx)
	}()

	// a broken descriptor is reported through /healthz rather than
	// preventing the server from starting.
	if _, err := rt.resolver.Load(ctx); err != nil {
		logger.Warn("distributed config is not usable", zap.Error(err))
	}

	webServer := webapi.NewWebServer(webapi.WebServerOptions{
		Logger:        logger.Named("webapi"),
		LogLevel:      &rt.logLevel,
		ListenAddress: netutils.HostPort(config.bindAddress, config.webPort),
		Resolver:      rt.resolver,
		Debug:         config.debug,
	})

	reloadConfiguration := func() {
		newConfig := readConfig(logger)

		if newConfig.logLevelStr != config.logLevelStr {
			newParsedLogLevel := parseLogLevel(logger, newConfig.logLevelStr)
			rt.logLevel.SetLevel(newParsedLogLevel)

			logger.Info("updated log level",
				zap.String("newLevel", newParsedLogLevel.String()))
		}

		config = newConfig
	}

	if watchCfgFile {
		viper.OnConfigChange(func(in fsnotify.Event) {
			logger.Info("configuration file change detected")
			reloadConfiguration()
		})

		go viper.WatchConfig()
	}

	go func() {
		sigCh := make(chan os.Signal, 10)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

		beginGracefulShutdown := func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			err := webServer.Shutdown(shutdownCtx)
			if err != nil {
				logger.Warn("failed to shutdown web server", zap.Error(err))
			}
		}

		hasReceivedSigInt := false
		for sig := range sigCh {
			if sig == syscall.SIGINT {
				if hasReceivedSigInt {
					logger.Info("Received SIGINT a second time, terminating...")
					os.Exit(1)
				} else {
					logger.Info("Received SIGINT, attempting graceful shutdown...")
					hasReceivedSigInt = true
					beginGracefulShutdown()
				}
			} else if sig == syscall.SIGTERM {
				logger.Info("Received SIGTERM, attempting graceful shutdown...")
				beginGracefulShutdown()
			} else if sig == syscall.SIGHUP {
				logger.Info("Received SIGHUP, reloading configuration...")
				reloadConfiguration()
			}
		}
	}()

	err = webServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "failed to serve web api")
	}

	logger.Info("web server shutdown gracefully")
	return nil
}
