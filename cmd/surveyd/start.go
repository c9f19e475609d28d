package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/topomesh/surveyd/admin"
	"github.com/topomesh/surveyd/config"
	"github.com/topomesh/surveyd/identity"
	"github.com/topomesh/surveyd/overlay"
	"github.com/topomesh/surveyd/pkg/logtrace"
	"github.com/topomesh/surveyd/sim"
	"github.com/topomesh/surveyd/survey"
	"github.com/topomesh/surveyd/survey/archive"
)

var demoMode bool

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the survey node",
	Long: `Start the survey node using the configuration in the config file.
The node joins the overlay, answers and relays topology surveys within its
policy, and serves the admin command surface over HTTP.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			return err
		}
		applyEnvOverrides(cfg)
		logtrace.Setup(cfg.LogLevel)

		ctx := logtrace.CtxWithCorrelationID(context.Background(), "surveyd-start")
		logtrace.Info(ctx, "Starting surveyd", logtrace.Fields{
			"config_file":  cfgFile,
			"admin_listen": cfg.Admin.ListenAddress,
			"demo":         demoMode,
		})

		var store *archive.Store
		if cfg.Archive.Path != "" {
			store, err = archive.NewStore(cfg.Archive.Path)
			if err != nil {
				logtrace.Error(ctx, "Failed to open survey archive", logtrace.Fields{
					logtrace.FieldError: err.Error(),
				})
				return err
			}
			defer store.Close()
		}

		var handler *admin.Handler
		if demoMode {
			handler, err = startDemoNetwork(ctx, store)
		} else {
			handler, err = startNode(ctx, cfg, store)
		}
		if err != nil {
			return err
		}

		mux := http.NewServeMux()
		handler.Register(mux)
		srv := &http.Server{Addr: cfg.Admin.ListenAddress, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logtrace.Fatal(ctx, "Admin server failed", logtrace.Fields{
					logtrace.FieldError: err.Error(),
				})
			}
		}()
		logtrace.Info(ctx, "Admin server listening", logtrace.Fields{
			"address": cfg.Admin.ListenAddress,
		})

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logtrace.Info(ctx, "Received signal, shutting down", logtrace.Fields{
			"signal": sig.String(),
		})

		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

// applyEnvOverrides lets SURVEYD_* environment variables win over the file.
func applyEnvOverrides(cfg *config.Config) {
	if v := vp.GetString("log_level"); v != "" {
		cfg.LogLevel = v
	}
	if v := vp.GetString("admin_listen_address"); v != "" {
		cfg.Admin.ListenAddress = v
	}
	if v := vp.GetString("archive_path"); v != "" {
		cfg.Archive.Path = v
	}
}

// startNode assembles the production manager from cfg, registered on a
// loopback hub. Peer connections arrive through the overlay layer at runtime;
// the survey core itself is transport-agnostic.
func startNode(ctx context.Context, cfg *config.Config, store *archive.Store) (*admin.Handler, error) {
	seed, err := identity.SeedFromString(cfg.NodeSeed)
	if err != nil {
		return nil, err
	}

	surveyors := make(map[identity.NodeID]struct{}, len(cfg.Survey.SurveyorKeys))
	for _, key := range cfg.Survey.SurveyorKeys {
		id, err := identity.NodeIDFromString(key)
		if err != nil {
			return nil, err
		}
		surveyors[id] = struct{}{}
	}

	trusted := make([]identity.NodeID, 0, len(cfg.Quorum.TrustedNodes)+1)
	trusted = append(trusted, seed.NodeID())
	for _, key := range cfg.Quorum.TrustedNodes {
		id, err := identity.NodeIDFromString(key)
		if err != nil {
			return nil, err
		}
		trusted = append(trusted, id)
	}

	hub := overlay.NewLoopback()
	peers := overlay.NewPeerTable()
	mgr, err := survey.NewManager(survey.Config{
		Seed: seed,
		Auth: survey.Authorization{
			SurveyorKeys:      surveyors,
			MinOverlayVersion: cfg.Survey.MinOverlayVersion,
			ThrottleMult:      int(cfg.Survey.ThrottleMult),
		},
		Quorum:                survey.NewStaticQuorum(trusted...),
		Transport:             hub.Endpoint(seed.NodeID()),
		Peers:                 peers,
		OverlayVersion:        cfg.Overlay.Version,
		ExpectedRoundDuration: time.Duration(cfg.Overlay.ExpectedRoundSeconds) * time.Second,
		Archiver:              archiverOrNil(store),
	})
	if err != nil {
		return nil, err
	}
	hub.Register(seed.NodeID(), mgr.HandleMessage)

	logtrace.Info(ctx, "Survey node ready", logtrace.Fields{
		logtrace.FieldNodeID: seed.NodeID().String(),
	})
	return admin.NewHandler(mgr, peers.Count, store), nil
}

// startDemoNetwork runs a six-node in-process topology and serves the first
// node's admin surface, cranking message delivery on a background ticker.
func startDemoNetwork(ctx context.Context, store *archive.Store) (*admin.Handler, error) {
	cfgs := make([]sim.NodeConfig, 6)
	cfgs[0].Archiver = archiverOrNil(store)
	net, err := sim.NewNetwork(cfgs)
	if err != nil {
		return nil, err
	}
	net.SetTransitiveQuorum(0, 1, 2)
	net.AddConnection(0, 1)
	net.AddConnection(1, 2)
	net.AddConnection(1, 3)
	net.AddConnection(2, 4)
	net.AddConnection(2, 5)

	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			net.CrankFor(ctx, 100*time.Millisecond)
		}
	}()

	node := net.Node(0)
	logtrace.Info(ctx, "Demo network ready", logtrace.Fields{
		logtrace.FieldNodeID: node.ID().String(),
		"nodes":              len(cfgs),
	})
	return admin.NewHandler(node.Manager, node.PeerCount, store), nil
}

func archiverOrNil(store *archive.Store) survey.Archiver {
	if store == nil {
		return nil
	}
	return store
}

func init() {
	startCmd.Flags().BoolVar(&demoMode, "demo", false, "run an in-process demo topology instead of a real node")
	rootCmd.AddCommand(startCmd)
}
