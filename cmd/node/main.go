package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/cspellhq/hivenode/internal/apperr"
	"github.com/cspellhq/hivenode/internal/config"
	"github.com/cspellhq/hivenode/internal/gitops"
	"github.com/cspellhq/hivenode/internal/hiveclient"
	"github.com/cspellhq/hivenode/internal/httpapi"
	"github.com/cspellhq/hivenode/internal/logging"
	"github.com/cspellhq/hivenode/internal/normalizer"
	"github.com/cspellhq/hivenode/internal/process"
	"github.com/cspellhq/hivenode/internal/project"
	"github.com/cspellhq/hivenode/internal/proxy"
	"github.com/cspellhq/hivenode/internal/sharedtask"
	"github.com/cspellhq/hivenode/internal/store"
	"github.com/cspellhq/hivenode/internal/syncproto"
	"github.com/cspellhq/hivenode/internal/taskattempt"
	"github.com/cspellhq/hivenode/internal/terminal"
)

func main() {
	logging.Init("node", nil)

	cmd := &cli.Command{
		Name:  "hivenode",
		Usage: "runs a hivenode coding-agent orchestrator",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "start the node HTTP server",
				Action: serve,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func serve(ctx context.Context, _ *cli.Command) error {
	cfg := config.LoadNode()
	if err := cfg.Validate(); err != nil {
		return err
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	projects := project.NewStore(db.Conn)
	tasks := taskattempt.NewStore(db.Conn)
	processes := process.NewStore(db.Conn)
	terminals := terminal.NewStore(db.Conn)
	shared := sharedtask.NewStore(db.Conn)
	messageStores := normalizer.NewRegistry(db.Conn)
	index := normalizer.NewEntryIndexProvider()

	supervisor, err := process.New(processes, cfg.ServerInstanceID, cfg.WorkerPoolSize)
	if err != nil {
		return err
	}
	worktrees := gitops.NewManager(cfg.StateDir)
	term := terminal.NewManager(terminals, cfg.Shell)

	engine := &taskattempt.Engine{
		Store:      tasks,
		Processes:  processes,
		Supervisor: supervisor,
		Worktrees:  worktrees,
		Index:      index,
		RepoPath: func(ctx context.Context, projectID string) (string, error) {
			p, err := projects.Get(ctx, projectID)
			if err != nil {
				return "", err
			}
			return p.RepoPath, nil
		},
		NewMessageStore: func(attemptID string) normalizer.PatchSink {
			return messageStores.For(attemptID)
		},
	}

	var syncer *sharedtask.Syncer
	var proxyRouter *proxy.Router
	if cfg.HiveURL != "" {
		client := hiveclient.New(cfg.HiveURL, cfg.HiveToken)
		syncer = &sharedtask.Syncer{
			Client:   client,
			Store:    shared,
			Tasks:    tasks,
			NodeID:   cfg.ServerInstanceID,
			NodeName: cfg.NodeName,
		}
		engine.Hive = syncer

		proxyRouter = &proxy.Router{
			Resolver: proxyResolverAdapter{shared},
			ResolveProjectID: func(ctx context.Context, sharedTaskID string) (string, error) {
				m, err := shared.GetBySharedTaskID(ctx, sharedTaskID)
				if err != nil {
					return "", err
				}
				if m == nil {
					return "", &apperr.NotFound{Kind: "shared_task", ID: sharedTaskID}
				}
				task, err := tasks.GetTask(ctx, m.LocalTaskID)
				if err != nil {
					return "", err
				}
				if task == nil {
					return "", &apperr.NotFound{Kind: "task", ID: m.LocalTaskID}
				}
				p, err := projects.Get(ctx, task.ProjectID)
				if err != nil {
					return "", err
				}
				if p == nil || p.RemoteProjectID == nil {
					return "", &apperr.NotFound{Kind: "project", ID: task.ProjectID}
				}
				return *p.RemoteProjectID, nil
			},
		}

		go runSyncLoop(ctx, client, syncer, cfg)
	}

	router := httpapi.New(&httpapi.Deps{
		Projects:      projects,
		Tasks:         tasks,
		Engine:        engine,
		Processes:     processes,
		MessageStores: messageStores,
		Worktrees:     worktrees,
		SharedTask:    syncer,
		Terminal:      term,
		Proxy:         proxyRouter,
		NodeName:      cfg.NodeName,
	})

	go func() {
		if err := router.Start(cfg.ListenAddr); err != nil {
			slog.Error("[NODE] server stopped", "error", err)
		}
	}()
	slog.Info("[NODE] listening", "addr", cfg.ListenAddr, "name", cfg.NodeName)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	slog.Info("[NODE] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return router.Shutdown(shutdownCtx)
}

// runSyncLoop dials the Hive's sync websocket and reconnects with a fixed
// backoff on drop, the same "keep trying, log and move on" posture the
// process supervisor takes toward a misbehaving subprocess.
func runSyncLoop(ctx context.Context, client *hiveclient.Client, syncer *sharedtask.Syncer, cfg *config.NodeConfig) {
	for {
		conn, err := client.DialSync(ctx, syncer.HandleInbound)
		if err != nil {
			slog.Warn("[NODE] hive sync dial failed, retrying", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
				continue
			}
		}

		if err := conn.Send(syncproto.MethodNodeHeartbeat, syncproto.NodeHeartbeatPayload{
			NodeID: cfg.ServerInstanceID, PublicURL: cfg.PublicURL,
		}); err != nil {
			slog.Warn("[NODE] initial heartbeat failed", "error", err)
		}

		if err := conn.Run(ctx); err != nil {
			slog.Warn("[NODE] hive sync connection dropped, reconnecting", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

// proxyResolverAdapter adapts sharedtask.Store's cached-project lookup to
// proxy.NodeResolver's minimal interface.
type proxyResolverAdapter struct {
	store *sharedtask.Store
}

func (a proxyResolverAdapter) GetCachedNodeProject(ctx context.Context, remoteProjectID string) (*proxy.CachedNodeProject, error) {
	p, err := a.store.GetCachedNodeProject(ctx, remoteProjectID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	return &proxy.CachedNodeProject{NodeStatus: p.NodeStatus, NodePublicURL: p.NodePublicURL}, nil
}
