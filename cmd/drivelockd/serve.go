package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cadvault/drivelock/internal/bridge"
	"github.com/cadvault/drivelock/internal/coordinator"
	"github.com/cadvault/drivelock/internal/notify"
	"github.com/cadvault/drivelock/internal/remote"
	"github.com/cadvault/drivelock/internal/watcher"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent: bridge listener, directory watcher, and lock heartbeat",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	core, err := loadCore(ctx)
	if err != nil {
		return err
	}
	cfg := core.Config

	svc, err := core.RemoteService(ctx)
	if err != nil {
		return err
	}

	hub := notify.NewHub()
	defer hub.Close()
	notifier := notify.NewMulti(notify.NewConsole(), hub)

	co := coordinator.New(svc, notifier, coordinator.Options{
		SetReadOnly:       cfg.SetReadOnly,
		TrackedExtensions: cfg.TrackedExtensions,
	})
	sink := newOpenTracker(co)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: bridge.NewServer(sink, svc, hub, core.BridgeSecret()).Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("serve: bridge listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if len(cfg.WatchRoots) > 0 {
		w, err := watcher.New(sink, cfg.TrackedExtensions)
		if err != nil {
			return err
		}
		defer w.Close()
		for _, root := range cfg.WatchRoots {
			if err := w.Add(root); err != nil {
				log.Printf("serve: cannot watch %q: %v", root, err)
				continue
			}
			log.Printf("serve: watching %s", root)
		}
		go w.Run(ctx)
	}

	go heartbeat(ctx, svc, sink, cfg.HeartbeatInterval)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	log.Println("serve: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("serve: bridge shutdown: %v", err)
	}
	co.Wait()
	return nil
}

// heartbeat extends this workstation's locks on open documents so they do not
// expire mid-session.
func heartbeat(ctx context.Context, svc *remote.Service, tracker *openTracker, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, path := range tracker.openDocuments() {
				if err := svc.ExtendLock(ctx, path); err != nil {
					log.Printf("serve: heartbeat for %q: %v", path, err)
				}
			}
		}
	}
}

// openTracker wraps the coordinator and remembers which documents this
// workstation asked a lock for, feeding the heartbeat loop. Both the bridge
// and the watcher deliver events through it.
type openTracker struct {
	co *coordinator.Coordinator

	mu   sync.Mutex
	open map[string]struct{}
}

func newOpenTracker(co *coordinator.Coordinator) *openTracker {
	return &openTracker{co: co, open: make(map[string]struct{})}
}

func (t *openTracker) OnFileOpened(ctx context.Context, path string, imported bool) coordinator.Result {
	res := t.co.OnFileOpened(ctx, path, imported)
	if res.Outcome == coordinator.OutcomeLockRequested {
		t.mu.Lock()
		t.open[path] = struct{}{}
		t.mu.Unlock()
	}
	return res
}

func (t *openTracker) OnFileClosed(ctx context.Context, path string) coordinator.Result {
	t.mu.Lock()
	delete(t.open, path)
	t.mu.Unlock()
	return t.co.OnFileClosed(ctx, path)
}

func (t *openTracker) openDocuments() []string {
	paths := make([]string, 0, len(t.open))
	t.mu.Lock()
	defer t.mu.Unlock()
	for p := range t.open {
		paths = append(paths, p)
	}
	return paths
}
