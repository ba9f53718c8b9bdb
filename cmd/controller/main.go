// Command controller runs the build queue scheduler behind an
// HTTP/WebSocket front end, wiring in rate limiting, node health
// quarantine, multi-replica coordination, and crash-recovery
// persistence.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ridgeci/ridgeline/api"
	"github.com/ridgeci/ridgeline/coordination"
	"github.com/ridgeci/ridgeline/health"
	"github.com/ridgeci/ridgeline/history"
	"github.com/ridgeci/ridgeline/observability"
	"github.com/ridgeci/ridgeline/queue"
	"github.com/ridgeci/ridgeline/ratelimit"
)

func hostID() string {
	h, err := os.Hostname()
	if err != nil {
		return "controller"
	}
	return h
}

func main() {
	cfg := loadConfig()

	queue.OnFault = func(component, event, reason string) {
		observability.SchedulerFaults.WithLabelValues(component, reason).Inc()
	}

	q := queue.New(queue.Config{})
	defer q.Close()

	q.SetPersistence(queue.NewFilePersistence(cfg.QueueDir))

	registry := newJobRegistry()
	for _, name := range strings.Split(os.Getenv("JOBS_CSV"), ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			registry.define(name)
		}
	}

	if err := q.Load(registry, nil); err != nil {
		log.Printf("queue: load failed, starting empty: %v", err)
	}

	monitor := health.NewMonitor(cfg.QuarantineAfter, cfg.QuarantineCooldown, 3)
	q.AddDispatcher(monitor)

	throttle := ratelimit.NewThrottle(cfg.ThrottlePerSecond, cfg.ThrottleBurst, func(t queue.Task) string {
		return t.FullDisplayName()
	})
	q.AddDecisionHandler(throttle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		lock := coordination.NewMaintenanceLock(client, "ridgeline:maintainer", hostID(), 15*time.Second)
		go func() {
			err := lock.Hold(ctx, func() {
				log.Println("coordination: acquired maintenance lock, this replica is active maintainer")
			})
			if err != nil && ctx.Err() == nil {
				log.Printf("coordination: lost maintenance lock: %v", err)
			}
		}()
	}

	var recorder *history.Recorder
	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Printf("history: failed to connect to postgres, audit disabled: %v", err)
		} else {
			recorder = history.NewRecorder(pool)
			if err := recorder.Migrate(ctx); err != nil {
				log.Printf("history: failed to migrate, audit disabled: %v", err)
				recorder = nil
			} else {
				defer pool.Close()
				go runHistoryPoller(ctx, q, recorder)
			}
		}
	}

	var signer *api.TokenSigner
	if cfg.TokenSecret != "" {
		s, err := api.NewTokenSigner(cfg.TokenSecret, "ridgeline")
		if err != nil {
			log.Fatalf("api: %v", err)
		}
		signer = s
	} else {
		log.Println("api: TOKEN_SECRET unset, bearer auth disabled (dev mode only)")
	}

	server := api.NewServer(q, registry, signer)
	go server.Hub().Run(ctx)
	go runMaintenanceTicker(ctx, q)
	go runPersistTicker(ctx, q, nil)

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: server.Routes()}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("controller: shutting down")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
		if err := q.Save(nil); err != nil {
			log.Printf("queue: final save failed: %v", err)
		}
	}()

	fmt.Println("==================================================")
	fmt.Println("ridgeline build queue controller")
	fmt.Printf("listening on %s\n", cfg.HTTPAddr)
	fmt.Printf("throttle: %.1f/s burst %d, quarantine after %d failures\n",
		cfg.ThrottlePerSecond, cfg.ThrottleBurst, cfg.QuarantineAfter)
	fmt.Println("==================================================")

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("controller: %v", err)
	}
}

// runMaintenanceTicker is a belt-and-suspenders maintenance driver on
// top of the queue's own internal backstop timer, matching §5's intent
// that maintenance must never depend solely on executors waking each
// other.
func runMaintenanceTicker(ctx context.Context, q *queue.BuildQueue) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Maintain()
		}
	}
}

func runPersistTicker(ctx context.Context, q *queue.BuildQueue, codec queue.ActionCodec) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.Save(codec); err != nil {
				log.Printf("queue: periodic save failed: %v", err)
			}
		}
	}
}

func runHistoryPoller(ctx context.Context, q *queue.BuildQueue, recorder *history.Recorder) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	last := make(map[queue.ItemID]queue.Stage)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			seen := make(map[queue.ItemID]queue.Stage)
			for _, item := range q.ApproximateItems() {
				seen[item.ID()] = item.Stage()
				if st, ok := last[item.ID()]; ok && st == item.Stage() {
					continue
				}
				if err := recorder.RecordTransition(ctx, item, now); err != nil {
					log.Printf("history: record failed: %v", err)
				}
			}
			last = seen
		}
	}
}
