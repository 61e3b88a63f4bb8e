package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/atlashq/atlas/internal/api"
	"github.com/atlashq/atlas/internal/config"
	"github.com/atlashq/atlas/internal/coordination"
	"github.com/atlashq/atlas/internal/db"
	"github.com/atlashq/atlas/internal/events"
	"github.com/atlashq/atlas/internal/heartbeat"
	"github.com/atlashq/atlas/internal/lease"
	"github.com/atlashq/atlas/internal/models"
	"github.com/atlashq/atlas/internal/nodeclient"
	"github.com/atlashq/atlas/internal/provision"
	"github.com/atlashq/atlas/internal/ratelimit"
	"github.com/atlashq/atlas/internal/remote"
	"github.com/atlashq/atlas/internal/repository"
	"github.com/atlashq/atlas/internal/worker"
)

// sshDialer opens SSH exec channels for provisioning runs. The key is loaded
// once at startup; per-node users override the configured default.
type sshDialer struct {
	user   string
	keyPEM []byte
}

func (d *sshDialer) Dial(_ context.Context, node *models.Node) (remote.Exec, error) {
	user := node.SSHUser
	if user == "" {
		user = d.user
	}
	return remote.Dial(node.SSHAddr, user, d.keyPEM)
}

func main() {
	cfg := config.LoadConfig()

	gormDB := db.Init(cfg.DatabaseURL)
	if err := db.Migrate(gormDB); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	store := coordination.NewRedisStore(redisClient)

	sandboxes := repository.NewSandboxRepository(gormDB)
	metrics := repository.NewMetricRepository(gormDB)
	idempotency := repository.NewIdempotencyRepository(gormDB)
	orgs := repository.NewOrgRepository(gormDB)
	nodes := repository.NewNodeRepository(gormDB)

	beats := heartbeat.NewRegistry(store)
	leases := lease.NewManager(store)
	limits := ratelimit.NewLimiter(store)

	var pub events.Publisher = events.NopPublisher{}
	if cfg.RabbitMQURL != "" {
		rabbit, err := events.NewRabbitMQPublisher(cfg.RabbitMQURL)
		if err != nil {
			log.Fatalf("failed to connect to RabbitMQ: %v", err)
		}
		defer rabbit.Close()
		pub = rabbit
	} else {
		log.Println("RABBITMQ_URL not set, status events disabled")
	}

	keyPEM, err := os.ReadFile(cfg.SSHKeyPath)
	if err != nil {
		log.Fatalf("failed to read SSH key %s: %v", cfg.SSHKeyPath, err)
	}
	dialer := &sshDialer{user: cfg.SSHUser, keyPEM: keyPEM}

	runner := provision.NewRunner(provision.DefaultSteps(provision.StepConfig{
		AgentDownloadURL: cfg.AgentDownloadURL,
		ControlPlaneURL:  cfg.ControlPlaneURL,
	}), nodes, store)

	nodeCli := nodeclient.NewHTTPClient(nodes)

	reconciler := worker.NewReconciler(sandboxes, beats, pub)
	idleSweeper := worker.NewIdleSweeper(sandboxes, nodeCli, pub, cfg.IdleTimeout)
	orgPurger := worker.NewOrgPurger(orgs, nil, worker.DefaultOrgPurgeRetention)

	reconcilerWorker := reconciler.Worker()
	reconcilerWorker.Interval = cfg.SweepInterval
	idleWorker := idleSweeper.Worker()
	idleWorker.Interval = cfg.SweepInterval

	scheduler := worker.NewScheduler(
		reconcilerWorker,
		idleWorker,
		worker.NewRetentionSweeper("metrics-retention", time.Hour, worker.DefaultMetricsRetention, metrics),
		worker.NewRetentionSweeper("idempotency-cleanup", time.Hour, worker.DefaultIdempotencyRetention, idempotency),
		orgPurger.Worker(),
	)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	scheduler.Start(workerCtx)

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	// Request ID middleware
	router.Use(func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = fmt.Sprintf("%.8s", uuid.New().String())
		}
		c.Header("X-Request-ID", requestID)
		c.Set("requestID", requestID)
		c.Next()
	})

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.AllowOrigins},
		AllowCredentials: true,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
	}))

	h := api.New(leases, limits, beats, runner, nodes, sandboxes, dialer, cfg.HeartbeatTTL, cfg.SlotLeaseTTL)
	h.Register(router)

	server := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB max header size
	}

	go func() {
		log.Printf("control plane listening on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("control plane server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("shutting down control plane...")
	stopWorkers()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
