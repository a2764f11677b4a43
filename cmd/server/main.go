package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sorter/internal/config"
	"sorter/internal/dispatcher"
	"sorter/internal/notify"
	"sorter/internal/program"
	"sorter/internal/queue"
	"sorter/internal/robot"
	"sorter/internal/router"
	"sorter/internal/store"
	rediskey "sorter/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// outboxMaxLen 限制 Stream 长度，Relay 长时间不可用时防止无限增长。
const outboxMaxLen = 100_000

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. 连接 SQLite，自动建表，确保管理员账号存在
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer store.Close(db)
	adminID, err := store.EnsureAdmin(db, cfg.AdminUsername, cfg.AdminPassword)
	if err != nil {
		log.Fatalf("ensure admin: %v", err)
	}
	q := queue.New(db)

	// 进程刚启动时不可能有正在执行的任务，可以安全地把 Running 放回队列。
	if cfg.RecoverOnStart {
		res, err := q.RecoverStuck(ctx, &adminID)
		if err != nil {
			log.Fatalf("recover stuck jobs: %v", err)
		}
		log.Printf("recovered %d line items, %d orders", res.LineItems, res.Orders)
	}

	// 2. Redis：限流、"上一个任务"、事件 outbox。不可用时降级运行。
	var (
		rdb    *rd.Client
		claims router.ClaimTracker
		events dispatcher.Publisher
	)
	client := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	err = client.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		log.Printf("redis %s unavailable, running without rate limit, last claims kept in memory: %v", cfg.RedisAddr, err)
		_ = client.Close()
	} else {
		rdb = client
		defer rdb.Close()
		claims = rediskey.NewClaimTracker(rdb, cfg.LastClaimTTL)
	}

	g, gctx := errgroup.WithContext(ctx)

	// 3. 任务事件：API/dispatcher 写 Stream，Relay 异步转 Kafka
	if cfg.NotifyEnabled {
		if rdb == nil {
			log.Fatalf("NOTIFY_ENABLED requires redis at %s", cfg.RedisAddr)
		}
		events = notify.NewOutbox(rdb, cfg.JobEventStream, outboxMaxLen)
		producer := notify.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		relay := notify.NewRelay(rdb, producer, cfg.JobEventStream, cfg.JobEventGroup, cfg.JobEventConsumer, logger)
		g.Go(func() error { return relay.Run(gctx) })
	}

	robotClient := robot.NewClient(cfg.RobotHost, cfg.RobotPort, robot.WithTimeout(cfg.DispatchTimeout))
	d := dispatcher.New(q, robotClient, program.NewStore(cfg.ProgramDir), cfg.DispatchTimeout,
		dispatcher.WithLogger(logger),
		dispatcher.WithPublisher(events),
	)

	r := gin.Default()
	router.Setup(r, router.Deps{
		DB:         db,
		Queue:      q,
		Dispatcher: d,
		Robot:      robotClient,
		Claims:     claims,
		Events:     events,
		RDB:        rdb,
		Cfg:        cfg,
		Log:        logger,
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	g.Go(func() error {
		log.Printf("listening on %s, robot at %s", cfg.HTTPAddr, robotClient.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("server stopped: %v", err)
	}
}
