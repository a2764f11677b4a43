package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sorter/internal/config"
	"sorter/internal/queue"
	"sorter/internal/store"
	rediskey "sorter/pkg/redis"

	rd "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// session is the state one command needs: config, store and acting user.
type session struct {
	cfg      config.AppConfig
	db       *gorm.DB
	q        *queue.Queue
	operator string
	userID   int64

	rdb *rd.Client // opened on first use of claims
}

func openSession(opts *RootOptions) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}
	if opts.DB != "" {
		cfg.DBPath = opts.DB
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open database", err)
	}
	if _, err := store.EnsureAdmin(db, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		store.Close(db)
		return nil, WrapExitError(ExitCommandError, "ensure admin", err)
	}

	operator := strings.TrimSpace(opts.Operator)
	if operator == "" {
		operator = cfg.AdminUsername
	}
	uid, err := store.FindUserID(db, operator)
	if err != nil {
		store.Close(db)
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("operator %s", operator), err)
	}

	return &session{cfg: cfg, db: db, q: queue.New(db), operator: operator, userID: uid}, nil
}

// claims returns the Redis-backed last-claim tracker the server shares.
func (s *session) claims(ctx context.Context) (*rediskey.ClaimTracker, error) {
	if s.rdb == nil {
		client := rd.NewClient(&rd.Options{Addr: s.cfg.RedisAddr, DB: s.cfg.RedisDB})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis %s: %w", s.cfg.RedisAddr, err)
		}
		s.rdb = client
	}
	return rediskey.NewClaimTracker(s.rdb, s.cfg.LastClaimTTL), nil
}

func (s *session) Close() {
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
	_ = store.Close(s.db)
}
