package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr string
	DBPath   string

	// 执行机构（机械臂控制器）地址与单次发送超时
	RobotHost       string
	RobotPort       int
	DispatchTimeout time.Duration
	ProgramDir      string

	AdminUsername string
	AdminPassword string

	ListLimit      int
	RecoverOnStart bool

	RedisAddr string
	RedisDB   int

	// dispatch 接口限流与 "上一个任务" 记忆
	DispatchRateLimit  int
	DispatchRateWindow time.Duration
	LastClaimTTL       time.Duration

	// 任务事件 outbox（Redis Stream → Relay → Kafka），默认关闭
	NotifyEnabled    bool
	KafkaBrokers     []string
	KafkaTopic       string
	JobEventStream   string
	JobEventGroup    string
	JobEventConsumer string
}

func defaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DB_PATH", "sorter.db")
	v.SetDefault("ROBOT_HOST", "172.20.254.208")
	v.SetDefault("ROBOT_PORT", 30002)
	v.SetDefault("DISPATCH_TIMEOUT_MS", 5000)
	v.SetDefault("PROGRAM_DIR", "RobotScripts")
	v.SetDefault("ADMIN_USERNAME", "admin")
	v.SetDefault("ADMIN_PASSWORD", "Gruppe4")
	v.SetDefault("LIST_LIMIT", 50)
	v.SetDefault("RECOVER_ON_START", false)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("DISPATCH_RATE_LIMIT", 10)
	v.SetDefault("DISPATCH_RATE_WINDOW_SEC", 1)
	v.SetDefault("LAST_CLAIM_TTL_HOUR", 12)
	v.SetDefault("NOTIFY_ENABLED", false)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_TOPIC", "sorter-job-events")
	v.SetDefault("JOB_EVENT_STREAM", "sorter:job_events")
	v.SetDefault("JOB_EVENT_GROUP", "sorter-relay-group")
	v.SetDefault("JOB_EVENT_CONSUMER", "sorter-relay-1")
}

// Load 读取并校验配置，缺失时使用默认值。
func Load() (AppConfig, error) {
	v := viper.New()
	v.AutomaticEnv()
	defaults(v)

	cfg := AppConfig{
		HTTPAddr:         getString(v, "HTTP_ADDR"),
		DBPath:           getString(v, "DB_PATH"),
		RobotHost:        getString(v, "ROBOT_HOST"),
		ProgramDir:       getString(v, "PROGRAM_DIR"),
		AdminUsername:    getString(v, "ADMIN_USERNAME"),
		AdminPassword:    v.GetString("ADMIN_PASSWORD"),
		RedisAddr:        getString(v, "REDIS_ADDR"),
		KafkaBrokers:     splitCSV(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:       getString(v, "KAFKA_TOPIC"),
		JobEventStream:   getString(v, "JOB_EVENT_STREAM"),
		JobEventGroup:    getString(v, "JOB_EVENT_GROUP"),
		JobEventConsumer: getString(v, "JOB_EVENT_CONSUMER"),
	}

	var err error
	if cfg.RobotPort, err = getInt(v, "ROBOT_PORT"); err != nil {
		return AppConfig{}, err
	}
	if cfg.RobotPort <= 0 || cfg.RobotPort > 65535 {
		return AppConfig{}, fmt.Errorf("ROBOT_PORT must be in 1..65535")
	}

	timeoutMs, err := getInt(v, "DISPATCH_TIMEOUT_MS")
	if err != nil {
		return AppConfig{}, err
	}
	if timeoutMs <= 0 {
		return AppConfig{}, fmt.Errorf("DISPATCH_TIMEOUT_MS must be > 0")
	}
	cfg.DispatchTimeout = time.Duration(timeoutMs) * time.Millisecond

	if cfg.ListLimit, err = getInt(v, "LIST_LIMIT"); err != nil {
		return AppConfig{}, err
	}
	if cfg.ListLimit <= 0 {
		return AppConfig{}, fmt.Errorf("LIST_LIMIT must be > 0")
	}

	if cfg.RecoverOnStart, err = getBool(v, "RECOVER_ON_START"); err != nil {
		return AppConfig{}, err
	}
	if cfg.NotifyEnabled, err = getBool(v, "NOTIFY_ENABLED"); err != nil {
		return AppConfig{}, err
	}

	if cfg.RedisDB, err = getInt(v, "REDIS_DB"); err != nil {
		return AppConfig{}, err
	}

	if cfg.DispatchRateLimit, err = getInt(v, "DISPATCH_RATE_LIMIT"); err != nil {
		return AppConfig{}, err
	}
	if cfg.DispatchRateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("DISPATCH_RATE_LIMIT must be > 0")
	}

	windowSec, err := getInt(v, "DISPATCH_RATE_WINDOW_SEC")
	if err != nil {
		return AppConfig{}, err
	}
	if windowSec <= 0 {
		return AppConfig{}, fmt.Errorf("DISPATCH_RATE_WINDOW_SEC must be > 0")
	}
	cfg.DispatchRateWindow = time.Duration(windowSec) * time.Second

	ttlHour, err := getInt(v, "LAST_CLAIM_TTL_HOUR")
	if err != nil {
		return AppConfig{}, err
	}
	if ttlHour <= 0 {
		return AppConfig{}, fmt.Errorf("LAST_CLAIM_TTL_HOUR must be > 0")
	}
	cfg.LastClaimTTL = time.Duration(ttlHour) * time.Hour

	if cfg.RobotHost == "" {
		return AppConfig{}, fmt.Errorf("ROBOT_HOST must not be empty")
	}
	if cfg.DBPath == "" {
		return AppConfig{}, fmt.Errorf("DB_PATH must not be empty")
	}
	if cfg.AdminUsername == "" {
		return AppConfig{}, fmt.Errorf("ADMIN_USERNAME must not be empty")
	}
	if cfg.AdminPassword == "" {
		return AppConfig{}, fmt.Errorf("ADMIN_PASSWORD must not be empty")
	}

	// Kafka/Stream 只在开启通知时才需要。
	if cfg.NotifyEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return AppConfig{}, fmt.Errorf("KAFKA_BROKERS must not be empty")
		}
		if cfg.KafkaTopic == "" {
			return AppConfig{}, fmt.Errorf("KAFKA_TOPIC must not be empty")
		}
		if cfg.JobEventStream == "" {
			return AppConfig{}, fmt.Errorf("JOB_EVENT_STREAM must not be empty")
		}
		if cfg.JobEventGroup == "" {
			return AppConfig{}, fmt.Errorf("JOB_EVENT_GROUP must not be empty")
		}
		if cfg.JobEventConsumer == "" {
			return AppConfig{}, fmt.Errorf("JOB_EVENT_CONSUMER must not be empty")
		}
	}

	return cfg, nil
}

// getString 读取字符串配置并去掉首尾空白。
func getString(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

// getInt 严格解析整数，viper 自身会把非法值静默转成 0。
func getInt(v *viper.Viper, key string) (int, error) {
	n, err := strconv.Atoi(getString(v, key))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(v *viper.Viper, key string) (bool, error) {
	b, err := strconv.ParseBool(getString(v, key))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
