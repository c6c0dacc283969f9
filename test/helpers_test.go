package test

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/joho/godotenv"

	"textdrop/cfg"
	"textdrop/svc/auth"
	"textdrop/svc/cache"
	"textdrop/svc/db"
	"textdrop/svc/svc"
)

var envLoadOnce sync.Once

func loadTestEnv() {
	envLoadOnce.Do(func() {
		paths := []string{
			".env.test",
			"../.env.test",
		}
		for _, p := range paths {
			if absPath, err := filepath.Abs(p); err == nil {
				if _, err := os.Stat(absPath); err == nil {
					if godotenv.Load(absPath) == nil {
						return
					}
				}
			}
		}
		if os.Getenv("PEPPER") == "" {
			os.Setenv("PEPPER", "0123456789ABCDEF0123456789ABCDEF")
		}
	})
}

func createTestConfig() *cfg.Cfg {
	loadTestEnv()
	return &cfg.Cfg{
		Port:            "0",
		Environment:     "test",
		LogLevel:        "error",
		BaseURL:         "http://localhost:8080",
		DatabasePath:    ":memory:",
		LRUCacheSize:    1000,
		Argon2Time:      1,
		Argon2Memory:    8 * 1024,
		Argon2Parallel:  1,
		HasherWorkers:   2,
		MaxTextSize:     1024 * 1024,
		MaxWorkerLoad:   1000,
		RecordTTL:       20 * time.Minute,
		CleanupInterval: time.Minute,
		WorkerPoolSize:  10,
		Pepper:          cfg.NewSecret(os.Getenv("PEPPER")),
		ContextTimeout:  30 * time.Second,
		RateLimit: cfg.RateLimitCfg{
			RPM:               100000,
			Burst:             10000,
			ConservativeLimit: 50000,
		},
		DBMaxOpenConns: 50,
		DBMaxIdleConns: 10,
		DBQueryTimeout: 10 * time.Second,
	}
}

func createTestDB(t *testing.T, c *cfg.Cfg) *db.SQLite {
	t.Helper()
	dsn := fmt.Sprintf("file:memdb%d?mode=memory&cache=shared", time.Now().UnixNano())
	sqlDB, err := db.NewSQLiteWithConfig(dsn, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	return sqlDB
}

func createTestLRU(t *testing.T, size int) *cache.LRU {
	t.Helper()
	lru, err := cache.NewLRU(size)
	if err != nil {
		t.Fatalf("failed to create test LRU: %v", err)
	}
	return lru
}

func createTestHasher(t *testing.T, c *cfg.Cfg) *auth.Hasher {
	t.Helper()
	hasher, err := auth.NewHasher(c.Argon2Time, c.Argon2Memory, c.Argon2Parallel, []byte(c.Pepper.Value()))
	if err != nil {
		t.Fatalf("failed to create test hasher: %v", err)
	}
	if err := hasher.Start(c.HasherWorkers); err != nil {
		t.Fatalf("failed to start test hasher: %v", err)
	}
	return hasher
}

func createTestService(t *testing.T, c *cfg.Cfg) (*svc.Text, *db.SQLite) {
	t.Helper()
	sqlDB := createTestDB(t, c)
	t.Cleanup(func() { sqlDB.Close() })
	lru := createTestLRU(t, c.LRUCacheSize)
	hasher := createTestHasher(t, c)
	t.Cleanup(hasher.Stop)
	textSvc := svc.NewText(sqlDB, lru, nil, hasher, c)
	t.Cleanup(textSvc.Shutdown)
	return textSvc, sqlDB
}
