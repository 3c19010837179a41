package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ctf-range/internal/api"
	"ctf-range/internal/cache"
	"ctf-range/internal/challenge"
	"ctf-range/internal/config"
	"ctf-range/internal/logging"
	"ctf-range/internal/orchestrator"
	"ctf-range/internal/runtime"
	"ctf-range/internal/security"
	"ctf-range/internal/stats"
	"ctf-range/internal/store"
)

func main() {
	cfg := config.Load()

	logging.Init()
	defer logging.Sync()
	log := logging.L()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	st, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal("store open failed", zap.String("driver", cfg.DBDriver), zap.Error(err))
	}
	defer st.Close()

	labCatalog, err := config.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		log.Fatal("lab catalog load failed", zap.Error(err))
	}

	challengeCatalog, err := challenge.LoadCatalog(cfg.ChallengesDir)
	if err != nil {
		log.Fatal("challenge catalog load failed", zap.String("dir", cfg.ChallengesDir), zap.Error(err))
	}

	rt, err := runtime.NewDockerRuntime(cfg.DockerHost, cfg.DockerNetwork, cfg.DockerSubnet, cfg.EgressBlockCIDR)
	if err != nil {
		log.Fatal("docker runtime init failed", zap.Error(err))
	}
	defer rt.Close()

	gate := security.NewGate(st, cfg.AdminIDs, cfg.OperatorRole, cfg.OfficerRole)
	sanitizer := security.NewSanitizer(st)
	limiter := security.NewRateLimiter(st,
		cfg.RateSoftLimit, cfg.RateWarnLimit, cfg.RateHardLimit, cfg.RateBlockSeconds)

	orch := orchestrator.New(st, rt, labCatalog,
		cfg.MaxLabsPerUser, cfg.MaxTotalLabs, cfg.LabTTL, cfg.RuntimeTimeout)
	engine := challenge.NewEngine(challengeCatalog, st)
	view := stats.NewView(st)

	lbCache := cache.New(cfg.RedisAddr, cfg.RedisPassword, 30*time.Second)
	defer lbCache.Close()

	h := api.NewHandler(st, gate, sanitizer, limiter, orch, engine, view, lbCache)
	router := api.Router(h, gate, limiter, cfg.JWTSecret)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// In-process expiry sweep; the same work is reachable via the internal
	// auto-cleanup route for an external cron.
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				cleaned, err := orch.AutoCleanup(rootCtx)
				if err != nil {
					log.Error("auto cleanup sweep failed", zap.Error(err))
					continue
				}
				if len(cleaned) > 0 {
					log.Info("auto cleanup sweep", zap.Int("cleaned", len(cleaned)))
				}
			}
		}
	}()

	go func() {
		log.Info("server listening",
			zap.String("addr", cfg.ListenAddr),
			zap.Int("lab_types", len(labCatalog)),
			zap.Int("challenges", challengeCatalog.Len()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
