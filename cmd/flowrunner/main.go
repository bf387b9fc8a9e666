// Package main is the flow runner's HTTP entry point: it boots the engine
// from configuration, exposes flow runs and Prometheus metrics over gin, and
// starts a background cron scheduler with no jobs registered on it.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/n3flow/core/internal/engine/frame"
	"github.com/n3flow/core/internal/engine/graphrag"
	"github.com/n3flow/core/internal/engine/ir"
	"github.com/n3flow/core/internal/engine/memory"
	"github.com/n3flow/core/internal/engine/observe"
	"github.com/n3flow/core/internal/engine/provider"
	"github.com/n3flow/core/internal/engine/rag"
	"github.com/n3flow/core/internal/engine/record"
	"github.com/n3flow/core/internal/engine/runtime"
	"github.com/n3flow/core/internal/engine/tool"
	"github.com/n3flow/core/internal/engine/txn"
	"github.com/n3flow/core/internal/engine/value"
	"github.com/n3flow/core/internal/platform/config"
	"github.com/n3flow/core/internal/platform/logging"
	"github.com/n3flow/core/internal/platform/metrics"
	"github.com/n3flow/core/internal/platform/resilience"
	"github.com/n3flow/core/internal/platform/tracing"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	providersFile := flag.String("providers", "", "path to a YAML provider/tool registry overlay")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New("flowrunner", cfg.Logging)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	metricsReg := metrics.New(prometheus.DefaultRegisterer)
	tracer := tracing.NewGlobalTracer(cfg.Tracing)

	breakers := resilience.NewBreakerRegistry(cfg.Resilience)
	retry := resilience.DefaultRetryConfig(cfg.Resilience)

	providers := map[string]*provider.Adapter{}
	specs := map[string]*tool.Spec{}
	if *providersFile != "" {
		pf, err := config.LoadProvidersFile(*providersFile)
		if err != nil {
			log.Fatalf("load providers file: %v", err)
		}
		for _, p := range pf.Providers {
			backend := provider.NewHTTPBackend(p.BaseURL, os.Getenv(p.APIKeyEnv), "text", nil)
			providers[p.Name] = provider.New(p.Name, backend, breakers, retry)
		}
		specs, err = tool.BuildSpecs(pf.Tools)
		if err != nil {
			log.Fatalf("build tool specs: %v", err)
		}
	}

	frames := frame.NewStore()
	records := record.New(frames, &record.Registry{Defs: map[string]*ir.RecordDef{}})
	tools := tool.New(specs, nil, nil)
	memStore := memory.NewStore(map[memory.Kind]memory.RetentionPolicy{
		memory.KindShort: {TTL: 24 * time.Hour},
	}, memory.NewScrubber())
	graph := graphrag.New()
	ragPipeline := rag.New(firstProvider(providers), nil, frames, graph)
	sink := observe.New(logger, metricsReg, tracer)
	txnMgr := txn.New(frames)

	engine := runtime.New(map[string]*ir.Flow{}, records, providers, tools, memStore, ragPipeline, sink, txnMgr, cfg.MaxParallel)

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/flows/:name/run", func(c *gin.Context) {
		var inputs map[string]any
		if err := c.ShouldBindJSON(&inputs); err != nil && err != io.EOF {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		env := make(map[string]value.Value, len(inputs))
		for k, v := range inputs {
			env[k] = value.FromNative(v)
		}
		results, err := engine.Run(c.Request.Context(), c.Param("name"), env)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make(map[string]any, len(results))
		for k, v := range results {
			out[k] = v.Native()
		}
		c.JSON(http.StatusOK, out)
	})

	scheduler := cron.New()
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{Addr: *addr, Handler: router}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()
	logger.WithContext(context.Background()).Infof("flow runner listening on %s", *addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}

func firstProvider(providers map[string]*provider.Adapter) *provider.Adapter {
	for _, p := range providers {
		return p
	}
	return nil
}
