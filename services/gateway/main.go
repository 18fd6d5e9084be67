// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/AleutianAI/AleutianRelay/services/gateway/archive"
	"github.com/AleutianAI/AleutianRelay/services/gateway/classifier"
	"github.com/AleutianAI/AleutianRelay/services/gateway/config"
	"github.com/AleutianAI/AleutianRelay/services/gateway/control"
	"github.com/AleutianAI/AleutianRelay/services/gateway/dispatch"
	"github.com/AleutianAI/AleutianRelay/services/gateway/handlers"
	"github.com/AleutianAI/AleutianRelay/services/gateway/observability"
	"github.com/AleutianAI/AleutianRelay/services/gateway/pipeline"
	"github.com/AleutianAI/AleutianRelay/services/gateway/router"
	"github.com/AleutianAI/AleutianRelay/services/gateway/routes"
	"github.com/AleutianAI/AleutianRelay/services/gateway/tools"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "localhost:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("relay-gateway")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func main() {
	// Local development keeps its knobs in a .env file.
	_ = godotenv.Load()

	cfgPath := os.Getenv("GATEWAY_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("FATAL: could not load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(logger)

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	state, err := control.NewState(cfg.Backends, cfg.DefaultBackend, cfg.Router.Enabled)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	// Backend descriptors hot-reload; the rest of the document is
	// startup-only.
	stopWatch, err := config.Watch(cfgPath, func(next *config.Config) {
		state.ReplaceBackends(next.Backends, next.DefaultBackend)
	})
	if err != nil {
		slog.Warn("Config hot reload unavailable", "error", err)
	} else {
		defer stopWatch()
	}

	history := router.NewHistory(cfg.Router.HistoryFile)
	cls := classifier.New(state, history, cfg.Router.ClassifierBackend, cfg.Router.FastModelBackend)
	rtr := router.New(state, history)
	disp := dispatch.New(cfg.PremiumAPIKey)

	registry := tools.NewRegistry()
	ws := tools.NewWebSearch()
	if err := registry.Register(tools.WebSearchDefinition, ws.Handle); err != nil {
		log.Fatalf("FATAL: could not register web_search: %v", err)
	}

	stats := observability.NewStats()
	ring := observability.NewRingBuffer(observability.DefaultRingCapacity)

	var arch *archive.Archive
	var sink pipeline.Archiver
	if cfg.Archive.Enabled {
		arch, err = archive.New(context.Background(), cfg.Archive)
		if err != nil {
			slog.Warn("Archive disabled", "error", err)
			arch = nil
		} else {
			sink = arch
			slog.Info("Archive connected", "database", cfg.Archive.Database,
				"collection", cfg.Archive.Collection)
		}
	}

	pipe := pipeline.New(state, cls, rtr, history, disp, registry, stats, ring, sink,
		pipeline.Options{
			RouterEnabled:     cfg.Router.Enabled,
			AutoSearchSalvage: cfg.Router.AutoSearchSalvage,
			CaptureBodies:     cfg.Logging.CaptureBodies,
			MaxBodyBytes:      cfg.Logging.MaxBodyBytes,
		})

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware("relay-gateway"))
	routes.Register(engine, handlers.NewProxyHandler(pipe),
		handlers.NewDebugHandler(state, stats, ring, history, cls, disp, arch))

	// Metrics live on their own listener so scrapes never contend with
	// proxy traffic.
	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: observability.MetricsHandler(stats),
	}
	go func() {
		slog.Info("Metrics listener started", "port", cfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Metrics listener failed", "error", err)
		}
	}()

	server := &http.Server{Addr: ":" + cfg.Port, Handler: engine}
	go func() {
		slog.Info("Gateway started", "port", cfg.Port,
			"backends", len(cfg.Backends), "default", cfg.DefaultBackend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Metrics shutdown failed", "error", err)
	}

	history.Save()
	if arch != nil {
		if err := arch.Close(shutdownCtx); err != nil {
			slog.Error("Archive close failed", "error", err)
		}
	}
}
