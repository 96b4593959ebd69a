package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/soheilhy/cmux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"messaging-service/internal/config"
	"messaging-service/internal/conversations"
	"messaging-service/internal/db"
	"messaging-service/internal/directory"
	"messaging-service/internal/handlers"
	"messaging-service/internal/middleware"
	"messaging-service/internal/observability"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/realtime"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/tracing"
	"messaging-service/internal/ws"
)

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()

	ctx := context.Background()
	shutdownTracing, err := tracing.Init(ctx, cfg.Otel.Endpoint, cfg.Service.Name)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(ctx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	database, err := db.Connect(cfg.DB.DSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	messageRepo := repositories.NewMessageRepo(database)
	userClient := directory.NewUserClient(cfg.Directory.UsersBaseURL, cfg.Directory.Timeout)
	catalogClient := directory.NewCatalogClient(cfg.Directory.CatalogBaseURL, cfg.Directory.Timeout)
	conversationSvc := conversations.NewService(messageRepo, userClient, catalogClient)

	broker := realtime.NewBroker(cfg.Realtime.Buffer)
	defer broker.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	log.Printf("event publisher mode=%s reason=%q",
		rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))

	audit := telemetry.NewAuditEmitter(publisher, cfg.AMQP.AuditRoutingKey, cfg.Service.Name, cfg.Service.Env)

	messageHandler := handlers.NewMessageHandler(messageRepo, conversationSvc, userClient, broker, publisher, audit)
	threadWS := ws.NewThreadSocketHandler(broker, messageRepo)
	inboxWS := ws.NewInboxSocketHandler(broker)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())
	router.Use(otelgin.Middleware(cfg.Service.Name))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, audit, cfg.Debug.Routes)

	authMiddleware := middleware.JWTAuth(cfg.Auth.JWTSecret)

	router.GET("/conversations", authMiddleware, messageHandler.ListConversations)
	router.GET("/conversations/unread-count", authMiddleware, messageHandler.UnreadCount)
	router.GET("/threads/:product_id/:counterparty_id/messages", authMiddleware, messageHandler.GetThreadMessages)
	router.POST("/threads/:product_id/:counterparty_id/messages", authMiddleware, messageHandler.PostThreadMessage)
	router.POST("/threads/:product_id/:counterparty_id/read", authMiddleware, messageHandler.MarkThreadRead)

	router.GET("/ws/inbox", authMiddleware, inboxWS.Handle)
	router.GET("/ws/threads/:product_id/:counterparty_id", authMiddleware, threadWS.Handle)

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	listener, err := net.Listen("tcp", ":"+cfg.Service.Port)
	if err != nil {
		log.Fatalf("failed to start TCP listener: %v", err)
	}

	m := cmux.New(listener)
	grpcListener := m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	httpListener := m.Match(cmux.HTTP1Fast())

	httpServer := &http.Server{Handler: router}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := m.Serve(); err != nil {
			return fmt.Errorf("cannot start service: %w", err)
		}
		return nil
	})

	log.Printf("messaging service listening on :%s", cfg.Service.Port)
	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
