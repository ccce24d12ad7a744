package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	jww "github.com/spf13/jwalterweatherman"

	"dm-go/internal/auth"
	"dm-go/internal/config"
	"dm-go/internal/delivery"
	"dm-go/internal/handlers/chatserver"
	appKafka "dm-go/internal/kafka"
	"dm-go/internal/logging"
	"dm-go/internal/middleware"
	appRedis "dm-go/internal/redis"
	"dm-go/internal/services"
	"dm-go/internal/storage"
	"dm-go/internal/websocket"
)

func main() {
	configPath := flag.StringP("config", "c", "", "配置文件路径 (默认查找 ./config/config.yaml)")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		jww.FATAL.Fatalf("无法加载配置: %v", err)
	}
	logging.Init(cfg.LogLevel)
	jww.INFO.Printf("%s Chat 服务器 v%s 配置加载成功。", cfg.AppName, cfg.AppVersion)

	// 2. 初始化数据库连接
	db, err := storage.InitDB(cfg.Database)
	if err != nil {
		jww.FATAL.Fatalf("无法初始化数据库: %v", err)
	}
	if err := storage.AutoMigrateTables(db); err != nil {
		jww.FATAL.Fatalf("无法迁移数据库表: %v", err)
	}

	// 3. Token 黑名单
	var blacklist auth.TokenBlacklist
	if cfg.Redis.Addr != "" {
		redisClient, err := appRedis.NewClient(context.Background(), cfg.Redis)
		if err != nil {
			jww.FATAL.Fatalf("无法连接到 Redis: %v", err)
		}
		defer redisClient.Close()
		blacklist = appRedis.NewRedisTokenBlacklist(redisClient)
	} else {
		jww.WARN.Println("未配置 REDIS.ADDR，使用进程内 Token 黑名单，API 服务器上的登出不会在这里生效。")
		blacklist = auth.NewMemoryBlacklist()
	}

	// 4. Hub
	hub := websocket.NewHub()

	// 5. Kafka: 所有推送先发到投递主题，再由每个实例的消费者交给本地 Hub。
	// 接收方可能连在别的实例上，所以本地发出的事件也走一遍 Kafka。
	kfkProducer, err := appKafka.NewConfluentKafkaProducer(cfg.Kafka)
	if err != nil {
		jww.FATAL.Fatalf("无法创建 Kafka 生产者: %v", err)
	}
	defer kfkProducer.Close()

	kfkConsumer, err := appKafka.NewConfluentKafkaConsumer(cfg.Kafka)
	if err != nil {
		jww.FATAL.Fatalf("无法创建 Kafka 消费者: %v", err)
	}

	// 每个实例独占一个消费者组，才能收到全部投递事件；组名在重启间保持不变
	instanceGroup := appKafka.InstanceGroupID(cfg.Kafka)
	jww.INFO.Printf("投递消费者组: %s", instanceGroup)
	relay := delivery.NewRelayHandler(delivery.NewHubBroadcaster(hub))

	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := kfkConsumer.Consume(consumerCtx, []string{cfg.Kafka.DeliveryTopic}, instanceGroup, relay); err != nil {
			jww.ERROR.Printf("投递消费者退出: %v", err)
		}
	}()

	// 6. Services / Handlers
	userRepo := storage.NewGormUserRepository(db)
	messageRepo := storage.NewGormMessageRepository(db)
	conversationService := services.NewConversationService(messageRepo, userRepo,
		delivery.NewKafkaBroadcaster(kfkProducer, cfg.Kafka.DeliveryTopic))

	wsHandler := chatserver.NewWebSocketHandler(hub, conversationService, cfg.Auth, blacklist, cfg.WebSocket)

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Server.WebSocketPath, wsHandler.ServeWS)
	mux.Handle("/online", middleware.AuthMiddleware(cfg.Auth.JWTSecretKey, blacklist)(http.HandlerFunc(wsHandler.OnlineUsers)))
	mux.Handle(cfg.Server.MetricsPath, promhttp.Handler())

	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:           serverAddr,
		Handler:        mux,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		jww.INFO.Printf("Chat 服务器启动于 %s, WebSocket 路径 %s", serverAddr, cfg.Server.WebSocketPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			jww.FATAL.Fatalf("Chat 服务器启动失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	jww.INFO.Println("收到关闭信号，正在关闭 Chat 服务器...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		jww.ERROR.Printf("Chat 服务器强制关闭: %v", err)
	}

	// 已升级的连接不归 http.Server 管理，由 Hub 统一关闭
	hub.Close()

	cancelConsumer()
	wg.Wait()
	kfkConsumer.Close()

	jww.INFO.Println("Chat 服务器已成功关闭")
}
