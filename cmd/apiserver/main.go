package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	flag "github.com/spf13/pflag"
	jww "github.com/spf13/jwalterweatherman"

	"dm-go/internal/auth"
	"dm-go/internal/config"
	"dm-go/internal/delivery"
	"dm-go/internal/handlers/apiserver"
	appKafka "dm-go/internal/kafka"
	"dm-go/internal/logging"
	appRedis "dm-go/internal/redis"
	"dm-go/internal/services"
	"dm-go/internal/storage"
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
	jww.INFO.Printf("%s API 服务器 v%s 配置加载成功。", cfg.AppName, cfg.AppVersion)

	// 2. 初始化数据库连接
	db, err := storage.InitDB(cfg.Database)
	if err != nil {
		jww.FATAL.Fatalf("无法初始化数据库: %v", err)
	}
	if err := storage.AutoMigrateTables(db); err != nil {
		jww.FATAL.Fatalf("无法迁移数据库表: %v", err)
	}

	// 3. Token 黑名单: 配置了 Redis 时所有实例共享，否则只在本进程有效
	var blacklist auth.TokenBlacklist
	if cfg.Redis.Addr != "" {
		redisClient, err := appRedis.NewClient(context.Background(), cfg.Redis)
		if err != nil {
			jww.FATAL.Fatalf("无法连接到 Redis: %v", err)
		}
		defer redisClient.Close()
		blacklist = appRedis.NewRedisTokenBlacklist(redisClient)
	} else {
		jww.WARN.Println("未配置 REDIS.ADDR，使用进程内 Token 黑名单。")
		blacklist = auth.NewMemoryBlacklist()
	}

	// 4. Kafka 生产者: API 服务器不持有 WebSocket 连接，推送事件经投递主题转给 Chat 服务器
	kfkProducer, err := appKafka.NewConfluentKafkaProducer(cfg.Kafka)
	if err != nil {
		jww.FATAL.Fatalf("无法创建 Kafka 生产者: %v", err)
	}
	defer kfkProducer.Close()
	broadcaster := delivery.NewKafkaBroadcaster(kfkProducer, cfg.Kafka.DeliveryTopic)

	// 5. 存储服务
	if cfg.Storage.Type != "local" {
		jww.FATAL.Fatalf("不支持的存储类型: %s", cfg.Storage.Type)
	}
	fileStore, err := storage.NewLocalStorageService(cfg.Storage)
	if err != nil {
		jww.FATAL.Fatalf("无法初始化本地存储服务: %v", err)
	}

	// 6. Repositories / Services / Handlers
	userRepo := storage.NewGormUserRepository(db)
	messageRepo := storage.NewGormMessageRepository(db)

	authService := services.NewAuthService(userRepo, blacklist, cfg.Auth)
	userService := services.NewUserService(userRepo)
	conversationService := services.NewConversationService(messageRepo, userRepo, broadcaster)

	router := apiserver.NewRouter(apiserver.RouterConfig{
		Auth:            apiserver.NewAuthHandler(authService, userService),
		Users:           apiserver.NewUserHandler(userService),
		Messages:        apiserver.NewMessageHandler(conversationService),
		Upload:          apiserver.NewUploadHandler(fileStore, cfg.Storage),
		JWTSecretKey:    cfg.Auth.JWTSecretKey,
		Blacklist:       blacklist,
		UploadDir:       cfg.Storage.LocalPath,
		UploadURLPrefix: cfg.Storage.BaseURL,
	})

	// 7. CORS 和访问日志
	corsOptions := []handlers.CORSOption{
		handlers.AllowedOrigins(cfg.APIServer.CORS.AllowedOrigins),
		handlers.AllowedMethods(cfg.APIServer.CORS.AllowedMethods),
		handlers.AllowedHeaders(cfg.APIServer.CORS.AllowedHeaders),
		handlers.ExposedHeaders(cfg.APIServer.CORS.ExposedHeaders),
		handlers.MaxAge(cfg.APIServer.CORS.MaxAge),
	}
	if cfg.APIServer.CORS.AllowCredentials {
		corsOptions = append(corsOptions, handlers.AllowCredentials())
	}
	handler := handlers.LoggingHandler(jww.INFO.Writer(), handlers.CORS(corsOptions...)(router))

	serverAddr := fmt.Sprintf("%s:%s", cfg.APIServer.Host, cfg.APIServer.Port)
	srv := &http.Server{
		Addr:           serverAddr,
		Handler:        handler,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		IdleTimeout:    60 * time.Second,
	}

	go func() {
		jww.INFO.Printf("API 服务器启动于 %s", serverAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			jww.FATAL.Fatalf("API 服务器启动失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	jww.INFO.Println("收到关闭信号，正在关闭 API 服务器...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		jww.ERROR.Printf("API 服务器强制关闭: %v", err)
	}
	jww.INFO.Println("API 服务器已成功关闭")
}
