package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	flag "github.com/spf13/pflag"
	jww "github.com/spf13/jwalterweatherman"

	"dm-go/internal/config"
	"dm-go/internal/logging"
	"dm-go/internal/models"
	"dm-go/internal/storage"
)

func usage() {
	fmt.Println("使用方法:")
	fmt.Println("  admin [-c config.yaml] list-users                     - 列出所有用户")
	fmt.Println("  admin [-c config.yaml] show-conversation <userA> <userB> - 显示两个用户之间的消息 (不会标记已读)")
	fmt.Println("  admin [-c config.yaml] unseen <userID>                 - 按发送者统计用户的未读消息")
}

func main() {
	configPath := flag.StringP("config", "c", "", "配置文件路径")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		jww.FATAL.Fatalf("无法加载配置: %v", err)
	}
	logging.Init(cfg.LogLevel)

	db, err := storage.InitDB(cfg.Database)
	if err != nil {
		jww.FATAL.Fatalf("无法连接数据库: %v", err)
	}

	userRepo := storage.NewGormUserRepository(db)
	messageRepo := storage.NewGormMessageRepository(db)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "list-users":
		users, err := userRepo.ListOthers(ctx, 0)
		if err != nil {
			jww.FATAL.Fatalf("查询用户失败: %v", err)
		}
		fmt.Printf("共 %d 个用户:\n", len(users))
		for _, u := range users {
			fmt.Printf("  ID: %d, 用户名: %s, 昵称: %s, 邮箱: %s\n", u.ID, u.Username, u.Nickname, u.Email)
		}

	case "show-conversation":
		if len(args) < 3 {
			usage()
			os.Exit(1)
		}
		userA := mustParseID(args[1])
		userB := mustParseID(args[2])

		msgs, err := messageRepo.ListBetween(ctx, userA, userB)
		if err != nil {
			jww.FATAL.Fatalf("查询消息失败: %v", err)
		}
		models.SortNewestFirst(msgs)
		fmt.Printf("用户 %d 与 %d 之间共 %d 条消息 (最新在前):\n", userA, userB, len(msgs))
		for _, m := range msgs {
			flags := ""
			if m.Seen {
				flags += " [已读]"
			}
			if m.Deleted {
				flags += " [已删除]"
			}
			fmt.Printf("  #%d %s %d -> %d: %q", m.ID, m.CreatedAt.Format(time.RFC3339), m.SenderID, m.ReceiverID, m.Text)
			if m.Image != "" {
				fmt.Printf(" 图片: %s", m.Image)
			}
			fmt.Println(flags)
		}

	case "unseen":
		if len(args) < 2 {
			usage()
			os.Exit(1)
		}
		userID := mustParseID(args[1])
		counts, err := messageRepo.UnseenCounts(ctx, userID)
		if err != nil {
			jww.FATAL.Fatalf("统计未读消息失败: %v", err)
		}
		if len(counts) == 0 {
			fmt.Printf("用户 %d 没有未读消息\n", userID)
			return
		}
		for senderID, n := range counts {
			fmt.Printf("  来自用户 %d: %d 条未读\n", senderID, n)
		}

	default:
		fmt.Printf("未知命令: %s\n", args[0])
		usage()
		os.Exit(1)
	}
}

func mustParseID(s string) uint {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil || id == 0 {
		jww.FATAL.Fatalf("无效的用户ID: %s", s)
	}
	return uint(id)
}
