package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	flag "github.com/spf13/pflag"
	jww "github.com/spf13/jwalterweatherman"

	"dm-go/internal/client"
	"dm-go/internal/imtypes"
	"dm-go/internal/logging"
)

const help = `命令:
  /peers            列出会话和未读数
  /open <userID>    打开会话
  /close            关闭当前会话
  /del <messageID>  删除自己发送的消息
  /online           显示在线用户
  /quit             退出
其他输入作为文本发给当前会话。`

func main() {
	apiURL := flag.String("api", "http://localhost:8081", "API 服务器地址")
	wsURL := flag.String("ws", "ws://localhost:8080/ws/chat", "Chat 服务器 WebSocket 地址")
	username := flag.StringP("user", "u", "", "用户名或邮箱")
	password := flag.StringP("password", "p", "", "密码")
	logLevel := flag.String("log-level", "warn", "日志级别")
	flag.Parse()

	logging.Init(*logLevel)
	if *username == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "需要 --user 和 --password")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api, selfID, err := client.Login(ctx, *apiURL, *username, *password)
	if err != nil {
		jww.FATAL.Fatalf("登录失败: %v", err)
	}
	state := client.NewState(api, selfID)

	stream, err := client.Dial(ctx, *wsURL, api.Token())
	if err != nil {
		jww.FATAL.Fatalf("无法连接事件流: %v", err)
	}
	defer stream.Close()

	go func() {
		err := stream.Run(ctx, func(ctx context.Context, ev imtypes.Event) {
			state.ApplyEvent(ctx, ev)
			printEvent(state, ev)
		})
		if err != nil {
			jww.ERROR.Printf("事件流断开: %v", err)
		}
		stop()
	}()

	if _, err := state.LoadPeers(ctx); err != nil {
		jww.ERROR.Printf("加载会话列表失败: %v", err)
	}
	fmt.Printf("已登录为用户 %s\n%s\n", selfID, help)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := handleLine(ctx, state, strings.TrimSpace(line)); quit {
				return
			}
		}
	}
}

func handleLine(ctx context.Context, state *client.State, line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if _, err := state.Send(ctx, imtypes.SendMessageRequest{Text: line}); err != nil {
			fmt.Printf("! 发送失败: %v\n", err)
		}
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return true
	case "/peers":
		peers, err := state.LoadPeers(ctx)
		if err != nil {
			fmt.Printf("! %v\n", err)
			return false
		}
		for _, p := range peers {
			mark := " "
			if state.IsOnline(p.UserID) {
				mark = "*"
			}
			fmt.Printf("%s %-6s %-16s 未读 %d\n", mark, p.UserID, p.Username, state.Unseen(p.UserID))
		}
	case "/open":
		if len(fields) < 2 {
			fmt.Println(help)
			return false
		}
		msgs, err := state.Open(ctx, fields[1])
		if err != nil {
			fmt.Printf("! %v\n", err)
			return false
		}
		// 最新在前，打印时倒过来
		for i := len(msgs) - 1; i >= 0; i-- {
			printMessage(msgs[i])
		}
	case "/close":
		state.Close()
	case "/del":
		if len(fields) < 2 {
			fmt.Println(help)
			return false
		}
		if _, err := state.Delete(ctx, fields[1]); err != nil {
			fmt.Printf("! 删除失败: %v\n", err)
		}
	case "/online":
		fmt.Printf("在线: %s\n", strings.Join(state.Online(), ", "))
	default:
		fmt.Println(help)
	}
	return false
}

func printEvent(state *client.State, ev imtypes.Event) {
	if ev.Message == nil {
		return
	}
	peer := ev.Message.SenderID
	if peer == state.SelfID() {
		peer = ev.Message.ReceiverID
	}
	switch {
	case peer == state.OpenPeer():
		printMessage(*ev.Message)
	case ev.Type == imtypes.EventNewMessage:
		fmt.Printf("* 用户 %s 发来新消息 (未读 %d)\n", peer, state.Unseen(peer))
	}
}

func printMessage(m imtypes.Message) {
	status := ""
	if m.Seen {
		status = " ✓"
	}
	body := m.Text
	if m.Image != "" {
		body = strings.TrimSpace(body + " [图片 " + m.Image + "]")
	}
	fmt.Printf("[%s] #%s %s: %s%s\n", m.CreatedAt.Local().Format("15:04"), m.ID, m.SenderID, body, status)
}
