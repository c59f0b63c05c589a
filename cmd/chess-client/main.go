package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-online/internal/config"
	"github.com/park285/cheese-online/internal/msgcat"
	"github.com/park285/cheese-online/internal/obslog"
	"github.com/park285/cheese-online/internal/roomapi"
	"github.com/park285/cheese-online/internal/rules"
	"github.com/park285/cheese-online/internal/session"
	"github.com/park285/cheese-online/internal/transport"
)

func main() {
	if err := config.LoadDotenv(); err != nil {
		log.Fatalf("dotenv error: %v", err)
	}
	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv("chess-client"); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	ctx := context.Background()
	var store session.ResumeStore = session.NewMemoryResumeStore()
	if cfg.ResumeRedisURL != "" {
		rs, err := session.OpenRedisResumeStore(ctx, cfg.ResumeRedisURL)
		if err != nil {
			log.Fatalf("resume store init error: %v", err)
		}
		defer rs.Close()
		store = rs
	}

	tc := transport.New(cfg.CoordinatorURL, transport.Options{
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
		Logger:            logger,
	})
	ctl := session.New(cfg.PlayerName, tc, session.Options{
		Store:   store,
		Catalog: catalog,
		Logger:  logger,
		Notify:  func(n session.Notice) { fmt.Println(n.Text) },
		Timeout: cfg.RequestTimeout,
	})
	ctl.Bind(tc)
	tc.SetRejoinProvider(ctl.RejoinHint)
	tc.OnStateChange(func(s transport.State) {
		logger.Info("connection state", zap.String("state", s.String()))
		if s == transport.StateFailed {
			fmt.Println("connection lost; restart to rejoin your game")
		}
	})
	api := roomapi.New(cfg.CoordinatorHTTPURL, roomapi.WithTimeout(cfg.RequestTimeout))

	resumed, err := ctl.Resume(ctx)
	if err != nil {
		logger.Warn("resume failed", zap.Error(err))
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = tc.Connect(cctx, cfg.PlayerName, ctl.RejoinHint())
	cancel()
	if err != nil {
		log.Fatalf("connect error: %v", err)
	}
	if resumed {
		v := ctl.View()
		fmt.Printf("resuming room %s as %s\n", v.RoomID, v.Color)
		rctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
		if err := ctl.RestoreChat(rctx, api); err != nil {
			logger.Warn("chat restore failed", zap.Error(err))
		}
		cancel()
	}

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	fmt.Println(helpText)
loop:
	for {
		select {
		case <-quit:
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if !handleCommand(ctx, ctl, api, cfg.RequestTimeout, line) {
				break loop
			}
		}
	}

	dctx, dcancel := context.WithTimeout(ctx, 5*time.Second)
	defer dcancel()
	_ = tc.Disconnect(dctx)
}

const helpText = "commands: play | cancel | move <uci> | resign | say <text> | board | history | new | quit"

// handleCommand runs one input line and reports whether to keep going.
func handleCommand(ctx context.Context, ctl *session.Controller, api *roomapi.Client, timeout time.Duration, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return true
	}
	cmd, args := strings.ToLower(parts[0]), parts[1:]
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var err error
	switch cmd {
	case "help":
		fmt.Println(helpText)
	case "play":
		err = ctl.RequestPairing(cctx)
	case "cancel":
		err = ctl.CancelPairing(cctx)
	case "move", "m":
		if len(args) != 1 {
			fmt.Println("usage: move e2e4")
			return true
		}
		var res rules.Result
		res, err = ctl.SubmitUCI(cctx, args[0])
		if err == nil {
			fmt.Printf("played %s\n", res.Move.SAN)
		}
	case "resign":
		err = ctl.Resign(cctx)
	case "say":
		err = ctl.SendChat(cctx, strings.Join(args, " "))
	case "board":
		printBoard(ctl.View())
	case "history":
		err = printHistory(cctx, ctl.View(), api)
	case "new":
		err = ctl.Reset(cctx)
		if err == nil {
			fmt.Println("ready; type play to find an opponent")
		}
	case "quit", "exit":
		return false
	default:
		fmt.Println("unknown command; " + helpText)
	}
	if err != nil {
		fmt.Println(describe(err))
	}
	return true
}

func describe(err error) string {
	switch {
	case errors.Is(err, session.ErrNotYourTurn):
		return "it is not your turn"
	case errors.Is(err, session.ErrIllegalMove):
		return "illegal move"
	case errors.Is(err, session.ErrNotActive):
		return "no game in progress"
	case errors.Is(err, session.ErrInGame):
		return "finish or reset the current game first (new)"
	case errors.Is(err, transport.ErrNotConnected):
		return "not connected to the coordinator"
	}
	return err.Error()
}

func printBoard(v session.View) {
	if v.Position == "" {
		fmt.Println("no board yet")
		return
	}
	diagram, err := rules.Diagram(v.Position)
	if err != nil {
		fmt.Println(v.Position)
		return
	}
	fmt.Print(diagram)
	fmt.Printf("%s (white) vs %s (black); you are %s, %s to move\n", v.White, v.Black, v.Color, v.Turn)
	if v.Result != "" {
		fmt.Println("result: " + v.Result)
	}
}

func printHistory(ctx context.Context, v session.View, api *roomapi.Client) error {
	if v.RoomID == "" {
		return session.ErrNotActive
	}
	hist, err := api.History(ctx, v.RoomID)
	if err != nil {
		// fall back to the local mirror
		if n := len(v.Notations); n > 0 {
			fmt.Println(v.Notations[n-1])
			return nil
		}
		return err
	}
	sans := make([]string, 0, len(hist.Moves))
	for _, mv := range hist.Moves {
		sans = append(sans, mv.SAN)
	}
	fmt.Println(rules.Movetext(sans))
	if hist.Result != "" {
		fmt.Println("result: " + hist.Result)
	}
	return nil
}
