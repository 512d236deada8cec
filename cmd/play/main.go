// Command play is a terminal client: it connects to the shared store,
// runs the game engine for one identity and maps stdin commands to
// engine operations.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"oxgame/internal/config"
	"oxgame/internal/engine"
	"oxgame/internal/logger"
	"oxgame/internal/remote"
	"oxgame/internal/store"
)

func main() {
	uid := flag.String("uid", "", "identity to play as (default: random)")
	flag.Parse()

	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogJSON)

	if *uid == "" {
		*uid = uuid.NewString()
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("connect store", "error", err)
	}
	defer st.Close()

	eng := engine.New(st, *uid, render)
	if err := eng.Start(ctx); err != nil {
		logger.Fatal("start engine", "error", err)
	}
	defer eng.Close()

	fmt.Printf("playing as %s\n", *uid)
	fmt.Println("commands: search, cancel, click N, rematch, leave, nick NAME, top, quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		cmd, arg, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		switch cmd {
		case "":
		case "search":
			eng.StartSearch(ctx)
		case "cancel":
			eng.CancelSearch(ctx)
		case "click":
			cell, err := strconv.Atoi(strings.TrimSpace(arg))
			if err != nil {
				fmt.Println("usage: click N (0-8)")
				continue
			}
			eng.ClickCell(ctx, cell)
		case "rematch":
			eng.RequestRematch(ctx)
		case "leave":
			eng.Leave(ctx)
		case "nick":
			eng.SaveNickname(ctx, strings.TrimSpace(arg))
		case "top":
			printLeaderboard(ctx, eng)
		case "quit", "exit":
			return
		default:
			fmt.Printf("unknown command %q\n", cmd)
		}
	}
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.RedisAddr != "" {
		return store.NewRedis(cfg.RedisAddr), nil
	}
	return remote.Dial(ctx, cfg.StoreURL)
}

// render prints the latest snapshot. Views arrive coalesced on a
// dedicated goroutine, so printing here never blocks the engine.
func render(v engine.View) {
	fmt.Println()
	for row := 0; row < 3; row++ {
		cells := make([]string, 3)
		for col := 0; col < 3; col++ {
			i := row*3 + col
			if c := v.Board[i]; c == '.' {
				cells[col] = strconv.Itoa(i)
			} else {
				cells[col] = string(c)
			}
		}
		fmt.Println(" " + strings.Join(cells, " | "))
		if row < 2 {
			fmt.Println("---+---+---")
		}
	}
	fmt.Printf("[%d] %s\n> ", v.Rating, v.Status)
}

func printLeaderboard(ctx context.Context, eng *engine.Engine) {
	entries, err := eng.Leaderboard(ctx, 10)
	if err != nil {
		fmt.Println("leaderboard:", err)
		return
	}
	for i, e := range entries {
		name := e.Nickname
		if name == "" {
			name = e.UID
		}
		fmt.Printf("%2d. %-20s %d\n", i+1, name, e.Rating)
	}
}
