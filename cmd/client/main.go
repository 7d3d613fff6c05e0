// Command client runs an interactive Greedy Pirates player.
//
// It connects to an orchestrator, joins under the given name and prompts for
// a bid each round. Bids travel encrypted per recipient; the terminal shows
// joins, payouts and the final scores.
//
// # Usage
//
//	go run ./cmd/client --addr=localhost:8888 --name="Anne Bonny"
//
// Enter a number in [0, treasure] when prompted, or q to quit.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/KevinWeiss1995/GreedyPirates/client"
	"github.com/KevinWeiss1995/GreedyPirates/config"
	"github.com/KevinWeiss1995/GreedyPirates/game"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		addr       = flag.String("addr", "", "Server address (host:port, overrides config)")
		name       = flag.String("name", "", "Player display name")
		playerID   = flag.String("id", "", "Player id (random if empty)")
		verbose    = flag.Bool("v", false, "Log protocol details to stderr")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}
	serverAddr := cfg.Server.Addr()
	if *addr != "" {
		serverAddr = *addr
	}

	stdin := bufio.NewScanner(os.Stdin)
	playerName := strings.TrimSpace(*name)
	for playerName == "" {
		fmt.Print("Your pirate name: ")
		if !stdin.Scan() {
			return
		}
		playerName = strings.TrimSpace(stdin.Text())
	}

	id := *playerID
	if id == "" {
		id = uuid.NewString()
	}

	logOut := io.Discard
	if *verbose {
		logOut = os.Stderr
	}
	log := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: slog.LevelDebug}))

	c, err := client.New(id, playerName, cfg.Game, log)
	if err != nil {
		fmt.Printf("Create client error: %v\n", err)
		os.Exit(1)
	}
	if err := c.Connect(context.Background(), serverAddr); err != nil {
		fmt.Printf("Connect error: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	fmt.Printf("Connected to %s as %q. Waiting for the game to start...\n", serverAddr, playerName)

	for e := range c.Events() {
		switch e.Kind {
		case client.EventPlayerJoined:
			fmt.Printf("%s joined the crew\n", e.PlayerName)

		case client.EventRoundStarted:
			fmt.Printf("\n--- Round %d --- treasure: %d\n", e.Round, cfg.Game.TreasureAmount)
			if !promptBid(c, stdin, cfg.Game.TreasureAmount) {
				return
			}

		case client.EventRoundEnded:
			printResult(e.Result, id)

		case client.EventGameOver:
			printFinalScores(e.FinalScores, c)
			return

		case client.EventServerError:
			fmt.Printf("! %s\n", e.Reason)

		case client.EventDisconnected:
			fmt.Println("Connection closed.")
			return
		}
	}
}

// promptBid reads bids from the terminal until one is accepted. Returns
// false when the player quits.
func promptBid(c *client.Client, stdin *bufio.Scanner, treasure int) bool {
	for {
		fmt.Printf("Your bid [0-%d, q to quit]: ", treasure)
		if !stdin.Scan() {
			return false
		}
		line := strings.TrimSpace(stdin.Text())
		if line == "q" || line == "quit" {
			return false
		}
		bid, err := strconv.Atoi(line)
		if err != nil {
			fmt.Println("Enter a whole number.")
			continue
		}
		if err := c.SubmitBid(bid); err != nil {
			fmt.Printf("Bid refused: %v\n", err)
			continue
		}
		fmt.Println("Bid sent. Waiting for the other pirates...")
		return true
	}
}

func printResult(result *game.PayoutResult, selfID string) {
	if result == nil {
		return
	}
	verdict := "within the treasure"
	if result.ExceededLimit {
		verdict = "over the limit! greedy bids get nothing"
	}
	fmt.Printf("Round %d over: total bid %d, %s\n", result.Round, result.TotalBid, verdict)

	ids := make([]string, 0, len(result.Payouts))
	for id := range result.Payouts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := result.Payouts[id]
		marker := " "
		if id == selfID {
			marker = "*"
		}
		fmt.Printf(" %s %-20s bid %3d -> share %3d\n", marker, p.Name, p.Bid, p.Share)
	}
}

func printFinalScores(scores map[string]int, c *client.Client) {
	fmt.Println("\n=== Game over ===")
	names := make(map[string]string)
	for _, p := range c.Roster() {
		names[p.ID] = p.Name
	}
	type row struct {
		name  string
		score int
	}
	rows := make([]row, 0, len(scores))
	for id, score := range scores {
		name := names[id]
		if name == "" {
			name = id
		}
		rows = append(rows, row{name, score})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].score > rows[j].score })
	for i, r := range rows {
		fmt.Printf(" %d. %-20s %d\n", i+1, r.name, r.score)
	}
}
