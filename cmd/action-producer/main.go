package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"

	"github.com/waterpolo-stats/internal/domain"
	"github.com/waterpolo-stats/internal/kafka"
)

var playerNames = []string{
	"Avery", "Blake", "Casey", "Devon", "Emery", "Finley", "Gray", "Harper", "Indy", "Jordan",
	"Kai", "Logan", "Morgan", "Noel", "Oakley", "Parker", "Quinn", "Reese", "Sage", "Taylor",
}

// playActions are the in-play actions the replay picks from, weighted by repetition
var playActions = []domain.ActionType{
	domain.ActionShot, domain.ActionShot, domain.ActionShot,
	domain.ActionSteal, domain.ActionSteal,
	domain.ActionTurnover, domain.ActionTurnover,
	domain.ActionExclusion,
	domain.ActionBlock,
	domain.ActionGoal,
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "waterpolo-game-commands", "Kafka commands topic")
	gameID := flag.String("game", "", "ID of an existing game to drive (required)")
	rosterSize := flag.Int("players", 9, "Players per side")
	actionsPerSecond := flag.Int("rate", 2, "Actions per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = until the game ends)")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed for the replay")
	rosterOnly := flag.Bool("roster-only", false, "Only add rosters and start the game")
	flag.Parse()

	if *gameID == "" {
		fmt.Fprintln(os.Stderr, "-game is required; create the game with POST /api/v1/games first")
		os.Exit(2)
	}
	if *rosterSize < 1 || *rosterSize > len(playerNames) {
		log.Fatalf("players must be between 1 and %d", len(playerNames))
	}
	rng := rand.New(rand.NewSource(*seed))

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  Water Polo Command Producer")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Brokers:          %s\n", *brokers)
	fmt.Printf("  Topic:            %s\n", *topic)
	fmt.Printf("  Game:             %s\n", *gameID)
	fmt.Printf("  Players/side:     %d\n", *rosterSize)
	fmt.Printf("  Actions/sec:      %d\n", *actionsPerSecond)
	fmt.Printf("  Seed:             %d\n", *seed)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	producer, err := sarama.NewAsyncProducer(strings.Split(*brokers, ","), kafka.NewProducerConfig())
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	// Handle producer errors and successes
	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	finish := func(reason string) {
		fmt.Printf("\n\n%s\n", reason)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("\n✓ Completed. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	// Every command for a game shares its key so they stay on one partition
	send := func(cmd domain.Command) {
		cmd.GameID = *gameID
		cmd.IssuedAt = time.Now().UTC()
		data, err := json.Marshal(cmd)
		if err != nil {
			log.Printf("Failed to marshal command: %v", err)
			return
		}
		producer.Input() <- &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(*gameID),
			Value: sarama.ByteEncoder(data),
		}
	}

	// Rosters
	for _, side := range []domain.Side{domain.SideHome, domain.SideAway} {
		for i := 0; i < *rosterSize; i++ {
			send(domain.Command{
				Command:    domain.CommandAddPlayer,
				Side:       side,
				PlayerName: fmt.Sprintf("%s %s", playerNames[i], strings.ToUpper(string(side[:1]))),
				CapNumber:  i + 1,
				IsGoalie:   i == 0,
			})
		}
	}
	send(domain.Command{Command: domain.CommandStart})
	fmt.Printf("✓ Sent rosters (%d per side) and start\n\n", *rosterSize)

	if *rosterOnly {
		finish("Roster-only mode: exiting after start")
		return
	}

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	interval := time.Second / time.Duration(max(1, *actionsPerSecond))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var endTime time.Time
	if *duration > 0 {
		endTime = time.Now().Add(*duration)
	}

	var actionCount int64
	for {
		select {
		case <-sigChan:
			finish("Shutting down...")
			return

		case <-ticker.C:
			if *duration > 0 && time.Now().After(endTime) {
				send(domain.Command{Command: domain.CommandEndGame})
				finish("Duration reached, ending the game...")
				return
			}

			side := domain.SideHome
			if rng.Intn(2) == 1 {
				side = domain.SideAway
			}
			action := playActions[rng.Intn(len(playActions))]
			// Field players only; cap 1 is the goalie
			capNumber := 1 + rng.Intn(*rosterSize)
			if *rosterSize > 1 {
				capNumber = 2 + rng.Intn(*rosterSize-1)
			}

			cmd := domain.Command{
				Command:      domain.CommandAction,
				Side:         side,
				ActionType:   action,
				PlayerNumber: domain.IntPtr(capNumber),
			}
			if action == domain.ActionShot && rng.Intn(10) == 0 {
				cmd.IsFiveMeterShot = true
			}
			send(cmd)
			send(domain.Command{Command: domain.CommandPossession, Side: side.Opponent()})

			// A goal stops the clock until the restart
			if action == domain.ActionGoal {
				send(domain.Command{Command: domain.CommandResume})
			}
			atomic.AddInt64(&actionCount, 1)

		case <-statsTicker.C:
			fmt.Printf("[%s] Actions: %d | Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				atomic.LoadInt64(&actionCount),
				atomic.LoadInt64(&successCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}
}
