package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aria-assistant/aria/internal/capability"
	"github.com/aria-assistant/aria/internal/config"
	"github.com/aria-assistant/aria/internal/inference"
	"github.com/aria-assistant/aria/internal/logging"
	"github.com/aria-assistant/aria/internal/pipeline"
	"github.com/aria-assistant/aria/internal/store"
	"github.com/aria-assistant/aria/internal/window"
)

const version = "0.1.0"

// ollamaSummarizer adapts the inference client to the window manager's
// summarizer interface.
type ollamaSummarizer struct {
	client *inference.Client
}

func (s ollamaSummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	result, err := s.client.GenerateSync(ctx, prompt)
	if err != nil {
		return "", err
	}
	return result.Response, nil
}

func main() {
	configPath := flag.String("config", "aria.yaml", "path to config file")
	userID := flag.String("user", "local", "user identity for this session")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging, os.Stderr)

	printBanner(cfg.Persona.Name)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()
		os.Exit(0)
	}()

	client := inference.NewClient(&inference.Config{
		OllamaURL:   cfg.Inference.OllamaURL,
		Model:       cfg.Inference.Model,
		ContextSize: cfg.Inference.ContextSize,
		Temperature: cfg.Inference.Temperature,
		Timeout:     cfg.Inference.Timeout.Std(),
	})

	if models, err := client.ListModels(ctx); err != nil {
		logger.Warn().Err(err).Msg("could not reach Ollama, inference calls will fail until it is up")
	} else {
		found := false
		for _, m := range models {
			if m == cfg.Inference.Model {
				found = true
				break
			}
		}
		if !found {
			logger.Warn().Str("model", cfg.Inference.Model).Msg("configured model not present on Ollama")
		}
	}

	db, err := store.Open(cfg.Storage.SQLitePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	personal, err := capability.NewBadgerPersonalStore(cfg.Storage.BadgerPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open personal store")
	}
	defer personal.Close()

	registry := buildRegistry(cfg, personal)

	var locker window.Locker = window.NopLocker{}
	if cfg.Storage.RedisURL != "" {
		redisLock, err := window.NewRedisLock(cfg.Storage.RedisURL, cfg.Storage.RedisPassword, cfg.Storage.RedisDB, cfg.Window.LockTTL.Std())
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, compaction runs unlocked")
		} else {
			locker = redisLock
			defer redisLock.Close()
		}
	}

	var topics *window.TopicGraph
	if cfg.Storage.TopicGraph && cfg.Storage.DgraphAlphaURL != "" {
		topics, err = window.NewTopicGraph(cfg.Storage.DgraphAlphaURL)
		if err != nil {
			logger.Warn().Err(err).Msg("Dgraph unavailable, topic graph disabled")
			topics = nil
		} else {
			defer topics.Close()
		}
	}

	manager := window.NewManager(db, ollamaSummarizer{client}, locker, topics, cfg.Window.Interval, logger)
	queue := window.NewQueue(manager, cfg.Window.Workers, cfg.Window.QueueSize, cfg.Inference.Timeout.Std(), logger)
	defer queue.Stop()

	p := pipeline.New(pipeline.Options{
		Client:         client,
		Registry:       registry,
		Windows:        manager,
		Persister:      db,
		Audit:          db,
		Compaction:     queue,
		Persona:        cfg.Persona,
		RequestTimeout: cfg.Pipeline.RequestTimeout.Std(),
		CacheTTL:       cfg.Pipeline.AssessmentCacheTTL.Std(),
		Logger:         logger,
	})

	repl(ctx, p, topics, *userID, cfg.Persona.Name)
}

func buildRegistry(cfg *config.Config, personal *capability.BadgerPersonalStore) *capability.Registry {
	registry := capability.NewRegistry()

	handlers := map[string]capability.Handler{
		"get_weather":      capability.NewWeatherHandler(),
		"web_search":       capability.NewSearchHandler(),
		"current_datetime": capability.NewDatetimeHandler(nil),
		"personal_var":     capability.NewPersonalVarHandler(personal),
	}

	for _, cc := range cfg.Capabilities {
		handler, ok := handlers[cc.Name]
		if !ok {
			continue
		}
		if err := registry.Register(capability.DefinitionFromConfig(cc), handler); err != nil {
			continue
		}
		if cc.RequestsPerHour > 0 {
			registry.SetRateLimit(cc.Name, cc.RequestsPerHour)
		}
	}
	return registry
}

func repl(ctx context.Context, p *pipeline.Pipeline, topics *window.TopicGraph, userID, name string) {
	scanner := bufio.NewScanner(os.Stdin)
	conversationID := ""

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fmt.Print("You: ")
		if !scanner.Scan() {
			return
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if done := handleCommand(ctx, input, &conversationID, topics, userID); done {
				return
			}
			continue
		}

		result := p.ProcessQuestion(ctx, userID, conversationID, input)
		conversationID = result.ConversationID

		fmt.Printf("\n%s: %s\n", name, result.Response)
		fmt.Printf("   [topic: %s | %.1fs]\n\n", result.Topic, result.ProcessingTime.Seconds())
	}
}

func handleCommand(ctx context.Context, input string, conversationID *string, topics *window.TopicGraph, userID string) bool {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/quit", "/exit":
		fmt.Println("Bye!")
		return true
	case "/new":
		*conversationID = ""
		fmt.Println("Started a new conversation.")
	case "/topics":
		showTopic(ctx, topics, userID, fields[1:])
	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /new            start a new conversation")
		fmt.Println("  /topics <name>  list past conversations about a topic")
		fmt.Println("  /quit           exit")
	default:
		fmt.Printf("Unknown command %q (try /help)\n", input)
	}
	return false
}

func showTopic(ctx context.Context, topics *window.TopicGraph, userID string, args []string) {
	if topics == nil {
		fmt.Println("The topic graph is not configured.")
		return
	}
	if len(args) != 1 {
		fmt.Println("Usage: /topics <name>")
		return
	}

	convs, err := topics.ConversationsByTopic(ctx, userID, strings.ToLower(args[0]))
	if err != nil {
		fmt.Printf("Topic lookup failed: %v\n", err)
		return
	}
	if len(convs) == 0 {
		fmt.Printf("No conversations found about %q.\n", args[0])
		return
	}

	fmt.Printf("Conversations about %q:\n", args[0])
	for _, id := range convs {
		fmt.Printf("  %s\n", id)
	}
}

func printBanner(name string) {
	fmt.Printf("%s v%s\n", name, version)
	fmt.Println("Type a question, or /help for commands.")
	fmt.Println()
}
