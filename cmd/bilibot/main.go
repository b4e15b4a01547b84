package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/chufeng/bilibot/pkg/bili"
	"github.com/chufeng/bilibot/pkg/bus"
	"github.com/chufeng/bilibot/pkg/channels"
	"github.com/chufeng/bilibot/pkg/config"
	"github.com/chufeng/bilibot/pkg/logger"
	"github.com/chufeng/bilibot/pkg/resolve"
)

const version = "0.1.0"
const logo = "📺"

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "onboard":
		onboard()
	case "gateway":
		gatewayCmd()
	case "resolve":
		resolveCmd()
	case "search":
		searchCmd()
	case "status":
		statusCmd()
	case "version", "--version", "-v":
		fmt.Printf("%s bilibot v%s\n", logo, version)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Printf("%s bilibot - bilibili link resolver bot v%s\n\n", logo, version)
	fmt.Println("Usage: bilibot <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  onboard     Initialize bilibot configuration")
	fmt.Println("  gateway     Start the chat gateway")
	fmt.Println("  resolve     Resolve links from a message (one-shot or interactive)")
	fmt.Println("  search      Search for a video by keyword")
	fmt.Println("  status      Show bilibot status")
	fmt.Println("  version     Show version information")
}

func onboard() {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", configPath)
		fmt.Print("Overwrite? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" {
			fmt.Println("Aborted.")
			return
		}
	}

	cfg := config.DefaultConfig()
	if err := config.SaveConfig(configPath, cfg); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s bilibot is ready!\n", logo)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Enable a channel in", configPath)
	fmt.Println("     (OneBot ws_url, Telegram or Discord bot token)")
	fmt.Println("  2. Start the gateway: bilibot gateway")
	fmt.Println("  3. Try it out: bilibot resolve BV1xx411c7mD")
}

func gatewayCmd() {
	for _, arg := range os.Args[2:] {
		if arg == "--debug" || arg == "-d" {
			logger.SetLevel(logger.DEBUG)
			fmt.Println("🔍 Debug mode enabled")
			break
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	msgBus := bus.NewMessageBus()
	resolver := buildResolver(cfg)
	loop := resolve.NewLoop(cfg, msgBus, resolver)

	channelManager, err := channels.NewManager(cfg, msgBus)
	if err != nil {
		fmt.Printf("Error creating channel manager: %v\n", err)
		os.Exit(1)
	}

	enabledChannels := channelManager.GetEnabledChannels()
	if len(enabledChannels) > 0 {
		fmt.Printf("✓ Channels enabled: %s\n", enabledChannels)
	} else {
		fmt.Println("⚠ Warning: No channels enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := channelManager.StartAll(ctx); err != nil {
		fmt.Printf("Error starting channels: %v\n", err)
	}

	go loop.Run(ctx)

	fmt.Println("✓ Gateway started")
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()
	channelManager.StopAll(ctx)
	fmt.Println("✓ Gateway stopped")
}

func resolveCmd() {
	message := ""

	args := os.Args[2:]
	var rest []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--debug", "-d":
			logger.SetLevel(logger.DEBUG)
			fmt.Println("🔍 Debug mode enabled")
		case "-m", "--message":
			if i+1 < len(args) {
				message = args[i+1]
				i++
			}
		default:
			rest = append(rest, args[i])
		}
	}
	if message == "" {
		message = strings.Join(rest, " ")
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	resolver := buildResolver(cfg)
	opts := resolve.OptionsFromConfig(cfg.Resolver)
	// Running from the terminal is always intentional.
	opts.EnableAutoParse = true

	if message != "" {
		printReplies(resolveOnce(cfg, resolver, message, opts))
		return
	}

	fmt.Printf("%s Interactive mode (Ctrl+C to exit)\n\n", logo)
	interactiveMode(cfg, resolver, opts)
}

func resolveOnce(cfg *config.Config, resolver *bili.Resolver, message string, opts bili.Options) []bili.Reply {
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout(cfg))
	defer cancel()
	return resolver.ResolveMessage(ctx, bili.Payload{Text: message}, opts)
}

func printReplies(replies []bili.Reply) {
	if len(replies) == 0 {
		fmt.Println("No bilibili links found.")
		return
	}
	for _, reply := range replies {
		fmt.Println(reply.Text)
		if reply.ImageURL != "" {
			fmt.Printf("[cover] %s\n", reply.ImageURL)
		}
		fmt.Println()
	}
}

func interactiveMode(cfg *config.Config, resolver *bili.Resolver, opts bili.Options) {
	prompt := fmt.Sprintf("%s > ", logo)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".bilibot_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})

	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		simpleInteractiveMode(cfg, resolver, opts)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return
		}

		printReplies(resolveOnce(cfg, resolver, input, opts))
	}
}

func simpleInteractiveMode(cfg *config.Config, resolver *bili.Resolver, opts bili.Options) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("%s > ", logo)
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return
		}

		printReplies(resolveOnce(cfg, resolver, input, opts))
	}
}

func searchCmd() {
	keyword := strings.TrimSpace(strings.Join(os.Args[2:], " "))
	if keyword == "" {
		fmt.Println("Usage: bilibot search <keyword>")
		os.Exit(1)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	resolver := buildResolver(cfg)
	opts := resolve.OptionsFromConfig(cfg.Resolver)
	opts.EnableSearch = true

	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout(cfg))
	defer cancel()

	reply := resolver.ResolveSearch(ctx, keyword, opts)
	if reply.Text == "" {
		fmt.Println("未找到相关视频")
		return
	}
	fmt.Println(reply.Text)
	if reply.ImageURL != "" {
		fmt.Printf("[cover] %s\n", reply.ImageURL)
	}
}

func statusCmd() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		return
	}

	configPath := getConfigPath()

	fmt.Printf("%s bilibot Status\n\n", logo)

	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("Config:", configPath, "✓")
	} else {
		fmt.Println("Config:", configPath, "✗ (using defaults)")
	}

	onOff := func(enabled bool) string {
		if enabled {
			return "enabled"
		}
		return "disabled"
	}

	fmt.Println("Auto parse:", onOff(cfg.Resolver.EnableAutoParse))
	fmt.Println("Search:", onOff(cfg.Resolver.EnableSearch))
	fmt.Println("Cover images:", onOff(cfg.Resolver.EnableImage))
	if len(cfg.Resolver.GroupList) > 0 {
		mode := "blacklist"
		if cfg.Resolver.GroupWhitelistMode {
			mode = "whitelist"
		}
		fmt.Printf("Group %s: %v\n", mode, []string(cfg.Resolver.GroupList))
	}

	fmt.Println()
	fmt.Println("OneBot channel:", onOff(cfg.Channels.OneBot.Enabled))
	fmt.Println("Telegram channel:", onOff(cfg.Channels.Telegram.Enabled))
	fmt.Println("Discord channel:", onOff(cfg.Channels.Discord.Enabled))
}

func buildResolver(cfg *config.Config) *bili.Resolver {
	timeout := resolveTimeout(cfg)
	client := bili.NewClient(timeout)
	shorts := bili.NewHTTPShortResolver(bili.NoRedirectClient(timeout))
	return bili.NewResolver(bili.NewNormalizer(shorts), bili.NewHTTPFetcher(client))
}

func resolveTimeout(cfg *config.Config) time.Duration {
	timeout := time.Duration(cfg.Resolver.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return timeout
}

func getConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".bilibot", "config.json")
}

func loadConfig() (*config.Config, error) {
	if err := loadEnvFile(".env"); err != nil {
		return nil, err
	}
	return config.LoadConfig(getConfigPath())
}
