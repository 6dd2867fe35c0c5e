package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/changeware/flowgate/internal/approval"
	"github.com/changeware/flowgate/internal/bridge"
	"github.com/changeware/flowgate/internal/config"
	"github.com/changeware/flowgate/internal/discord"
	"github.com/changeware/flowgate/internal/engine"
	"github.com/changeware/flowgate/internal/manifest"
	"github.com/changeware/flowgate/internal/mcp"
	"github.com/changeware/flowgate/internal/protocol"
	"github.com/changeware/flowgate/internal/provider"
	"github.com/changeware/flowgate/internal/telegram"
	"github.com/changeware/flowgate/internal/tools"
)

var (
	manifestPath string
	providerName string
	mockMode     bool
)

var rootCmd = &cobra.Command{
	Use:   "flowgate",
	Short: "Gated change-delivery pipelines: classify, check, approve, roll out",
}

var runCmd = &cobra.Command{
	Use:   "run [message]",
	Short: "Execute a pipeline run from the terminal",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(strings.Join(args, " "))
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <manifest>",
	Short: "Validate a pipeline manifest without running it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := manifest.Load(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("OK: %s v%s — %d steps, %d edges\n", m.ID, m.Version, len(m.Nodes), len(m.Edges))
		return nil
	},
}

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Print the built-in change pipeline as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := manifest.ChangePipeline().EncodeYAML()
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the websocket daemon with remote approval surfaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&manifestPath, "manifest", "m", "", "Path to a pipeline manifest (default: built-in change pipeline)")
	rootCmd.PersistentFlags().StringVarP(&providerName, "provider", "p", "", "Completion provider override (anthropic, openai, local, mock)")
	rootCmd.PersistentFlags().BoolVar(&mockMode, "mock", false, "Force mock provider and simulated tools")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(pipelineCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func loadManifest() (*manifest.Manifest, error) {
	if manifestPath == "" {
		return manifest.ChangePipeline(), nil
	}
	return manifest.Load(manifestPath)
}

func buildProvider(store *config.Store) (provider.Provider, error) {
	settings := store.Get()
	name := settings.Provider.Provider
	if providerName != "" {
		name = providerName
	}
	if mockMode {
		name = "mock"
	}
	return provider.New(provider.Config{
		Provider: name,
		APIKey:   settings.Provider.APIKeyFor(name),
		Model:    settings.Provider.Model,
		BaseURL:  settings.Provider.BaseURL,
	})
}

// buildInvoker returns the MCP hub when servers are configured and mock mode
// is off; otherwise the simulated toolset.
func buildInvoker(ctx context.Context, store *config.Store) (tools.Invoker, func(), error) {
	settings := store.Get()
	if !mockMode && len(settings.Tools.MCPServers) > 0 {
		hub := mcp.NewHub()
		connected := 0
		for name, sc := range settings.Tools.MCPServers {
			if sc.Disabled {
				continue
			}
			err := hub.Connect(ctx, name, mcp.ServerConfig{
				Command: sc.Command,
				Args:    sc.Args,
				Env:     sc.Env,
			})
			if err != nil {
				log.Printf("[Main] MCP server %s unavailable: %v", name, err)
				continue
			}
			connected++
		}
		if connected > 0 {
			return hub, func() { hub.Close() }, nil
		}
		hub.Close()
		log.Println("[Main] No MCP servers reachable, falling back to simulated tools")
	}
	return tools.NewSimToolset(tools.SimConfig{}), func() {}, nil
}

func runPipeline(message string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
	}()

	store, err := config.NewStore()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	prov, err := buildProvider(store)
	if err != nil {
		return err
	}

	invoker, closeInvoker, err := buildInvoker(ctx, store)
	if err != nil {
		return err
	}
	defer closeInvoker()

	m, err := loadManifest()
	if err != nil {
		return err
	}

	runner, err := engine.NewRunner(m, prov, invoker, consoleObserver{})
	if err != nil {
		return err
	}

	if err := runner.Run(ctx, message); err != nil {
		return err
	}

	// Runs that reach a human approval step suspend; decide on stdin and
	// resume until the run terminates.
	reader := bufio.NewReader(os.Stdin)
	for {
		snap := runner.State().Snapshot()
		if snap.Status != string(engine.StatusWaiting) {
			break
		}
		if snap.Approval != nil {
			printApproval(*snap.Approval)
		}
		fmt.Print("Approve? [y/N] ")
		line, _ := reader.ReadString('\n')
		line = strings.TrimSpace(strings.ToLower(line))
		if line == "y" || line == "yes" {
			err = runner.Approve(ctx, "cli")
		} else {
			err = runner.Reject(ctx, "cli", "rejected at terminal")
		}
		if err != nil {
			return err
		}
	}

	final := runner.State().Snapshot()
	fmt.Printf("Run %s finished with status %s (outcome: %v)\n", final.RunID, final.Status, final.Variables["outcome"])
	if final.Status == string(engine.StatusError) {
		os.Exit(1)
	}
	return nil
}

func printApproval(req protocol.ApprovalRequest) {
	fmt.Printf("\n⏳ Approval needed: %s\n", req.Title)
	for name, ok := range req.Checks {
		mark := "pass"
		if !ok {
			mark = "fail"
		}
		fmt.Printf("  %-12s %s\n", name, mark)
	}
	if req.Diff != "" {
		fmt.Println(strings.Repeat("─", 50))
		fmt.Println(req.Diff)
		fmt.Println(strings.Repeat("─", 50))
	}
}

func serve() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
	}()

	store, err := config.NewStore()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	settings := store.Get()

	invoker, closeInvoker, err := buildInvoker(ctx, store)
	if err != nil {
		return err
	}
	defer closeInvoker()

	// The bridge owns the runner lifecycle: each "run" command builds a
	// fresh runner observed by the bridge and the shared approval broker.
	// The broker fans pending approvals out to every configured surface and
	// routes decisions back through the bridge to the active run.
	var broker *approval.Broker

	factory := func(obs engine.Observer) (*engine.Runner, error) {
		prov, err := buildProvider(store)
		if err != nil {
			return nil, err
		}
		m, err := loadManifest()
		if err != nil {
			return nil, err
		}
		return engine.NewRunner(m, prov, invoker, engine.MultiObserver{obs, broker})
	}

	server := bridge.NewServer(settings.Bridge.Port, factory)
	broker = approval.NewBroker(server)
	broker.AddSurface(server)

	if settings.Approvals.TelegramToken != "" {
		tgBot, err := telegram.New(
			settings.Approvals.TelegramToken,
			settings.Approvals.TelegramChatID,
			settings.Approvals.AllowedUserIDs,
			broker,
		)
		if err != nil {
			log.Printf("Warning: Failed to create Telegram bot: %v. Telegram approvals disabled.", err)
		} else {
			broker.AddSurface(tgBot)
			go tgBot.Start(ctx)
			log.Println("Telegram approval surface started")
		}
	}

	if settings.Approvals.DiscordToken != "" {
		db, err := discord.New(settings.Approvals.DiscordToken, settings.Approvals.DiscordChannelID, broker)
		if err != nil {
			log.Printf("Warning: Failed to create Discord bot: %v. Discord approvals disabled.", err)
		} else if err := db.Start(); err != nil {
			log.Printf("Warning: Failed to start Discord bot: %v", err)
		} else {
			broker.AddSurface(db)
			defer db.Stop()
			log.Println("Discord approval surface started")
		}
	}

	return server.Start(ctx)
}

// consoleObserver prints run activity to the terminal
type consoleObserver struct{}

func (consoleObserver) OnStateChange(snap protocol.RunSnapshot) {
	log.Printf("[Run] step=%s status=%s", snap.StepID, snap.Status)
}

func (consoleObserver) OnMessage(msg protocol.Message) {
	fmt.Printf("%s > %s\n", msg.Role, msg.Content)
}
