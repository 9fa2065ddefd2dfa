package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/polyagent/polyagent/internal/adapters/gateway"
	firestorestore "github.com/polyagent/polyagent/internal/adapters/storage/firestore"
	memstore "github.com/polyagent/polyagent/internal/adapters/storage/memory"
	"github.com/polyagent/polyagent/internal/auth"
	"github.com/polyagent/polyagent/internal/config"
	"github.com/polyagent/polyagent/internal/domain"
	"github.com/polyagent/polyagent/internal/engine"
	"github.com/polyagent/polyagent/internal/feature"
	"github.com/polyagent/polyagent/internal/observability"
	"github.com/polyagent/polyagent/internal/session"
	"github.com/polyagent/polyagent/internal/settings"
)

func main() {
	_ = godotenv.Load()

	log := observability.Component("cli")
	cfg := config.Load()
	ctx := context.Background()

	userID := domain.UserID(os.Getenv("POLYAGENT_USER"))
	if userID == "" {
		userID = "local-user"
	}

	var store domain.ThreadStore
	switch cfg.StorageBackend {
	case "firestore":
		fs, err := firestorestore.NewStore(ctx, cfg.GCPProjectID)
		if err != nil {
			log.Error("firestore init failed", "error", err)
			os.Exit(1)
		}
		defer fs.Close()
		store = fs
	default:
		store = memstore.NewStore()
	}

	gate, err := feature.NewGate(settings.NewFileStore(cfg.SettingsPath), func(c feature.Capability) {
		fmt.Printf("[%s requires Plus: /plus on]\n", c)
	})
	if err != nil {
		log.Error("settings load failed", "error", err)
		os.Exit(1)
	}

	tokens := auth.NewIssuingTokenSource(userID, []byte(cfg.AuthSecret), time.Hour)
	gw := gateway.NewClient(cfg.APIBase, cfg.SendTimeout)

	eng := engine.New(store, gw, tokens, gate)
	defer eng.Close()

	binder := session.NewBinder(eng)
	binder.OnIdentityChanged(ctx, userID)

	fmt.Printf("polyagent: signed in as %s. /help lists commands.\n", userID)
	repl(ctx, cfg, eng, gate)
}

func repl(ctx context.Context, cfg *config.Config, eng *engine.Engine, gate *feature.Gate) {
	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !in.Scan() {
			return
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, "/") {
			sendCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
			eng.SendMessage(sendCtx, line)
			cancel()
			printTimeline(eng)
			continue
		}

		cmd, arg, _ := strings.Cut(line[1:], " ")
		arg = strings.TrimSpace(arg)

		switch cmd {
		case "quit", "exit":
			return
		case "help":
			printHelp()
		case "new":
			if _, err := eng.StartNewChat(ctx); err != nil {
				fmt.Println("error:", err)
			}
			printTimeline(eng)
		case "threads":
			printThreads(eng.View().Threads, eng.View().ActiveThreadID)
		case "search":
			printThreads(eng.FilterThreads(arg), eng.View().ActiveThreadID)
		case "select":
			selectByIndex(ctx, eng, arg)
		case "plus":
			gate.SetPlus(arg == "on")
			fmt.Println("plus:", gate.Plus(), "mode:", gate.EffectiveMode())
		case "mode":
			setMode(gate, arg)
		case "lang":
			gate.SetLanguage(arg)
		case "show":
			printTimeline(eng)
		default:
			fmt.Println("unknown command; /help lists commands")
		}
	}
}

func setMode(gate *feature.Gate, arg string) {
	mode := domain.ModeFast
	if arg == "advanced" {
		mode = domain.ModeAdvanced
		if !gate.RequestCapability(feature.CapabilityAdvancedMode) {
			return
		}
	}
	gate.SetMode(mode)
	fmt.Println("mode:", gate.EffectiveMode())
}

func selectByIndex(ctx context.Context, eng *engine.Engine, arg string) {
	idx, err := strconv.Atoi(arg)
	threads := eng.View().Threads
	if err != nil || idx < 1 || idx > len(threads) {
		fmt.Println("usage: /select <thread number from /threads>")
		return
	}
	if err := eng.SelectThread(ctx, threads[idx-1].ID); err != nil {
		fmt.Println("error:", err)
		return
	}
	printTimeline(eng)
}

func printThreads(threads []*domain.Thread, active domain.ThreadID) {
	if len(threads) == 0 {
		fmt.Println("(no conversations)")
		return
	}
	for i, th := range threads {
		marker := " "
		if th.ID == active {
			marker = "*"
		}
		fmt.Printf("%s %2d. %s\n", marker, i+1, th.Title)
	}
}

func printTimeline(eng *engine.Engine) {
	view := eng.View()
	for _, m := range view.Messages {
		prefix := "you"
		if m.Role == domain.RoleAssistant {
			prefix = " ai"
		}
		fmt.Printf("%s | %s\n", prefix, m.Content)
	}
}

func printHelp() {
	fmt.Println(`commands:
  /new              start a new conversation
  /threads          list conversations
  /search <text>    filter conversations by title
  /select <n>       switch to a conversation
  /show             reprint the current timeline
  /mode fast|advanced
  /plus on|off
  /lang <language>
  /quit`)
}
