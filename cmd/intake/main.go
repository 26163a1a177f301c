package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"intake/internal/api"
	"intake/internal/config"
	"intake/internal/conversation"
	"intake/internal/repl"
	"intake/internal/storage"
	"intake/internal/store"
	"intake/internal/tui"
)

func main() {
	var (
		configPath string
		plain      bool
	)
	flag.StringVar(&configPath, "config", "", "Path to config JSON")
	flag.BoolVar(&plain, "plain", false, "Run the line-mode client instead of the TUI")
	flag.Parse()

	// .env values become process env before config reads it.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	var back storage.Store
	if cfg.Features.EnableSessionPersistence {
		back, err = openStorage(cfg)
		if err != nil {
			// 持久化失败退化为内存会话 / degrade to in-memory sessions
			fmt.Fprintf(os.Stderr, "open storage failed, sessions will not persist: %v\n", err)
			back = nil
		} else {
			defer back.Close()
		}
	}

	tokens := storage.NewTokenFile(cfg.Storage.BaseDir)
	client := api.NewClient(cfg.API, tokens)

	st := store.New(client, back, cfg.Features.EnableSessionPersistence)
	engine := conversation.NewEngine(conversation.NewService(client))
	engine.SetChatSessionFallback(func() string {
		if sess, ok := st.CurrentSession(); ok {
			return sess.ID
		}
		return ""
	})

	if plain {
		historyPath := filepath.Join(cfg.Storage.BaseDir, "repl.history")
		loop, err := repl.New(st, engine, client, historyPath, cfg.Features.EnableMarkdown, cfg.Features.MaxMessageLength)
		if err != nil {
			fmt.Fprintf(os.Stderr, "init repl failed: %v\n", err)
			os.Exit(1)
		}
		defer loop.Close()
		if err := loop.Run(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "repl failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := tui.Run(st, engine, cfg.Features.EnableMarkdown, cfg.Features.MaxMessageLength); err != nil {
		fmt.Fprintf(os.Stderr, "tui failed: %v\n", err)
		os.Exit(1)
	}
}

// openStorage selects the configured backend. When switching to sqlite,
// existing json data is migrated once; the migration is a no-op when the
// database already holds sessions.
func openStorage(cfg config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		dbPath := filepath.Join(cfg.Storage.BaseDir, storage.Namespace+".db")
		db, err := storage.NewSQLiteStore(dbPath)
		if err != nil {
			return nil, err
		}
		if js, jerr := storage.NewJSONStore(cfg.Storage.BaseDir); jerr == nil {
			if n, merr := storage.MigrateFromJSON(js, db); merr != nil {
				fmt.Fprintf(os.Stderr, "migrate chat history: %v\n", merr)
			} else if n > 0 {
				fmt.Fprintf(os.Stderr, "migrated %d sessions from json storage\n", n)
			}
		}
		return db, nil
	default:
		return storage.NewJSONStore(cfg.Storage.BaseDir)
	}
}
