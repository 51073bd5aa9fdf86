package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"arbor/internal/config"
	chatModels "arbor/internal/domain/models/chat"
	"arbor/internal/domain/repositories"
	"arbor/internal/repository/postgres"
)

func main() {
	// Parse command-line flags
	dropTables := flag.Bool("drop-tables", false, "Drop all tables before seeding (fresh start)")
	schemaOnly := flag.Bool("schema-only", false, "Only set up schema, don't seed conversations")
	fixturePath := flag.String("fixture", "", "YAML fixture of conversations to seed (optional)")
	flag.Parse()

	// Load .env file
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// SAFETY: Prevent destructive operations in production
	if cfg.Environment == "prod" && *dropTables {
		log.Fatalf("BLOCKED: cannot run --drop-tables in production environment")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	log.Printf("Seeding database (environment: %s, prefix: %s)", cfg.Environment, cfg.TablePrefix)

	ctx := context.Background()
	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	tables := postgres.NewTableNames(cfg.TablePrefix)

	if *dropTables {
		log.Println("Dropping tables...")
		if err := dropAllTables(ctx, pool, tables); err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
		log.Println("Tables dropped")
	}

	log.Println("Ensuring database schema is up to date...")
	if err := runSchema(ctx, pool, tables, cfg.TablePrefix); err != nil {
		log.Fatalf("Failed to run schema: %v", err)
	}
	log.Println("Schema ready")

	if *schemaOnly {
		log.Println("Schema setup complete (schema-only mode)")
		return
	}

	store := postgres.NewConversationRepository(&postgres.RepositoryConfig{
		Pool:   pool,
		Tables: tables,
		Logger: logger,
	})

	conversations, err := loadFixture(*fixturePath)
	if err != nil {
		log.Fatalf("Failed to load fixture: %v", err)
	}

	for i, fc := range conversations {
		conv, err := fc.build()
		if err != nil {
			log.Printf("Skipping conversation %d (%s): %v", i+1, fc.Title, err)
			continue
		}
		if err := store.UpsertConversation(ctx, conv); err != nil {
			log.Printf("Failed to seed conversation %q: %v", conv.Title, err)
			continue
		}
		log.Printf("Seeded conversation %d/%d: %s (ID: %s, nodes: %d)",
			i+1, len(conversations), conv.Title, conv.ID, len(conv.Tree.Nodes))
	}

	log.Println("Seeding complete")
}

// fixtureConversation is one conversation in the YAML fixture: a flat list of
// alternating messages turned into a single-path tree.
type fixtureConversation struct {
	ID       string `yaml:"id"`
	UserID   string `yaml:"user_id"`
	Title    string `yaml:"title"`
	Messages []struct {
		Role string `yaml:"role"`
		Text string `yaml:"text"`
	} `yaml:"messages"`
}

func (fc *fixtureConversation) build() (*repositories.Conversation, error) {
	tree := chatModels.NewTree()
	for _, m := range fc.Messages {
		_, tree = tree.AddMessage(m.Role, []chatModels.ContentBlock{
			chatModels.NewContentBlock(m.Text),
		})
	}

	id := fc.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now()
	return &repositories.Conversation{
		ID:        id,
		UserID:    fc.UserID,
		Title:     fc.Title,
		Tree:      tree,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// loadFixture reads the YAML fixture, or returns a built-in demo conversation
// when no path is given.
func loadFixture(path string) ([]fixtureConversation, error) {
	if path == "" {
		return defaultFixture(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Conversations []fixtureConversation `yaml:"conversations"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Conversations, nil
}

func defaultFixture() []fixtureConversation {
	demo := fixtureConversation{
		UserID: "00000000-0000-0000-0000-000000000001",
		Title:  "Demo conversation",
	}
	demo.Messages = []struct {
		Role string `yaml:"role"`
		Text string `yaml:"text"`
	}{
		{Role: chatModels.RoleUser, Text: "What can you help me with?"},
		{Role: chatModels.RoleAssistant, Text: "I can answer questions, fetch web pages and tell the time."},
	}
	return []fixtureConversation{demo}
}

// runSchema creates tables if they don't exist
func runSchema(ctx context.Context, pool *pgxpool.Pool, tables *postgres.TableNames, tablePrefix string) error {
	createConversations := `
		CREATE TABLE IF NOT EXISTS ` + tables.Conversations + ` (
			id TEXT PRIMARY KEY,
			user_id UUID NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			tree JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := pool.Exec(ctx, createConversations); err != nil {
		return err
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_` + tablePrefix + `conversations_user ON ` + tables.Conversations + `(user_id, updated_at DESC)`,
	}
	for _, stmt := range indexes {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// dropAllTables drops everything this module owns under the prefix
func dropAllTables(ctx context.Context, pool *pgxpool.Pool, tables *postgres.TableNames) error {
	_, err := pool.Exec(ctx, `DROP TABLE IF EXISTS `+tables.Conversations+` CASCADE`)
	return err
}
