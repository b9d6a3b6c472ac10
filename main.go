package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/h-a-s-h/kbin/activitypub"
	"github.com/h-a-s-h/kbin/db"
	"github.com/h-a-s-h/kbin/domain"
	"github.com/h-a-s-h/kbin/events"
	"github.com/h-a-s-h/kbin/queue"
	"github.com/h-a-s-h/kbin/util"
	"github.com/h-a-s-h/kbin/web"
)

func main() {
	root := &cobra.Command{
		Use:           util.Name,
		Short:         "Federated link aggregator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), importCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds everything a command needs, wired once.
type app struct {
	conf       util.Conf
	log        zerolog.Logger
	db         *db.DB
	bus        *queue.Bus
	dispatcher *activitypub.Dispatcher
	client     *activitypub.Client
}

func buildApp() (*app, error) {
	conf, err := util.ReadConf()
	if err != nil {
		return nil, err
	}

	log := util.NewLogger(conf.Conf.Debug)

	database, err := db.Open(conf.Conf.DbPath, log)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		return nil, err
	}
	if err := ensureDefaultMagazine(database, conf.Conf.DefaultMagazine); err != nil {
		return nil, err
	}

	eventBus := events.NewDispatcher(log)
	events.NewContentCounts(database, log).Register(eventBus)

	bus := queue.New(database, queue.Config{Workers: conf.Conf.Workers}, log)
	client := activitypub.NewClient(log)
	resolver := activitypub.NewResolver(database, client, eventBus, bus, conf.Conf.DefaultMagazine, log)
	processor := activitypub.NewProcessor(database, resolver, eventBus, bus, client, client, conf.Conf, log)
	processor.Register(bus)

	return &app{
		conf:       conf.Conf,
		log:        log,
		db:         database,
		bus:        bus,
		dispatcher: activitypub.NewDispatcher(bus, log),
		client:     client,
	}, nil
}

// ensureDefaultMagazine creates the fallback magazine with a fresh keypair
// on first boot. Idempotent across restarts.
func ensureDefaultMagazine(database *db.DB, name string) error {
	existing, err := database.MagazineByName(name)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	keys, err := util.GeneratePemKeypair()
	if err != nil {
		return err
	}
	return database.EnsureMagazine(&domain.Magazine{
		Id:            uuid.New(),
		Name:          name,
		Title:         name,
		PublicKeyPem:  keys.Public,
		PrivateKeyPem: keys.Private,
		CreatedAt:     time.Now(),
	})
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the federation server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.db.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go func() {
				if err := a.bus.Run(ctx); err != nil && ctx.Err() == nil {
					a.log.Error().Err(err).Msg("work queue stopped")
				}
			}()

			server := web.NewServer(a.db, a.dispatcher, a.conf, a.log)
			errCh := make(chan error, 1)
			go func() { errCh <- server.Run() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				a.log.Info().Msg("shutting down")
				// Give in-flight work a moment to settle.
				time.Sleep(time.Second)
				return nil
			}
		},
	}
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <url>",
		Short: "Fetch a remote activity or object and run it through the inbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.db.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			raw, err := a.client.Fetch(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to fetch %s: %w", args[0], err)
			}

			activity, err := asActivity(raw)
			if err != nil {
				return err
			}
			if err := a.dispatcher.Receive(ctx, activity, ""); err != nil {
				return err
			}

			// Same dispatch path as the HTTP inbox, drained inline.
			if err := a.bus.DrainPending(ctx); err != nil {
				return err
			}
			a.log.Info().Str("url", args[0]).Msg("import complete")
			return nil
		},
	}
}

// asActivity wraps a bare object document in a synthetic Create so the
// import command can ingest object URLs, not just activity URLs.
func asActivity(raw []byte) ([]byte, error) {
	var doc struct {
		ID           string          `json:"id"`
		Type         string          `json:"type"`
		Actor        string          `json:"actor"`
		AttributedTo json.RawMessage `json:"attributedTo"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("remote document is not valid json: %w", err)
	}

	switch doc.Type {
	case "Create", "Update", "Delete", "Announce", "Like", "Dislike", "Follow", "Undo", "Accept":
		return raw, nil
	}

	var actor string
	if err := json.Unmarshal(doc.AttributedTo, &actor); err != nil || actor == "" {
		return nil, fmt.Errorf("object %s has no attributed actor", doc.ID)
	}

	return json.Marshal(map[string]any{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       doc.ID + "#import",
		"type":     "Create",
		"actor":    actor,
		"object":   json.RawMessage(raw),
	})
}
