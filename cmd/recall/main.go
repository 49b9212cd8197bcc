package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/drclabs/recall/embed"
	"github.com/drclabs/recall/engine"
	"github.com/drclabs/recall/internal/metrics"
	"github.com/drclabs/recall/internal/profile"
	"github.com/drclabs/recall/internal/version"
	"github.com/drclabs/recall/server"
	"github.com/drclabs/recall/store"
	"github.com/drclabs/recall/store/db"
	"github.com/drclabs/recall/vectorindex"
)

var rootCmd = &cobra.Command{
	Use:     "recall",
	Short:   `A multi-tenant memory engine. Ingest documents and conversations, retrieve them with hybrid semantic and keyword search.`,
	Version: version.String(),
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// Best effort; a missing .env file is fine.
		_ = godotenv.Load()
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			Data:    viper.GetString("data"),
			Driver:  viper.GetString("driver"),
			DSN:     viper.GetString("dsn"),
			Version: version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			panic(err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		dbDriver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			slog.Error("failed to create db driver", "error", err)
			return
		}
		storeInstance := store.New(dbDriver, instanceProfile)
		if err := storeInstance.Migrate(ctx); err != nil {
			slog.Error("failed to migrate", "error", err)
			return
		}

		embedder, err := embed.NewService(&embed.Config{
			APIKey:            instanceProfile.EmbeddingAPIKey,
			BaseURL:           instanceProfile.EmbeddingBaseURL,
			Model:             instanceProfile.EmbeddingModel,
			Dimensions:        instanceProfile.EmbeddingDimensions,
			RequestsPerSecond: instanceProfile.EmbeddingRPS,
			MaxRetries:        instanceProfile.EmbeddingMaxRetries,
		})
		if err != nil {
			slog.Error("failed to create embedding service", "error", err)
			return
		}

		collector := metrics.NewCollector()
		index, err := newVectorIndex(ctx, instanceProfile, dbDriver, collector)
		if err != nil {
			slog.Error("failed to open vector index", "error", err)
			return
		}

		eng := engine.New(storeInstance, index, embedder, slog.Default(), collector, engine.Options{
			ChunkTargetWords:  instanceProfile.ChunkTargetWords,
			ChunkOverlapWords: instanceProfile.ChunkOverlapWords,
		})

		// Repair any drift between the graph store and the index before
		// serving traffic.
		if err := eng.Reconcile(ctx); err != nil {
			slog.Error("failed to reconcile vector index", "error", err)
			return
		}

		s, err := server.NewServer(ctx, instanceProfile, storeInstance, eng, collector)
		if err != nil {
			slog.Error("failed to create server", "error", err)
			return
		}

		c := make(chan os.Signal, 1)
		// SIGTERM is the graceful shutdown signal used by most process
		// managers (systemd, kubernetes).
		signal.Notify(c, terminationSignals...)

		if err := s.Start(ctx); err != nil {
			slog.Error("failed to start server", "error", err)
			return
		}

		printGreetings(instanceProfile)

		go func() {
			<-c
			s.Shutdown(ctx)
			if err := index.Close(); err != nil {
				slog.Error("failed to close vector index", "error", err)
			}
			cancel()
		}()

		<-ctx.Done()
	},
}

// newVectorIndex picks the index backend matching the graph driver: pgvector
// shares the postgres connection, sqlite deployments get the flat snapshot
// index beside the database file.
func newVectorIndex(ctx context.Context, p *profile.Profile, driver store.Driver, collector *metrics.Collector) (vectorindex.Index, error) {
	if p.Driver == "postgres" {
		return vectorindex.NewPG(ctx, driver.GetDB(), p.EmbeddingDimensions)
	}

	index, err := vectorindex.NewFlat(p.SnapshotPath())
	if err != nil {
		// A corrupt snapshot is recoverable: start empty and let Reconcile
		// rebuild from the graph store.
		slog.Warn("snapshot unreadable, starting with an empty index",
			"path", p.SnapshotPath(), "error", err)
		if rmErr := os.Remove(p.SnapshotPath()); rmErr != nil {
			return nil, rmErr
		}
		index, err = vectorindex.NewFlat(p.SnapshotPath())
		if err != nil {
			return nil, err
		}
	}
	index.SetCompactionHook(collector.CountCompaction)
	return index, nil
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "postgres")
	viper.SetDefault("port", 28091)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28091, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "postgres", "database driver (postgres, sqlite)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")

	for _, flag := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("recall")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(p *profile.Profile) {
	fmt.Printf(`---
Server profile
version: %s
data: %s
addr: %s
port: %d
mode: %s
driver: %s
---
`, p.Version, p.Data, p.Addr, p.Port, p.Mode, p.Driver)

	fmt.Println("Have fun remembering things!")
	if p.Addr == "" {
		fmt.Printf("See more in http://localhost:%d\n", p.Port)
	} else {
		fmt.Printf("See more in http://%s:%d\n", p.Addr, p.Port)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
