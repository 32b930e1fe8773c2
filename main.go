package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-entropy/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/ekaya-entropy/pkg/adapters/datasource/mssql"    // Register mssql adapter (with build tag)
	_ "github.com/ekaya-inc/ekaya-entropy/pkg/adapters/datasource/postgres" // Register postgres adapter (with build tag)
	"github.com/ekaya-inc/ekaya-entropy/pkg/config"
	"github.com/ekaya-inc/ekaya-entropy/pkg/database"
	"github.com/ekaya-inc/ekaya-entropy/pkg/engine"
	"github.com/ekaya-inc/ekaya-entropy/pkg/fieldstats"
	"github.com/ekaya-inc/ekaya-entropy/pkg/logging"
	"github.com/ekaya-inc/ekaya-entropy/pkg/models"
	"github.com/ekaya-inc/ekaya-entropy/pkg/ngram"
	"github.com/ekaya-inc/ekaya-entropy/pkg/repositories"
)

// Version is set at build time via ldflags
var Version = "dev"

// output is the JSON document printed for one job.
type output struct {
	Summary    models.Summary               `json:"summary"`
	Records    []models.Record              `json:"records,omitempty"`
	Surprisals *models.SummaryAndSurprisals `json:"surprisals,omitempty"`
	Matching   *models.Explanation          `json:"matching,omitempty"`
	Stats      []*models.FieldStats         `json:"stats,omitempty"`
	NGram      *models.NGramResult          `json:"ngram,omitempty"`
}

// routineInstaller is implemented by datasources that host the server routine.
type routineInstaller interface {
	EnsureServerRoutine(ctx context.Context, name string) error
}

func main() {
	jobPath := flag.String("job", "job.yaml", "path to the job file")
	table := flag.String("table", "", "table to analyse (overrides engine.table)")
	flag.Parse()

	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if *table != "" {
		cfg.Engine.Table = *table
	}
	if cfg.Engine.Table == "" {
		logger.Fatal("No table configured; set engine.table or pass -table")
	}

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("source_type", cfg.Source.Type),
		zap.String("source", cfg.Source.Host+"/"+cfg.Source.Database),
		zap.String("table", cfg.Engine.Table),
		zap.String("mode", cfg.Engine.Mode))

	job, err := engine.LoadJob(*jobPath)
	if err != nil {
		logger.Fatal("Failed to load job", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connMgr := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{
		TTLMinutes:   cfg.Datasource.ConnectionTTLMinutes,
		PoolMaxConns: cfg.Datasource.PoolMaxConns,
		PoolMinConns: cfg.Datasource.PoolMinConns,
	}, logger)
	defer func() { _ = connMgr.Close() }()

	factory := datasource.NewDatasourceAdapterFactory(connMgr, logger)
	ds, err := factory.NewDataSource(ctx, cfg.Source.Type, cfg.Source.AdapterConfig(), "source")
	if err != nil {
		logger.Fatal("Failed to open datasource", zap.String("error", logging.SanitizeError(err)))
	}
	defer func() { _ = ds.Close() }()

	out, err := run(ctx, cfg, ds, job, logger)
	if err != nil {
		logger.Fatal("Job failed", zap.Error(err))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.Fatal("Failed to write results", zap.Error(err))
	}
}

func engineOptions(cfg *config.Config, logger *zap.Logger) []engine.Option {
	mode, _ := engine.ParseMode(cfg.Engine.Mode)
	hash, _ := engine.ParseHashScheme(cfg.Engine.HashScheme)
	return []engine.Option{
		engine.WithMode(mode),
		engine.WithHashScheme(hash),
		engine.WithLimit(cfg.Engine.RowLimit),
		engine.WithRowIDColumn(cfg.Engine.RowIDColumn),
		engine.WithServerRoutine(cfg.Engine.ServerRoutine, cfg.Engine.ServerRoutineSignature),
		engine.WithEpochAnchor(float64(cfg.Engine.EpochAnchor)),
		engine.WithLogger(logger),
	}
}

// run executes every output the job asks for against one engine.
func run(ctx context.Context, cfg *config.Config, ds datasource.DataSource, job *engine.Job, logger *zap.Logger) (*output, error) {
	table := cfg.Engine.Table
	catalog := datasource.NewTableCatalog(ds, table)

	opts := append(engineOptions(cfg, logger), engine.WithCatalog(catalog))
	opts = append(opts, job.Options()...)
	e := engine.New(ctx, ds, table, &job.Spec, opts...)
	if err := job.Apply(ctx, e); err != nil {
		return nil, err
	}

	if e.Mode() == engine.ModeServer && cfg.Engine.InstallServerRoutine {
		installer, ok := ds.(routineInstaller)
		if !ok {
			logger.Warn("Datasource cannot host the server routine", zap.String("type", cfg.Source.Type))
		} else if err := installer.EnsureServerRoutine(ctx, cfg.Engine.ServerRoutine); err != nil {
			return nil, err
		}
	}

	out := &output{}
	if job.TopN > 0 {
		ex := e.Explain(ctx, job.TopN, job.IncludeColumns)
		out.Summary, out.Records = ex.Summary, ex.Records
	} else {
		out.Summary = e.Run(ctx)
	}

	if job.Surprisals {
		res := e.SummaryAndSurprisals(ctx)
		out.Surprisals = &res
	}
	if job.Predicate != "" {
		ex := e.RowsMatchingCondition(ctx, job.Predicate)
		out.Matching = &ex
	}

	if job.Stats {
		stats, err := fieldStats(ctx, cfg, ds, catalog, logger)
		if err != nil {
			return nil, err
		}
		out.Stats = stats
	}

	if job.NGram != nil {
		res, err := runNGram(ctx, cfg, ds, catalog, e, job.NGram, logger)
		if err != nil {
			return nil, err
		}
		out.NGram = &res
	}
	return out, nil
}

func fieldStats(ctx context.Context, cfg *config.Config, ds datasource.DataSource, catalog *datasource.TableCatalog, logger *zap.Logger) ([]*models.FieldStats, error) {
	ttl := time.Duration(cfg.Engine.StatsTTLDays) * 24 * time.Hour

	store, closeStore := statsStore(ctx, cfg, ttl, logger)
	defer closeStore()

	fields, err := catalog.Fields(ctx)
	if err != nil {
		return nil, err
	}
	svc := fieldstats.NewService(ds, catalog.Table(), store,
		fieldstats.WithTTL(ttl),
		fieldstats.WithLogger(logger))
	return svc.All(ctx, fields)
}

// statsStore picks the cache backend: Redis when configured, otherwise the
// engine database. Without either, statistics are computed on every call.
func statsStore(ctx context.Context, cfg *config.Config, ttl time.Duration, logger *zap.Logger) (repositories.FieldStatsRepository, func()) {
	client, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Warn("Redis unavailable; falling back to the engine database", zap.Error(err))
	} else if client != nil {
		return repositories.NewRedisFieldStatsRepository(client, ttl), func() { _ = client.Close() }
	}

	db, err := database.NewConnection(ctx, database.ConfigFrom(&cfg.Database))
	if err != nil {
		logger.Warn("Engine database unavailable; field statistics will not be cached",
			zap.String("error", logging.SanitizeError(err)))
		return nil, func() {}
	}
	// The migration driver closes the database/sql handle when done.
	if err := database.RunMigrations(db.SQLDB(), logger); err != nil {
		logger.Warn("Migrations failed; field statistics will not be cached", zap.Error(err))
		db.Close()
		return nil, func() {}
	}
	return repositories.NewFieldStatsRepository(db.Pool), db.Close
}

func runNGram(ctx context.Context, cfg *config.Config, ds datasource.DataSource, catalog *datasource.TableCatalog, e *engine.Engine, job *engine.NGramJob, logger *zap.Logger) (models.NGramResult, error) {
	enc, err := ngram.ParseEncoding(job.Encoding)
	if err != nil {
		return models.NGramResult{}, err
	}
	n := job.N
	if n == 0 {
		n = cfg.Engine.NGramN
	}
	r := ngram.New(ds, cfg.Engine.Table, job.Independent, job.Dependent,
		ngram.WithN(n),
		ngram.WithEncoding(enc),
		ngram.WithConditionals(e),
		ngram.WithCatalog(catalog),
		ngram.WithEpochAnchor(float64(cfg.Engine.EpochAnchor)),
		ngram.WithID(e.Spec().ID),
		ngram.WithLogger(logger))
	return r.Run(ctx), nil
}
