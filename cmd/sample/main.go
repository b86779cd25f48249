package main

import (
	"flag"
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/lychee-technology/sieve"
)

// config is the YAML configuration of the sample table.
type config struct {
	Resource     string                   `yaml:"resource"`
	ServerSide   bool                     `yaml:"serverSide"`
	ItemsPerPage int                      `yaml:"itemsPerPage"`
	Priorities   *sieve.PriorityPartition `yaml:"priorities"`
	CustomSort   map[string]string        `yaml:"customSort"`
}

func main() {
	schemaFile := flag.String("schema", "", "Path to the resource JSON schema (required)")
	rowsFile := flag.String("rows", "", "Path to a JSON array of rows")
	configFile := flag.String("config", "", "Path to a YAML table configuration")
	query := flag.String("query", "", "Filter query string to restore, e.g. f[n]=name&f[o]=contains&f[v]=diver")
	sortKey := flag.String("sort", "", "Column key to sort by")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")

	flag.Parse()

	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	if *verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.Development = true
	}
	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Errorf("failed to build logger: %w", err))
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	if *schemaFile == "" {
		sugar.Error("Error: -schema flag is required")
		flag.Usage()
		os.Exit(1)
	}

	raw, err := os.ReadFile(*schemaFile)
	if err != nil {
		sugar.Fatalf("reading schema: %v", err)
	}
	schema, err := sieve.ParseSchema(raw)
	if err != nil {
		sugar.Fatalf("parsing schema: %v", err)
	}

	tableCfg := config{Resource: "sample", ItemsPerPage: 10}
	if *configFile != "" {
		rawCfg, err := os.ReadFile(*configFile)
		if err != nil {
			sugar.Fatalf("reading config: %v", err)
		}
		if err := yaml.Unmarshal(rawCfg, &tableCfg); err != nil {
			sugar.Fatalf("parsing config: %v", err)
		}
	}

	customSort := make(map[string]any, len(tableCfg.CustomSort))
	for field, path := range tableCfg.CustomSort {
		customSort[field] = path
	}

	engine, err := sieve.NewEngine(schema, sieve.EngineOptions{
		Resource:     tableCfg.Resource,
		ServerSide:   tableCfg.ServerSide,
		ItemsPerPage: tableCfg.ItemsPerPage,
		Priorities:   tableCfg.Priorities,
		CustomSort:   customSort,
		Logger:       logger,
	})
	if err != nil {
		sugar.Fatalf("building engine: %v", err)
	}

	if *query != "" {
		if err := engine.LoadFromQuery(*query); err != nil {
			sugar.Warnf("filter query discarded: %v", err)
		}
	}
	if *sortKey != "" {
		engine.SetSort(*sortKey)
	}

	sugar.Infof("derived %d columns", len(engine.Columns()))
	for _, col := range engine.Columns() {
		sugar.Debugf("column %s (field=%s refScheme=%q sortable=%v)",
			col.Key, col.Field, col.RefScheme, col.Sortable.Enabled)
	}

	if tableCfg.ServerSide {
		request, err := engine.ServerQuery()
		if err != nil {
			sugar.Fatalf("compiling server query: %v", err)
		}
		printJSON(request)
		return
	}

	if *rowsFile == "" {
		sugar.Info("no -rows file given; nothing to evaluate")
		return
	}
	rawRows, err := os.ReadFile(*rowsFile)
	if err != nil {
		sugar.Fatalf("reading rows: %v", err)
	}
	var rows []map[string]any
	if err := json.Unmarshal(rawRows, &rows); err != nil {
		sugar.Fatalf("parsing rows: %v", err)
	}

	visible := engine.VisibleRows(rows)
	sugar.Infof("%d of %d rows visible", len(visible), len(rows))
	printJSON(visible)
}

func printJSON(value any) {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		zap.S().Fatalf("encoding output: %v", err)
	}
	fmt.Println(string(encoded))
}
