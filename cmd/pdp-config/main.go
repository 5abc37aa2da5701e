package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"

	pdp "github.com/onjsdnjs/identity-admin-sub001"
	"github.com/onjsdnjs/identity-admin-sub001/logger"
	"github.com/onjsdnjs/identity-admin-sub001/stores"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "apply":
		handleApply()
	case "advise":
		handleAdvise()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("pdp-config - Policy configuration tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  pdp-config convert <input> <output>  - Convert between formats")
	fmt.Println("  pdp-config validate <file>           - Validate configuration")
	fmt.Println("  pdp-config stats <file>              - Show configuration statistics")
	fmt.Println("  pdp-config apply <file> [sqlite-db]  - Load configuration into an engine")
	fmt.Println("  pdp-config advise <file>             - Report duplicate policies and merge candidates")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json, .bin")
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: pdp-config convert <input> <output>")
		os.Exit(1)
	}

	inputFile := os.Args[2]
	outputFile := os.Args[3]

	cfg, err := loadConfig(inputFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := saveConfig(cfg, outputFile); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Converted %s -> %s\n", inputFile, outputFile)

	inStat, _ := os.Stat(inputFile)
	outStat, _ := os.Stat(outputFile)
	if inStat != nil && outStat != nil {
		reduction := (1 - float64(outStat.Size())/float64(inStat.Size())) * 100
		if reduction > 0 {
			fmt.Printf("Size reduced by %.1f%% (%d -> %d bytes)\n",
				reduction, inStat.Size(), outStat.Size())
		} else {
			fmt.Printf("Size increased by %.1f%% (%d -> %d bytes)\n",
				-reduction, inStat.Size(), outStat.Size())
		}
	}
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: pdp-config validate <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Version:     %d\n", cfg.Version)
	fmt.Printf("  Policies:    %d\n", len(cfg.Policies))
	fmt.Printf("  Roles:       %d\n", len(cfg.Roles))
	fmt.Printf("  Hierarchies: %d\n", len(cfg.Hierarchies))
	fmt.Printf("  Templates:   %d\n", len(cfg.Templates))
	fmt.Printf("  Resources:   %d\n", len(cfg.Resources))
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: pdp-config stats <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	stat, _ := os.Stat(filename)

	fmt.Println("Configuration Statistics")
	fmt.Println("========================")
	if stat != nil {
		fmt.Printf("File size: %d bytes\n", stat.Size())
	}
	fmt.Printf("Version: %d\n", cfg.Version)
	fmt.Println()

	fmt.Println("Components:")
	fmt.Printf("  Policies:    %d\n", len(cfg.Policies))
	fmt.Printf("  Roles:       %d\n", len(cfg.Roles))
	fmt.Printf("  Hierarchies: %d\n", len(cfg.Hierarchies))
	fmt.Printf("  Templates:   %d\n", len(cfg.Templates))
	fmt.Printf("  Resources:   %d\n", len(cfg.Resources))
	fmt.Printf("  Grants:      %d\n", len(cfg.Grants))
	fmt.Println()

	if len(cfg.Policies) > 0 {
		allowCount := 0
		denyCount := 0
		ruleCount := 0
		for _, p := range cfg.Policies {
			if p.Effect == pdp.EffectAllow {
				allowCount++
			} else {
				denyCount++
			}
			ruleCount += len(p.Rules)
		}
		fmt.Println("Policy Details:")
		fmt.Printf("  Allow policies: %d\n", allowCount)
		fmt.Printf("  Deny policies:  %d\n", denyCount)
		fmt.Printf("  Total rules:    %d\n", ruleCount)
		fmt.Printf("  Avg per policy: %.1f\n", float64(ruleCount)/float64(len(cfg.Policies)))
		fmt.Println()
	}

	fmt.Println("Engine Configuration:")
	fmt.Printf("  Decision cache TTL:     %dms\n", cfg.Engine.DecisionCacheTTL)
	fmt.Printf("  Ristretto num counters: %d\n", cfg.Engine.RistrettoNumCounter)
	fmt.Printf("  Ristretto max cost:     %d\n", cfg.Engine.RistrettoMaxCost)
}

func handleApply() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: pdp-config apply <file> [sqlite-db]")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	var engine *pdp.Engine
	if len(os.Args) > 3 {
		engine, err = newSQLEngine(os.Args[3])
	} else {
		engine, err = newMemoryEngine()
	}
	if err != nil {
		fmt.Printf("Error creating engine: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := engine.ApplyConfig(ctx, cfg); err != nil {
		fmt.Printf("Error applying config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration applied successfully\n")
	fmt.Printf("  Policies loaded:    %d\n", len(cfg.Policies))
	fmt.Printf("  Roles loaded:       %d\n", len(cfg.Roles))
	fmt.Printf("  Hierarchies loaded: %d\n", len(cfg.Hierarchies))
	if len(os.Args) > 3 {
		fmt.Printf("  Persisted to:       %s\n", os.Args[3])
	}
}

func handleAdvise() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: pdp-config advise <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	engine, err := newMemoryEngine()
	if err != nil {
		fmt.Printf("Error creating engine: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := engine.ApplyConfig(ctx, cfg); err != nil {
		fmt.Printf("Error applying config: %v\n", err)
		os.Exit(1)
	}

	groups, err := engine.FindDuplicatePolicies(ctx)
	if err != nil {
		fmt.Printf("Error analyzing policies: %v\n", err)
		os.Exit(1)
	}
	if len(groups) == 0 {
		fmt.Println("No duplicate policies found")
		return
	}

	fmt.Printf("Found %d duplicate group(s)\n", len(groups))
	for _, g := range groups {
		fmt.Printf("\n  Signature: %s\n", g.Signature)
		fmt.Printf("  Policies:  %s\n", strings.Join(g.PolicyIDs, ", "))
		draft, err := engine.ProposeMerge(ctx, g.PolicyIDs)
		if err != nil {
			fmt.Printf("  No merge proposal: %v\n", err)
			continue
		}
		fmt.Printf("  Proposed merge: %s (priority %d)\n", draft.Name, draft.Priority)
		for _, r := range draft.Rules {
			for _, c := range r.Conditions {
				fmt.Printf("    [%s] %s\n", c.Phase, c.Expression)
			}
		}
	}
}

func newMemoryEngine() (*pdp.Engine, error) {
	return pdp.NewEngine(
		pdp.NewMemoryPolicyStore(),
		pdp.NewMemoryRoleStore(),
		pdp.NewMemoryTemplateStore(),
		pdp.NewMemoryResourceStore(),
		pdp.WithAuthorityStore(pdp.NewMemoryAuthorityStore()),
		pdp.WithLogger(logger.NewPhusluLogger()),
	)
}

// newSQLEngine backs the engine with a sqlite database so an applied
// configuration survives the process.
func newSQLEngine(path string) (*pdp.Engine, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db := squealx.NewDb(sqlDB, "sqlite", "pdp")
	if err := stores.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return pdp.NewEngine(
		stores.NewSQLPolicyStore(db),
		stores.NewSQLRoleStore(db),
		stores.NewSQLTemplateStore(db),
		stores.NewSQLResourceStore(db),
		pdp.WithAuthorityStore(pdp.NewMemoryAuthorityStore()),
		pdp.WithLogger(logger.NewPhusluLogger()),
	)
}

func loadConfig(filename string) (*pdp.Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(filename))
	loader := pdp.NewConfigLoader()

	switch ext {
	case ".yaml", ".yml":
		return loader.LoadYAML(data)
	case ".json":
		return loader.LoadJSON(data)
	case ".bin":
		return loader.LoadBinary(data)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
}

func saveConfig(cfg *pdp.Config, filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))

	var data []byte
	var err error

	switch ext {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	case ".bin":
		data, err = pdp.EncodeBinaryConfig(cfg)
	default:
		return fmt.Errorf("unsupported file format: %s", ext)
	}

	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
