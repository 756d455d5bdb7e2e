package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/thesisflow/thesisflow/internal/model"
)

var catalogFile string

var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "Manage the token feature catalog",
}

var featuresSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upsert feature costs from a YAML catalog",
	Long: `Upsert every feature in the catalog into token_feature_costs and drop the
cached prices so the API picks them up immediately. Features missing from the
file are left untouched.`,
	Args: cobra.NoArgs,
	RunE: runFeaturesSync,
}

var featuresListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active feature costs",
	Args:  cobra.NoArgs,
	RunE:  runFeaturesList,
}

func init() {
	featuresSyncCmd.Flags().StringVarP(&catalogFile, "file", "f", "configs/features.yaml", "YAML catalog")
	featuresCmd.AddCommand(featuresSyncCmd)
	featuresCmd.AddCommand(featuresListCmd)
}

type catalogEntry struct {
	Feature     string             `yaml:"feature"`
	BaseCost    int                `yaml:"base_cost"`
	Description string             `yaml:"description"`
	Multipliers map[string]float64 `yaml:"multipliers"`
	Active      *bool              `yaml:"active"`
}

type catalog struct {
	Features []catalogEntry `yaml:"features"`
}

// parseCatalog decodes and validates a feature catalog.
func parseCatalog(r io.Reader) ([]*model.FeatureCost, error) {
	var c catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("catalog is empty")
		}
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	seen := make(map[string]bool, len(c.Features))
	out := make([]*model.FeatureCost, 0, len(c.Features))
	for i, e := range c.Features {
		if e.Feature == "" {
			return nil, fmt.Errorf("entry %d: feature is required", i)
		}
		if seen[e.Feature] {
			return nil, fmt.Errorf("entry %d: duplicate feature %q", i, e.Feature)
		}
		seen[e.Feature] = true
		if e.BaseCost < 1 {
			return nil, fmt.Errorf("%s: base_cost must be at least 1", e.Feature)
		}
		for k, v := range e.Multipliers {
			if v < 0 {
				return nil, fmt.Errorf("%s: multiplier %s must not be negative", e.Feature, k)
			}
		}

		fc := &model.FeatureCost{
			FeatureName:     e.Feature,
			BaseCost:        e.BaseCost,
			Description:     e.Description,
			CostMultipliers: e.Multipliers,
			IsActive:        e.Active == nil || *e.Active,
		}
		if fc.CostMultipliers == nil {
			fc.CostMultipliers = map[string]float64{}
		}
		out = append(out, fc)
	}
	return out, nil
}

func runFeaturesSync(cmd *cobra.Command, _ []string) error {
	f, err := os.Open(catalogFile)
	if err != nil {
		return err
	}
	defer f.Close()

	features, err := parseCatalog(f)
	if err != nil {
		return fmt.Errorf("%s: %w", catalogFile, err)
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	e, err := connect(ctx, true)
	if err != nil {
		return err
	}
	defer e.Close()

	names := make([]string, 0, len(features))
	for _, fc := range features {
		if err := e.repo.UpsertFeatureCost(ctx, fc); err != nil {
			return fmt.Errorf("upsert %s: %w", fc.FeatureName, err)
		}
		names = append(names, fc.FeatureName)
	}
	if err := e.cache.DeleteFeatureCosts(ctx, names...); err != nil {
		// Stale prices expire with the cache TTL.
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: cache invalidation failed: %v\n", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "synced %d feature(s)\n", len(features))
	return nil
}

func runFeaturesList(cmd *cobra.Command, _ []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	e, err := connect(ctx, false)
	if err != nil {
		return err
	}
	defer e.Close()

	features, err := e.repo.ListFeatureCosts(ctx)
	if err != nil {
		return err
	}
	return printFeatures(cmd.OutOrStdout(), features)
}

func printFeatures(w io.Writer, features []*model.FeatureCost) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FEATURE\tCOST\tMULTIPLIERS\tDESCRIPTION")
	for _, fc := range features {
		keys := make([]string, 0, len(fc.CostMultipliers))
		for k := range fc.CostMultipliers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		mult := "-"
		for i, k := range keys {
			if i == 0 {
				mult = ""
			} else {
				mult += ","
			}
			mult += fmt.Sprintf("%s=%g", k, fc.CostMultipliers[k])
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", fc.FeatureName, fc.BaseCost, mult, fc.Description)
	}
	return tw.Flush()
}
