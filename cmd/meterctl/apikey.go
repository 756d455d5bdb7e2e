package main

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/thesisflow/thesisflow/internal/auth"
	"github.com/thesisflow/thesisflow/internal/model"
)

var apikeyFlags struct {
	user   string
	email  string
	name   string
	env    string
	scopes string
	tier   string
	format string
}

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an API key and print it once",
	Long: `Create an API key for a user. The user row is created when --email is given
and the id is unknown. Only the hash is stored; the plaintext is printed once.`,
	Args: cobra.NoArgs,
	RunE: runAPIKeyCreate,
}

func init() {
	f := apikeyCreateCmd.Flags()
	f.StringVar(&apikeyFlags.user, "user", "", "Owning user id (required)")
	f.StringVar(&apikeyFlags.email, "email", "", "Email used when the user must be created")
	f.StringVar(&apikeyFlags.name, "name", "meterctl", "Key name")
	f.StringVar(&apikeyFlags.env, "env", auth.EnvLive, "Key environment: live or test")
	f.StringVar(&apikeyFlags.scopes, "scopes", model.ScopeRead, "Comma-separated scopes (read,write,admin)")
	f.StringVar(&apikeyFlags.tier, "tier", model.TierFree, "Rate limit tier (free,pro,unlimited)")
	f.StringVar(&apikeyFlags.format, "format", "plain", "Output format: plain or json")
	_ = apikeyCreateCmd.MarkFlagRequired("user")

	apikeyCmd.AddCommand(apikeyCreateCmd)
}

type createdKey struct {
	UserID    string   `json:"user_id"`
	KeyID     string   `json:"key_id"`
	Key       string   `json:"key"`
	KeyPrefix string   `json:"key_prefix"`
	Scopes    []string `json:"scopes"`
	Tier      string   `json:"rate_limit_tier"`
}

func runAPIKeyCreate(cmd *cobra.Command, _ []string) error {
	scopes, err := parseScopes(apikeyFlags.scopes)
	if err != nil {
		return err
	}
	if apikeyFlags.env != auth.EnvLive && apikeyFlags.env != auth.EnvTest {
		return fmt.Errorf("invalid env %q; use live or test", apikeyFlags.env)
	}
	if !model.IsTier(apikeyFlags.tier) {
		return fmt.Errorf("invalid tier %q", apikeyFlags.tier)
	}
	format := strings.ToLower(apikeyFlags.format)
	if format != "plain" && format != "json" {
		return fmt.Errorf("invalid format %q; use plain or json", apikeyFlags.format)
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	e, err := connect(ctx, false)
	if err != nil {
		return err
	}
	defer e.Close()

	if apikeyFlags.email != "" {
		if err := e.repo.EnsureUser(ctx, apikeyFlags.user, apikeyFlags.email); err != nil {
			return fmt.Errorf("ensure user: %w", err)
		}
	} else if _, err := e.repo.GetUserByID(ctx, apikeyFlags.user); err != nil {
		return fmt.Errorf("user %s: %w (pass --email to create it)", apikeyFlags.user, err)
	}

	generated, err := auth.GenerateAPIKey(apikeyFlags.env)
	if err != nil {
		return fmt.Errorf("generate api key: %w", err)
	}

	key := &model.APIKey{
		ID:            ulid.Make().String(),
		UserID:        apikeyFlags.user,
		KeyHash:       generated.Hash,
		KeyPrefix:     generated.Prefix,
		Scopes:        scopes,
		RateLimitTier: apikeyFlags.tier,
		Name:          apikeyFlags.name,
		CreatedAt:     time.Now().UTC(),
	}
	if err := e.repo.CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(createdKey{
			UserID:    key.UserID,
			KeyID:     key.ID,
			Key:       generated.Plaintext,
			KeyPrefix: key.KeyPrefix,
			Scopes:    scopes,
			Tier:      key.RateLimitTier,
		})
	}
	fmt.Fprintln(out, generated.Plaintext)
	return nil
}

func parseScopes(input string) ([]string, error) {
	var scopes []string
	for _, part := range strings.Split(input, ",") {
		scope := strings.TrimSpace(part)
		if scope == "" {
			continue
		}
		if !slices.Contains(model.ValidScopes, scope) {
			return nil, fmt.Errorf("invalid scope: %s", scope)
		}
		if !slices.Contains(scopes, scope) {
			scopes = append(scopes, scope)
		}
	}
	if len(scopes) == 0 {
		return []string{model.ScopeRead}, nil
	}
	return scopes, nil
}
