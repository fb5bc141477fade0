package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quillworks/quill/internal/gateway"
	"github.com/quillworks/quill/internal/store"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, rotate, and revoke the API keys used to authenticate against the Quill API.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRotateCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// userByEmail resolves the --user flag to a user record.
func userByEmail(ctx context.Context, st *store.Store, email string) (string, error) {
	user, err := st.GetUserByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("user %q not found", email)
	}
	return user.ID, nil
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		userEmail string
		name      string
		scopes    []string
		rpm       int
		rpd       int
		expiresIn string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key for a user. The raw key is shown once and cannot be retrieved again.",
		Example: `  quill key create --user ada@example.com --name "agent"
  quill key create --user ada@example.com --name "ci" --scopes notebooks,read --rpm 30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(userEmail, name, scopes, rpm, rpd, expiresIn)
		},
	}

	cmd.Flags().StringVar(&userEmail, "user", "", "Email of the owning user (required)")
	cmd.Flags().StringVar(&name, "name", "", "Human-readable name for the key (required)")
	cmd.Flags().StringSliceVar(&scopes, "scopes", nil, "Scopes to grant (default: *)")
	cmd.Flags().IntVar(&rpm, "rpm", 0, "Requests per minute (default 60)")
	cmd.Flags().IntVar(&rpd, "rpd", 0, "Requests per day (default 10000)")
	cmd.Flags().StringVar(&expiresIn, "expires-in", "", "Expiry as a duration from now (e.g. 720h)")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runKeyCreate(userEmail, name string, scopes []string, rpm, rpd int, expiresIn string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	userID, err := userByEmail(ctx, st, userEmail)
	if err != nil {
		return err
	}

	policy := gateway.KeyPolicy{
		Name:         name,
		Scopes:       scopes,
		RateLimitRPM: rpm,
		RateLimitRPD: rpd,
	}
	if expiresIn != "" {
		d, err := time.ParseDuration(expiresIn)
		if err != nil {
			return fmt.Errorf("invalid --expires-in: %w", err)
		}
		t := time.Now().UTC().Add(d)
		policy.ExpiresAt = &t
	}

	key, secret, err := gateway.NewIssuer(st).Issue(ctx, userID, policy)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API Key created:")
	fmt.Println()
	fmt.Printf("  Key:    %s\n", secret)
	fmt.Printf("  Name:   %s\n", key.Name)
	fmt.Printf("  Scopes: %s\n", strings.Join(key.Scopes, ", "))
	fmt.Printf("  Limits: %d/min, %d/day\n", key.RateLimitRPM, key.RateLimitRPD)
	if key.ExpiresAt != nil {
		fmt.Printf("  Expires: %s\n", key.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		userEmail  string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List a user's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(userEmail, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&userEmail, "user", "", "Email of the owning user (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runKeyList(userEmail string, jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	userID, err := userByEmail(ctx, st, userEmail)
	if err != nil {
		return err
	}

	keys, err := st.ListAPIKeys(ctx, userID)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}

	if len(keys) == 0 {
		fmt.Println("No API keys configured. Use 'quill key create' to create one.")
		return nil
	}

	fmt.Printf("%-18s %-20s %-24s %-10s %-8s\n", "PREFIX", "NAME", "SCOPES", "REQUESTS", "ACTIVE")
	fmt.Printf("%-18s %-20s %-24s %-10s %-8s\n", "------", "----", "------", "--------", "------")
	for _, k := range keys {
		active := "yes"
		if !k.IsActive {
			active = "no"
		}
		fmt.Printf("%-18s %-20s %-24s %-10d %-8s\n",
			k.KeyPrefix, k.Name, strings.Join(k.Scopes, ","), k.TotalRequests, active)
	}

	return nil
}

// ---------- key rotate ----------

func newKeyRotateCmd() *cobra.Command {
	var userEmail string

	cmd := &cobra.Command{
		Use:   "rotate <prefix>",
		Short: "Rotate an API key's secret",
		Long:  "Replace the key's secret with a fresh one. The old secret stops working immediately; the new one is shown once.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRotate(userEmail, args[0])
		},
	}

	cmd.Flags().StringVar(&userEmail, "user", "", "Email of the owning user (required)")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runKeyRotate(userEmail, prefix string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	userID, err := userByEmail(ctx, st, userEmail)
	if err != nil {
		return err
	}

	match, err := keyByPrefix(ctx, st, userID, prefix)
	if err != nil {
		return err
	}

	key, secret, err := gateway.NewIssuer(st).Rotate(ctx, userID, match)
	if err != nil {
		return fmt.Errorf("rotate api key: %w", err)
	}

	fmt.Printf("Rotated API key %q:\n", key.Name)
	fmt.Println()
	fmt.Printf("  New key: %s\n", secret)
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	var userEmail string

	cmd := &cobra.Command{
		Use:   "revoke <prefix>",
		Short: "Revoke an API key by its prefix",
		Long:  "Deactivate an API key, preventing any further authenticated requests using that key.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(userEmail, args[0])
		},
	}

	cmd.Flags().StringVar(&userEmail, "user", "", "Email of the owning user (required)")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runKeyRevoke(userEmail, prefix string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	userID, err := userByEmail(ctx, st, userEmail)
	if err != nil {
		return err
	}

	match, err := keyByPrefix(ctx, st, userID, prefix)
	if err != nil {
		return err
	}

	if err := gateway.NewIssuer(st).Revoke(ctx, userID, match); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}

	fmt.Printf("Revoked API key with prefix %q\n", prefix)
	return nil
}

// keyByPrefix finds the id of the user's key whose prefix starts with the
// given string.
func keyByPrefix(ctx context.Context, st *store.Store, userID, prefix string) (string, error) {
	keys, err := st.ListAPIKeys(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("list api keys: %w", err)
	}
	for i := range keys {
		if strings.HasPrefix(keys[i].KeyPrefix, prefix) {
			return keys[i].ID, nil
		}
	}
	return "", fmt.Errorf("no API key found with prefix %q", prefix)
}
