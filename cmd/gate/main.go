package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gate",
	Short: "AssetGate CLI",
	Long:  "A CLI for managing operation-authorization policies in AssetGate.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(policyCmd())
	rootCmd.AddCommand(whitelistCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(previewCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(loginCmd())
}

// --- policy ---

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "policy", Short: "Manage operation policies"}

	createCmd := &cobra.Command{
		Use:   "create <asset> <op-type>",
		Short: "Create or replace a policy (activates it)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			maxAmount, _ := cmd.Flags().GetUint64("max-amount")
			dailyLimit, _ := cmd.Flags().GetUint64("daily-limit")
			cooldown, _ := cmd.Flags().GetUint64("cooldown")
			activation, _ := cmd.Flags().GetInt64("activation")
			expiration, _ := cmd.Flags().GetInt64("expiration")
			client := newClient()
			_, err := client.post("/v1/policy/"+args[0]+"/"+args[1], map[string]any{
				"max_amount":       maxAmount,
				"daily_limit":      dailyLimit,
				"cooldown_seconds": cooldown,
				"activation_time":  activation,
				"expiration_time":  expiration,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Policy written.")
			return nil
		},
	}
	createCmd.Flags().Uint64("max-amount", 0, "Per-operation cap (0 = uncapped)")
	createCmd.Flags().Uint64("daily-limit", 0, "Daily per-principal cap (0 = uncapped)")
	createCmd.Flags().Uint64("cooldown", 0, "Cooldown between operations in seconds (0 = none)")
	createCmd.Flags().Int64("activation", 0, "Activation time, Unix seconds (0 = immediate)")
	createCmd.Flags().Int64("expiration", 0, "Expiration time, Unix seconds (0 = never)")

	updateCmd := &cobra.Command{
		Use:   "update <asset> <op-type>",
		Short: "Update activity and amount limits",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			active, _ := cmd.Flags().GetBool("active")
			maxAmount, _ := cmd.Flags().GetUint64("max-amount")
			dailyLimit, _ := cmd.Flags().GetUint64("daily-limit")
			client := newClient()
			_, err := client.patch("/v1/policy/"+args[0]+"/"+args[1], map[string]any{
				"active":      active,
				"max_amount":  maxAmount,
				"daily_limit": dailyLimit,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Policy updated.")
			return nil
		},
	}
	updateCmd.Flags().Bool("active", true, "Whether the policy is enforced")
	updateCmd.Flags().Uint64("max-amount", 0, "Per-operation cap (0 = uncapped)")
	updateCmd.Flags().Uint64("daily-limit", 0, "Daily per-principal cap (0 = uncapped)")

	windowCmd := &cobra.Command{
		Use:   "set-window <asset> <op-type>",
		Short: "Set or clear the activation/expiration window",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			activation, _ := cmd.Flags().GetInt64("activation")
			expiration, _ := cmd.Flags().GetInt64("expiration")
			client := newClient()
			_, err := client.put("/v1/policy/"+args[0]+"/"+args[1]+"/window", map[string]any{
				"activation_time": activation,
				"expiration_time": expiration,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Time window set.")
			return nil
		},
	}
	windowCmd.Flags().Int64("activation", 0, "Activation time, Unix seconds (0 = immediate)")
	windowCmd.Flags().Int64("expiration", 0, "Expiration time, Unix seconds (0 = never)")

	requireCmd := &cobra.Command{
		Use:   "require-whitelist <asset> <op-type>",
		Short: "Enable whitelist enforcement (policy must be active)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			_, err := client.post("/v1/policy/"+args[0]+"/"+args[1]+"/whitelist/require", nil)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Whitelist requirement enabled.")
			return nil
		},
	}

	readCmd := &cobra.Command{
		Use:   "read <asset> <op-type>",
		Short: "Read a policy",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/policy/" + args[0] + "/" + args[1])
			if err != nil {
				printError(err.Error())
				return nil
			}
			if d, ok := result["data"].(map[string]any); ok {
				printResult(d)
				return nil
			}
			printResult(result)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list <asset>",
		Short: "List policies for an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/policy/" + args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(createCmd, updateCmd, windowCmd, requireCmd, readCmd, listCmd)
	return cmd
}

// --- whitelist ---

func whitelistCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "whitelist", Short: "Manage per-policy whitelists"}

	addCmd := &cobra.Command{
		Use:   "add <asset> <op-type> <account-id>",
		Short: "Add one account to the whitelist",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			_, err := client.post("/v1/whitelist/"+args[0]+"/"+args[1], map[string]any{
				"account_id": args[2],
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Account whitelisted.")
			return nil
		},
	}

	addBatchCmd := &cobra.Command{
		Use:   "add-batch <asset> <op-type> <account-id> [account-id ...]",
		Short: "Add many accounts; duplicates are skipped",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/v1/whitelist/"+args[0]+"/"+args[1]+"/batch", map[string]any{
				"account_ids": args[2:],
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove <asset> <op-type> <account-id>",
		Short: "Remove an account from the whitelist",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if err := client.delete("/v1/whitelist/" + args[0] + "/" + args[1] + "/" + args[2]); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Account removed.")
			return nil
		},
	}

	checkCmd := &cobra.Command{
		Use:   "check <asset> <op-type> <account-id>",
		Short: "Check whitelist membership",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/whitelist/" + args[0] + "/" + args[1] + "/" + args[2])
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list <asset> <op-type>",
		Short: "List whitelist members (order not meaningful)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/whitelist/" + args[0] + "/" + args[1])
			if err != nil {
				printError(err.Error())
				return nil
			}
			if members, ok := result["data"].([]any); ok {
				for _, m := range members {
					fmt.Println(m)
				}
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(addCmd, addBatchCmd, removeCmd, checkCmd, listCmd)
	return cmd
}

// --- validate / preview ---

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <asset> <op-type> <principal> <amount>",
		Short: "Validate an operation (commits usage on approval)",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseUint(args[3], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount: %s", args[3])
			}
			target, _ := cmd.Flags().GetString("target")
			now, _ := cmd.Flags().GetInt64("now")
			client := newClient()
			result, err := client.post("/v1/validate", map[string]any{
				"asset_id":  args[0],
				"op_type":   strings.ToUpper(args[1]),
				"principal": args[2],
				"amount":    amount,
				"target":    target,
				"now":       now,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().String("target", "", "Counterparty account for transfer-class operations")
	cmd.Flags().Int64("now", 0, "Clock override, Unix seconds (0 = server clock)")
	return cmd
}

func previewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview <asset> <op-type> <principal> <amount>",
		Short: "Preview an operation (read-only, no usage committed)",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseUint(args[3], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount: %s", args[3])
			}
			now, _ := cmd.Flags().GetInt64("now")
			client := newClient()
			result, err := client.post("/v1/preview", map[string]any{
				"asset_id":  args[0],
				"op_type":   strings.ToUpper(args[1]),
				"principal": args[2],
				"amount":    amount,
				"now":       now,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().Int64("now", 0, "Clock override, Unix seconds (0 = server clock)")
	return cmd
}

// --- audit ---

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			asset, _ := cmd.Flags().GetString("asset")
			eventType, _ := cmd.Flags().GetString("type")
			limit, _ := cmd.Flags().GetInt("limit")

			params := []string{fmt.Sprintf("limit=%d", limit)}
			if asset != "" {
				params = append(params, "asset="+asset)
			}
			if eventType != "" {
				params = append(params, "type="+eventType)
			}

			client := newClient()
			result, err := client.get("/v1/audit/events?" + strings.Join(params, "&"))
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().String("asset", "", "Filter by asset")
	cmd.Flags().String("type", "", "Filter by event type")
	cmd.Flags().Int("limit", 50, "Maximum events to return")
	return cmd
}

// --- token ---

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Manage API tokens"}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("display-name")
			caps, _ := cmd.Flags().GetStringSlice("capabilities")
			ttl, _ := cmd.Flags().GetString("ttl")
			client := newClient()
			result, err := client.post("/v1/auth/token/create", map[string]any{
				"display_name": name,
				"capabilities": caps,
				"ttl":          ttl,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	createCmd.Flags().String("display-name", "", "Human-readable token name")
	createCmd.Flags().StringSlice("capabilities", []string{"validate"}, "Capabilities: management, validate")
	createCmd.Flags().String("ttl", "", "Token TTL (e.g. 72h; empty = no expiry)")

	revokeCmd := &cobra.Command{
		Use:   "revoke <token-id>",
		Short: "Revoke a token by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			_, err := client.post("/v1/auth/token/revoke", map[string]any{
				"token_id": args[0],
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Token revoked.")
			return nil
		},
	}

	cmd.AddCommand(createCmd, revokeCmd)
	return cmd
}

// --- login ---

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <token>",
		Short: "Store an API token in the CLI config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loadConfig()
			cfg.Token = args[0]
			if err := saveConfig(); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Token saved.")
			return nil
		},
	}
}
