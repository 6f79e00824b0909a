package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/utils"
	"github.com/mikey/mail-sentinel/internal/whitelist"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func fetchCmd() *cobra.Command {
	var token, userID string
	var force, asJSON bool

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch and classify a user's new emails",
		RunE: func(cmd *cobra.Command, args []string) error {
			return invoke(func(logger *zap.Logger, service *core.IngestionService, normalizer *core.ContentNormalizer, store core.Store) error {
				defer logger.Sync()
				defer store.Close()
				defer normalizer.Wait()

				ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
				defer cancel()

				result, err := service.FetchEmails(ctx, core.FetchRequest{
					BearerToken:  token,
					UserID:       userID,
					ForceRefresh: force,
				})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), result)
				}
				printResult(cmd.OutOrStdout(), result)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "OAuth bearer token of the mailbox")
	cmd.Flags().StringVar(&userID, "user", "", "User ID")
	cmd.Flags().BoolVar(&force, "force", false, "Force a refresh regardless of the check interval")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	cmd.MarkFlagRequired("token")
	cmd.MarkFlagRequired("user")
	return cmd
}

func inspectCmd() *cobra.Command {
	var file, owner string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Classify a single RFC 822 message read from a file or stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			return invoke(func(logger *zap.Logger, service *core.IngestionService, normalizer *core.ContentNormalizer, store core.Store) error {
				defer logger.Sync()
				defer store.Close()
				defer normalizer.Wait()

				var r io.Reader = cmd.InOrStdin()
				if file != "" {
					f, err := os.Open(file)
					if err != nil {
						return fmt.Errorf("failed to open input file: %w", err)
					}
					defer f.Close()
					r = f
				}

				msg, err := utils.ParseRFC822(r)
				if err != nil {
					return err
				}

				ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
				defer cancel()

				start := time.Now()
				email, err := service.Inspect(ctx, msg, owner)
				if err != nil {
					return err
				}
				logger.Debug("Inspected message", zap.Duration("duration", time.Since(start)))
				return writeJSON(cmd.OutOrStdout(), email)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Input email file (stdin if not specified)")
	cmd.Flags().StringVar(&owner, "owner", "", "Mailbox owner address used for the self-sent check")
	return cmd
}

func resetChecksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-checks",
		Short: "Clear every user's last check time so the next request fetches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return invoke(func(logger *zap.Logger, store core.Store) error {
				defer logger.Sync()
				defer store.Close()

				n, err := store.ResetLastChecked(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to reset checks: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset last check time for %d user(s)\n", n)
				return nil
			})
		},
	}
}

func trustedCmd() *cobra.Command {
	var userID, domain string

	cmd := &cobra.Command{
		Use:   "trusted",
		Short: "Manage a user's trusted sender domains",
	}
	cmd.PersistentFlags().StringVar(&userID, "user", "", "User ID")
	cmd.MarkPersistentFlagRequired("user")

	withStore := func(fn func(ctx context.Context, store core.Store) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			return invoke(func(logger *zap.Logger, store core.Store) error {
				defer logger.Sync()
				defer store.Close()
				return fn(cmd.Context(), store)
			})
		}
	}

	add := &cobra.Command{
		Use:   "add",
		Short: "Trust a sender domain",
		RunE: withStore(func(ctx context.Context, store core.Store) error {
			d := whitelist.NormalizeDomain(domain)
			if d == "" {
				return fmt.Errorf("%w: domain is required", core.ErrInvalidInput)
			}
			return store.AddTrustedDomain(ctx, userID, d)
		}),
	}
	remove := &cobra.Command{
		Use:   "remove",
		Short: "Stop trusting a sender domain",
		RunE: withStore(func(ctx context.Context, store core.Store) error {
			return store.RemoveTrustedDomain(ctx, userID, whitelist.NormalizeDomain(domain))
		}),
	}
	for _, c := range []*cobra.Command{add, remove} {
		c.Flags().StringVar(&domain, "domain", "", "Sender domain")
		c.MarkFlagRequired("domain")
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List trusted sender domains",
		RunE: withStore(func(ctx context.Context, store core.Store) error {
			domains, err := store.GetTrustedDomains(ctx, userID)
			if err != nil {
				return err
			}
			for _, d := range domains {
				fmt.Fprintln(cmd.OutOrStdout(), d)
			}
			return nil
		}),
	}

	cmd.AddCommand(add, remove, list)
	return cmd
}

func printResult(w io.Writer, result *core.FetchResult) {
	source := "provider"
	if result.FromCache {
		source = "stored results"
	}
	fmt.Fprintf(w, "Source: %s\n", source)
	fmt.Fprintf(w, "New emails: %d, stored: %d\n", result.NewEmails, len(result.Emails))
	if !result.LastUpdated.IsZero() {
		fmt.Fprintf(w, "Last updated: %s\n\n", result.LastUpdated.Format(time.RFC3339))
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tNLP\tURLS\tFROM\tSUBJECT")
	for _, e := range result.Emails {
		fmt.Fprintf(tw, "%s\t%.2f\t%d\t%s\t%s\n",
			e.SecurityStatus,
			e.NLPConfidence,
			len(e.URLs),
			utils.TruncateRunes(e.From, 40),
			utils.TruncateRunes(e.Subject, 60))
	}
	tw.Flush()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
