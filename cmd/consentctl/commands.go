package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
	"github.com/thupa-pro/lipo-sub001/internal/consent/scripts"
	jwttoken "github.com/thupa-pro/lipo-sub001/internal/jwt_token"
)

func (c *cli) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the current status and preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := c.open(cmd)
			if err != nil {
				return err
			}
			return c.printSnapshot(s.service.Status(cmd.Context(), s.subject))
		},
	}
}

func (c *cli) acceptAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept-all",
		Short: "Grant every optional category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := c.open(cmd)
			if err != nil {
				return err
			}
			return c.printSnapshot(s.service.AcceptAll(cmd.Context(), s.subject))
		},
	}
}

func (c *cli) rejectAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject-all",
		Short: "Grant nothing beyond necessary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := c.open(cmd)
			if err != nil {
				return err
			}
			return c.printSnapshot(s.service.RejectAll(cmd.Context(), s.subject))
		},
	}
}

func (c *cli) setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <category>=<bool>...",
		Short: "Update individual categories",
		Long: `Update individual categories, keeping the others as they are.
Categories: functional, analytics, marketing, personalization.

  consentctl set analytics=true marketing=false`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := parseAssignments(args)
			if err != nil {
				return err
			}
			s, err := c.open(cmd)
			if err != nil {
				return err
			}
			snap, err := s.service.Save(cmd.Context(), s.subject, patch)
			if err != nil {
				return err
			}
			return c.printSnapshot(snap)
		},
	}
}

func (c *cli) resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget the stored decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := c.open(cmd)
			if err != nil {
				return err
			}
			return c.printSnapshot(s.service.Reset(cmd.Context(), s.subject))
		},
	}
}

func (c *cli) scriptsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scripts",
		Short: "Print the script tags the current consent allows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := c.open(cmd)
			if err != nil {
				return err
			}
			catalog, err := scripts.NewConfiguredCatalog(c.cfg.Scripts)
			if err != nil {
				return err
			}
			snap := s.service.Status(cmd.Context(), s.subject)
			doc := scripts.NewHTMLDocument()
			res := scripts.NewLoader(catalog, doc, scripts.WithLogger(c.logger(cmd))).Reconcile(cmd.Context(), snap.Record)
			if c.jsonOut {
				handles := make([]string, 0, len(res.Inserted))
				for _, h := range res.Inserted {
					handles = append(handles, h.String())
				}
				return c.printJSON(map[string]any{"status": snap.Status, "scripts": handles})
			}
			return doc.Render(c.out)
		},
	}
}

func (c *cli) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream consent changes as JSON lines until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := c.open(cmd)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(c.out)

			// Prime the service with the stored state before subscribing so
			// the current state prints once.
			snap, _ := s.service.Refresh(ctx, s.subject.VisitorID)
			if err := enc.Encode(snap.Event(time.Now()).Envelope()); err != nil {
				return err
			}
			unsubscribe := s.service.Subscribe(func(event models.Event) {
				if event.VisitorID != s.subject.VisitorID {
					return
				}
				_ = enc.Encode(event.Envelope())
			})
			defer unsubscribe()

			key := s.store.Key(s.subject.VisitorID)
			return s.slot.Watch(ctx, func(changed string) {
				if changed == key {
					s.service.Refresh(ctx, s.subject.VisitorID)
				}
			})
		},
	}
}

func (c *cli) tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development bearer token for --user-id",
		Long: `Issue a bearer token signed with auth.jwt_signing_key for use against
/api/user/consent and as the identity on /consent. Intended for local use.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.userID == "" {
				return fmt.Errorf("--user-id is required")
			}
			auth := c.cfg.Auth
			if ttl <= 0 {
				ttl = auth.TokenTTL
			}
			jwt := jwttoken.NewJWTService(auth.JWTSigningKey, auth.Issuer, auth.Audience, ttl)
			token, err := jwt.Issue(models.Identity{ID: c.userID, Email: c.email})
			if err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(map[string]string{
					"token":      token,
					"type":       "Bearer",
					"expires_in": ttl.String(),
				})
			}
			_, err = fmt.Fprintln(c.out, token)
			return err
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default auth.token_ttl)")
	return cmd
}

// parseAssignments turns ["analytics=true", "marketing=off"] into a patch.
func parseAssignments(args []string) (models.Patch, error) {
	raw := make(map[string]bool, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("expected <category>=<bool>, got %q", arg)
		}
		granted, err := parseBool(value)
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", name, err)
		}
		raw[name] = granted
	}
	return models.ParsePatch(raw)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "yes", "y":
		return true, nil
	case "off", "no", "n":
		return false, nil
	}
	return strconv.ParseBool(s)
}
