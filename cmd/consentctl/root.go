package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
	"github.com/thupa-pro/lipo-sub001/internal/consent/policy"
	"github.com/thupa-pro/lipo-sub001/internal/consent/remote"
	"github.com/thupa-pro/lipo-sub001/internal/consent/service"
	"github.com/thupa-pro/lipo-sub001/internal/consent/store"
	"github.com/thupa-pro/lipo-sub001/internal/platform/config"
	"github.com/thupa-pro/lipo-sub001/internal/platform/logger"
)

// cli holds the flags shared by every subcommand.
type cli struct {
	out        io.Writer
	configPath string
	dir        string
	visitorID  string
	userID     string
	email      string
	token      string
	jsonOut    bool
	verbose    bool

	cfg *config.Config
}

// session is the consent stack a command runs against.
type session struct {
	service *service.Service
	store   *store.ConsentStore
	slot    *store.FileSlot
	subject models.Subject
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	root := &cobra.Command{
		Use:   "consentctl",
		Short: "Inspect and change cookie consent stored on disk",
		Long: `consentctl reads and writes the consent record of one browsing context
in a storage directory shared with the consent server.

Available subcommands:
  show        - Print the current status and preferences
  accept-all  - Grant every optional category
  reject-all  - Grant nothing optional
  set         - Update individual categories, e.g. analytics=true
  reset       - Forget the decision
  scripts     - Print the script tags the current consent allows
  watch       - Stream consent changes as they happen
  token       - Issue a development bearer token`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.loadConfig(cmd)
		},
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "path to config.yaml")
	flags.StringVar(&c.dir, "dir", "", "consent storage directory (default from config storage.dir)")
	flags.StringVar(&c.visitorID, "visitor", "", "visitor id; empty uses the single-context key")
	flags.StringVar(&c.userID, "user-id", "", "signed-in user id; enables sync to remote.url")
	flags.StringVar(&c.email, "email", "", "signed-in user email")
	flags.StringVar(&c.token, "token", "", "bearer token for remote sync (default remote.token)")
	flags.BoolVar(&c.jsonOut, "json", false, "output as JSON")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "log at debug level to stderr")

	root.AddCommand(
		c.showCmd(),
		c.acceptAllCmd(),
		c.rejectAllCmd(),
		c.setCmd(),
		c.resetCmd(),
		c.scriptsCmd(),
		c.watchCmd(),
		c.tokenCmd(),
	)
	return root
}

func (c *cli) loadConfig(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.dir == "" {
		c.dir = cfg.Storage.Dir
	}
	c.cfg = cfg
	return nil
}

func (c *cli) logger(cmd *cobra.Command) *slog.Logger {
	level := "error"
	if c.verbose {
		level = "debug"
	}
	return logger.NewWithWriter(cmd.ErrOrStderr(), level)
}

func (c *cli) policy() policy.Policy {
	return policy.New(models.Version(c.cfg.Consent.Version), c.cfg.Consent.Retention)
}

func (c *cli) open(cmd *cobra.Command, opts ...service.Option) (*session, error) {
	log := c.logger(cmd)
	slot, err := store.NewFileSlot(c.dir, log)
	if err != nil {
		return nil, err
	}
	p := c.policy()
	cs := store.NewConsentStore(slot, p,
		store.WithNamespace(c.cfg.Consent.Namespace),
		store.WithLogger(log),
	)

	subject := models.Subject{VisitorID: c.visitorID}
	if c.userID != "" {
		subject.User = &models.Identity{ID: c.userID, Email: c.email, Token: c.token}
	}

	opts = append([]service.Option{
		service.WithLogger(log),
		service.WithNotifier(service.NotifierFunc(func(_ context.Context, _ models.Subject, err error) {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: remote sync failed: %v\n", err)
		})),
	}, opts...)
	if subject.SignedIn() && c.cfg.Remote.URL != "" {
		client, err := remote.New(remote.Config{
			BaseURL: c.cfg.Remote.URL,
			Token:   c.cfg.Remote.Token,
			Timeout: c.cfg.Remote.Timeout,
		}, remote.WithLogger(log))
		if err != nil {
			return nil, err
		}
		opts = append(opts, service.WithSyncer(client))
	}

	return &session{
		service: service.NewService(cs, p, opts...),
		store:   cs,
		slot:    slot,
		subject: subject,
	}, nil
}

// snapshotView is the printed form of a snapshot.
type snapshotView struct {
	Status      models.Status   `json:"status"`
	Valid       bool            `json:"valid"`
	Preferences map[string]bool `json:"preferences"`
	Origin      models.Origin   `json:"origin,omitempty"`
	Version     models.Version  `json:"version,omitempty"`
	Timestamp   *time.Time      `json:"timestamp,omitempty"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	Persisted   bool            `json:"persisted"`
	SyncError   string          `json:"sync_error,omitempty"`
}

func viewOf(snap service.Snapshot) snapshotView {
	v := snapshotView{
		Status:      snap.Status,
		Valid:       snap.Valid,
		Preferences: snap.Preferences().Names(),
		Persisted:   snap.Persisted,
	}
	if snap.Valid {
		ts, exp := snap.Record.Timestamp, snap.ExpiresAt
		v.Origin = snap.Record.Origin
		v.Version = snap.Record.Version
		v.Timestamp = &ts
		v.ExpiresAt = &exp
	}
	if snap.SyncError != nil {
		v.SyncError = snap.SyncError.Error()
	}
	return v
}

func (c *cli) printSnapshot(snap service.Snapshot) error {
	v := viewOf(snap)
	if c.jsonOut {
		return c.printJSON(v)
	}

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "status\t%s\n", v.Status)
	if v.Valid {
		fmt.Fprintf(tw, "origin\t%s\n", v.Origin)
		fmt.Fprintf(tw, "version\t%s\n", v.Version)
		fmt.Fprintf(tw, "expires\t%s\n", v.ExpiresAt.Format(time.RFC3339))
	}
	names := make([]string, 0, len(v.Preferences))
	for name := range v.Preferences {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return categoryRank(names[i]) < categoryRank(names[j]) })
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%t\n", name, v.Preferences[name])
	}
	if !v.Persisted {
		fmt.Fprintf(tw, "warning\tnot persisted\n")
	}
	if v.SyncError != "" {
		fmt.Fprintf(tw, "warning\tsync failed: %s\n", v.SyncError)
	}
	return tw.Flush()
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func categoryRank(name string) int {
	for i, category := range models.AllCategories() {
		if strings.EqualFold(string(category), name) {
			return i
		}
	}
	return len(models.OptionalCategories) + 1
}
