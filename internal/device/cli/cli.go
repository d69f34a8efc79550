// Package cli is the device command line: one invocation acts as one device
// with its own local state and voter identity.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/okian/mapthewalls/internal/adapters/mq/queue"
	"github.com/okian/mapthewalls/internal/adapters/mq/worker"
	"github.com/okian/mapthewalls/internal/config"
	"github.com/okian/mapthewalls/internal/device/localstore"
	"github.com/okian/mapthewalls/internal/device/reconcile"
	"github.com/okian/mapthewalls/internal/device/remote"
	"github.com/okian/mapthewalls/internal/device/spotcache"
	"github.com/okian/mapthewalls/internal/domain/model"
	"github.com/okian/mapthewalls/pkg/logger"
)

const drainTimeout = 5 * time.Second

type flags struct {
	url     string
	state   string
	policy  string
	timeout time.Duration
	verbose bool
	json    bool
}

// device holds what one invocation opened.
type device struct {
	cfg    *config.DeviceConfig
	store  *localstore.Store
	client *remote.Client
	rec    *reconcile.Reconciler
	pool   *worker.Pool
	log    logger.Logger
	out    io.Writer
	json   bool
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root, d := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	d.close(ctx)
	if err != nil {
		return 1
	}
	return 0
}

// NewRootCommand builds the command tree. The returned device is populated
// when a subcommand runs and must be closed by the caller.
func NewRootCommand() (*cobra.Command, *device) {
	var f flags
	d := &device{log: logger.Nop()}

	root := &cobra.Command{
		Use:          "mtw",
		Short:        "Map The Walls device client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return d.open(cmd, f)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&f.url, "url", "", "server base URL (default from MTW_SERVER_URL)")
	pf.StringVar(&f.state, "state", "", "device state file (default from MTW_STATE_PATH)")
	pf.StringVar(&f.policy, "policy", "", "reconciliation policy: remote or local")
	pf.DurationVar(&f.timeout, "timeout", 0, "timeout for one vote action")
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging on stderr")
	pf.BoolVar(&f.json, "json", false, "print JSON")

	root.AddCommand(
		rateCommand(d),
		verdictCommand(d),
		summaryCommand(d),
		spotsCommand(d),
		addCommand(d),
		whoamiCommand(d),
	)
	return root, d
}

func (d *device) open(cmd *cobra.Command, f flags) error {
	ctx := cmd.Context()
	cfg, err := config.LoadDevice(ctx)
	if err != nil {
		return err
	}
	if f.url != "" {
		cfg.ServerURL = f.url
	}
	if f.state != "" {
		cfg.StatePath = f.state
	}
	if f.policy != "" {
		cfg.Policy = f.policy
	}
	if f.timeout > 0 {
		cfg.RequestTimeoutMS = int(f.timeout / time.Millisecond)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logger.Init(logger.WithOutput(cmd.ErrOrStderr())); err != nil {
		return err
	}
	level := cfg.LogLevel
	if f.verbose {
		level = "debug"
	}
	if err := logger.SetLevelString(level); err != nil {
		return err
	}
	d.log = logger.Named("device")
	d.cfg = cfg
	d.out = cmd.OutOrStdout()
	d.json = f.json

	d.store, err = localstore.Open(ctx, cfg.StatePath, localstore.WithLogger(d.log.Named("localstore")))
	if err != nil {
		return fmt.Errorf("open device state: %w", err)
	}
	voter, err := d.store.VoterID(ctx)
	if err != nil {
		return err
	}
	d.client, err = remote.New(cfg.ServerURL, voter,
		remote.WithRetryMax(cfg.RetryMax),
		remote.WithRequestTimeout(cfg.RequestTimeout()),
		remote.WithLogger(d.log.Named("remote")),
	)
	if err != nil {
		return err
	}

	policy, err := reconcile.ParsePolicy(cfg.Policy)
	if err != nil {
		return err
	}
	deps := reconcile.Deps{Store: d.store, Remote: d.client}
	if policy == reconcile.PolicyLocal {
		q := queue.NewInMemoryQueue(queue.WithCapacity(cfg.MirrorQueueSize))
		d.pool = worker.NewPool(cfg.MirrorWorkers, q, d.client,
			worker.WithJobTimeout(cfg.RequestTimeout()),
			worker.WithLogger(d.log.Named("mirror")))
		d.pool.Start(ctx)
		deps.Mirror = q
	}
	d.rec, err = reconcile.New(policy, deps,
		reconcile.WithTimeout(cfg.RequestTimeout()),
		reconcile.WithLogger(d.log.Named("reconcile")))
	return err
}

// close drains pending mirrors and releases the state file.
func (d *device) close(ctx context.Context) {
	if d.pool != nil {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
		if err := d.pool.Drain(dctx); err != nil {
			d.log.Warn(ctx, "mirror queue not fully drained", logger.Error(err))
		}
		cancel()
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.log.Warn(ctx, "close device state", logger.Error(err))
		}
	}
	_ = logger.Sync()
}

func (d *device) print(v any, text func(w io.Writer)) error {
	if d.json {
		enc := json.NewEncoder(d.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(d.out)
	return nil
}

func rateCommand(d *device) *cobra.Command {
	return &cobra.Command{
		Use:   "rate <spot> <stars>",
		Short: "Rate a spot from 1 to 5 stars",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stars, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("%w: %q", model.ErrInvalidRating, args[1])
			}
			res, err := d.rec.Rate(cmd.Context(), args[0], stars)
			if err != nil {
				return explain(err)
			}
			return d.print(res, func(w io.Writer) { writeResult(w, res) })
		},
	}
}

func verdictCommand(d *device) *cobra.Command {
	return &cobra.Command{
		Use:   "verdict <spot> <buff|frame>",
		Short: "Say buff it or frame it. Repeating your verdict clears it.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := model.ParseVerdict(args[1])
			if err != nil {
				return err
			}
			res, err := d.rec.Verdict(cmd.Context(), args[0], v)
			if err != nil {
				return explain(err)
			}
			return d.print(res, func(w io.Writer) { writeResult(w, res) })
		},
	}
}

func summaryCommand(d *device) *cobra.Command {
	return &cobra.Command{
		Use:   "summary <spot>",
		Short: "Show a spot's ratings and verdicts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sum := d.rec.Summary(ctx, args[0])
			mine, err := d.rec.MyVote(ctx, args[0])
			if err != nil {
				d.log.Warn(ctx, "own vote unavailable", logger.Error(err))
			}
			out := struct {
				SpotID  string            `json:"spot_id"`
				Summary model.VoteSummary `json:"summary"`
				Mine    model.MyVote      `json:"mine"`
			}{args[0], sum, mine}
			return d.print(out, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %s\n", args[0], formatSummary(sum))
				fmt.Fprintf(w, "you: %s\n", formatMine(model.LocalVote{Rated: mine.Rating, Verdict: mine.Verdict}))
			})
		},
	}
}

func spotsCommand(d *device) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "spots",
		Short: "List spots, refreshing the local cache when the server answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			var spots []model.CachedSpot
			listed, err := d.client.ListSpots(ctx, limit)
			if err == nil {
				spots, err = spotcache.Merge(ctx, d.store, listed)
				if err != nil {
					d.log.Warn(ctx, "spot cache not refreshed", logger.Error(err))
					spots = toCached(listed)
				}
			} else {
				d.log.Warn(ctx, "server unavailable, showing cached spots", logger.Error(err))
				if spots, err = spotcache.Load(ctx, d.store); err != nil {
					return err
				}
			}
			return d.print(spots, func(w io.Writer) {
				if len(spots) == 0 {
					fmt.Fprintln(w, "no spots yet")
					return
				}
				for _, s := range spots {
					fmt.Fprintf(w, "%s  %-30s  %s\n", s.ID, s.Title, humanize.Time(s.CreatedAt))
				}
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum spots to fetch")
	return cmd
}

func addCommand(d *device) *cobra.Command {
	var in model.NewSpot
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Submit a new spot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			in.Title = args[0]
			spot, err := d.client.CreateSpot(ctx, in)
			if err != nil {
				return err
			}
			if err := spotcache.Add(ctx, d.store, model.CachedSpot{Spot: spot}); err != nil {
				// the spot exists remotely; keep the submission visible
				if errors.Is(err, localstore.ErrQuotaExceeded) {
					fmt.Fprintln(cmd.ErrOrStderr(), "device storage is full; the spot was saved on the server only")
				} else {
					d.log.Warn(ctx, "spot not cached", logger.Error(err))
				}
			}
			return d.print(spot, func(w io.Writer) { fmt.Fprintf(w, "added %s %q\n", spot.ID, spot.Title) })
		},
	}
	cmd.Flags().Float64Var(&in.Lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&in.Lng, "lng", 0, "longitude")
	cmd.Flags().StringVar(&in.Note, "note", "", "note")
	cmd.Flags().StringVar(&in.PhotoURL, "photo-url", "", "photo URL returned by POST /photos")
	cmd.Flags().StringVar(&in.PhotoPath, "photo-path", "", "photo bucket path")
	return cmd
}

func whoamiCommand(d *device) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show this device's voter id and state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			used, quota, err := d.store.Usage(cmd.Context())
			if err != nil {
				return err
			}
			info := map[string]any{
				"voter_id":    d.client.VoterID(),
				"policy":      d.rec.Policy(),
				"server_url":  d.cfg.ServerURL,
				"state_path":  d.cfg.StatePath,
				"state_bytes": used,
				"quota_bytes": quota,
			}
			return d.print(info, func(w io.Writer) {
				fmt.Fprintf(w, "voter   %s\npolicy  %s\nserver  %s\nstate   %s (%s of %s)\n",
					d.client.VoterID(), d.rec.Policy(), d.cfg.ServerURL, d.cfg.StatePath,
					humanize.IBytes(uint64(used)), humanize.IBytes(uint64(quota)))
			})
		},
	}
}

func toCached(spots []model.Spot) []model.CachedSpot {
	out := make([]model.CachedSpot, len(spots))
	for i, s := range spots {
		out[i] = model.CachedSpot{Spot: s}
	}
	return out
}

// explain turns reconciliation errors into messages a person can act on.
func explain(err error) error {
	switch {
	case errors.Is(err, reconcile.ErrPending):
		return fmt.Errorf("a vote on this spot is still in flight: %w", err)
	case errors.Is(err, spotcache.ErrNotFound):
		return fmt.Errorf("spot is not cached on this device, run `mtw spots` first: %w", err)
	case errors.Is(err, remote.ErrNotFound):
		return fmt.Errorf("no such spot on the server: %w", err)
	}
	return err
}

func writeResult(w io.Writer, res reconcile.Result) {
	fmt.Fprintf(w, "%s: %s\n", res.SpotID, formatSummary(res.Summary))
	fmt.Fprintf(w, "you: %s\n", formatMine(res.Mine))
}

func formatSummary(s model.VoteSummary) string {
	avg := "no ratings yet"
	if s.Avg != nil {
		avg = fmt.Sprintf("%.1f★ from %d", *s.Avg, s.Count)
	}
	return fmt.Sprintf("%s, buff %d, frame %d", avg, s.Buff, s.Frame)
}

func formatMine(v model.LocalVote) string {
	rated, verdict := "-", "-"
	if v.Rated != nil {
		rated = strconv.Itoa(*v.Rated) + "★"
	}
	if v.Verdict != nil {
		verdict = string(*v.Verdict)
	}
	return fmt.Sprintf("rated %s, verdict %s", rated, verdict)
}
