package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"cyclecount/internal"
	"cyclecount/internal/auth"
	"cyclecount/internal/config"
	"cyclecount/internal/ingest"
	"cyclecount/internal/logging"
	"cyclecount/internal/sampling"
	"cyclecount/internal/storage"
	"cyclecount/internal/tabular"
	"cyclecount/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	if cmd == "users:hash" {
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		password := fs.String("password", os.Getenv("CYCLECOUNT_PASSWORD"), "plain password")
		_ = fs.Parse(os.Args[2:])
		if *password == "" {
			must(fmt.Errorf("--password is required"))
		}
		hash, err := auth.HashPassword(*password, 0)
		must(err)
		fmt.Println(hash)
		return
	}

	log := logging.New(cfg)
	defer func() { _ = log.Sync() }()

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	ctx := context.Background()
	adapter, err := openAdapter(ctx, cfg, db, log)
	must(err)
	svc, err := workflow.New(cfg, adapter, db, log)
	must(err)

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	user := fs.String("user", "", "username from the users file")
	password := fs.String("password", os.Getenv("CYCLECOUNT_PASSWORD"), "password (or CYCLECOUNT_PASSWORD)")
	sessionID := fs.String("session", "", "session id")

	switch cmd {
	case "session:start":
		file := fs.String("file", "", "stock report (xlsx or html export)")
		org := fs.String("org", "", "organization")
		branch := fs.String("branch", "", "branch / location name")
		id := fs.String("id", "", "explicit session id")
		seed := fs.Uint64("seed", 0, "sampling seed, 0 for random")
		_ = fs.Parse(os.Args[2:])
		if *file == "" || *org == "" || *branch == "" {
			must(fmt.Errorf("--file --org --branch are required"))
		}
		actor := login(cfg, *user, *password)
		tbl, err := ingest.ReadFile(*file)
		must(err)
		lines, err := ingest.ParseStockReport(tbl)
		must(err)
		if *seed != 0 {
			svc.SetSampler(sampling.NewSeeded(*seed))
		}
		t := svc.Targets()
		fmt.Printf("sample targets A=%d B=%d C=%d\n", t.A, t.B, t.C)
		out := svc.StartSession(ctx, actor, *id, internal.Branch{Organization: *org, Location: *branch}, lines)
		if out.SessionID != "" && *seed != 0 && out.Status != internal.OutcomeFailed {
			must(db.SetMetadata("seed:"+out.SessionID, strconv.FormatUint(*seed, 10)))
		}
		finish(out)
	case "session:list":
		open := fs.Bool("open", false, "only open sessions")
		_ = fs.Parse(os.Args[2:])
		actor := login(cfg, *user, *password)
		list := svc.ListSessions
		if *open {
			list = svc.ListOpenSessions
		}
		sessions, err := list(ctx, actor)
		must(err)
		for _, s := range sessions {
			fmt.Printf("%s\t%s\t%s / %s\t%s\t%s\n", s.ID, s.Status, s.Branch.Organization, s.Branch.Location, s.CreatedBy, s.CreatedAt.Format("2006-01-02 15:04"))
		}
	case "session:lines":
		_ = fs.Parse(os.Args[2:])
		requireSession(*sessionID)
		actor := login(cfg, *user, *password)
		lines, err := svc.Lines(ctx, actor, *sessionID)
		must(err)
		for _, l := range lines {
			fmt.Printf("%s\t%s\t%s\t%g\t%s\t%s\n", l.Article, l.Location, l.Tier, l.Stock, formatOptional(l.PhysicalCount), l.State())
		}
	case "count:import":
		file := fs.String("file", "", "counts sheet")
		_ = fs.Parse(os.Args[2:])
		requireSession(*sessionID)
		actor := login(cfg, *user, *password)
		entries, err := ingest.ParseCounts(readInput(*file))
		must(err)
		finish(svc.SubmitCounts(ctx, actor, *sessionID, entries))
	case "justify:import":
		file := fs.String("file", "", "justifications sheet")
		_ = fs.Parse(os.Args[2:])
		requireSession(*sessionID)
		actor := login(cfg, *user, *password)
		entries, err := ingest.ParseJustifications(readInput(*file))
		must(err)
		finish(svc.SubmitJustifications(ctx, actor, *sessionID, entries))
	case "validate:import":
		file := fs.String("file", "", "validations sheet")
		_ = fs.Parse(os.Args[2:])
		requireSession(*sessionID)
		actor := login(cfg, *user, *password)
		entries, err := ingest.ParseValidations(readInput(*file))
		must(err)
		finish(svc.Validate(ctx, actor, *sessionID, entries))
	case "session:close":
		_ = fs.Parse(os.Args[2:])
		requireSession(*sessionID)
		actor := login(cfg, *user, *password)
		finish(svc.CloseSession(ctx, actor, *sessionID))
	case "report:show":
		_ = fs.Parse(os.Args[2:])
		requireSession(*sessionID)
		actor := login(cfg, *user, *password)
		s, err := svc.Report(ctx, actor, *sessionID)
		must(err)
		fmt.Printf("session %s lines=%d uncounted=%d pending_validation=%d\n", s.SessionID, s.Lines, s.Uncounted, s.PendingValidation)
		fmt.Printf("sample    %s units  $%s\n", s.Sample.Count, s.Sample.Value.StringFixed(2))
		fmt.Printf("shortage  %s units  $%s\n", s.Shortage.Count, s.Shortage.Value.StringFixed(2))
		fmt.Printf("surplus   %s units  $%s\n", s.Surplus.Count, s.Surplus.Value.StringFixed(2))
		fmt.Printf("net       %s units  $%s\n", s.Net.Count, s.Net.Value.StringFixed(2))
		fmt.Printf("absolute  %s units  $%s  %s%%\n", s.Absolute.Count, s.Absolute.Value.StringFixed(2), s.AbsolutePct.StringFixed(2))
		fmt.Printf("grade     %d%%\n", s.Grade)
	case "report:export":
		out := fs.String("out", "", "output xlsx path (default OUTPUT_DIR/Reporte_<session>.xlsx)")
		_ = fs.Parse(os.Args[2:])
		requireSession(*sessionID)
		actor := login(cfg, *user, *password)
		path, res := svc.ExportReport(ctx, actor, *sessionID, *out)
		if res.OK() {
			must(db.SetMetadata("report:"+*sessionID, path))
		}
		finish(res)
	case "audit:list":
		_ = fs.Parse(os.Args[2:])
		actor := login(cfg, *user, *password)
		if !auth.CanViewAudit(actor.Role) {
			must(fmt.Errorf("%w: %s cannot view the audit log", workflow.ErrForbidden, actor.Username))
		}
		entries, err := db.ListAudit(ctx, *sessionID)
		must(err)
		for _, e := range entries {
			fmt.Printf("%s\t%s\t%s\t%s\t%d\t%s\t%s\n", e.Timestamp.Local().Format(time.DateTime), e.Actor, e.Action, e.SessionID, e.Rows, e.Outcome, e.Message)
		}
	case "users:list":
		_ = fs.Parse(os.Args[2:])
		actor := login(cfg, *user, *password)
		if !auth.CanListUsers(actor.Role) {
			must(fmt.Errorf("%w: %s cannot list users", workflow.ErrForbidden, actor.Username))
		}
		dir, err := auth.LoadDirectory(cfg.UsersFile)
		must(err)
		for _, u := range dir.Users() {
			fmt.Printf("%s\t%s\t%s\n", u.Username, u.Name, u.Role.Wire())
		}
	default:
		usage()
		os.Exit(1)
	}
}

func openAdapter(ctx context.Context, cfg config.Config, db *storage.DB, log *zap.Logger) (*tabular.Adapter, error) {
	opts := tabular.Options{
		Logger:      log,
		MaxAttempts: cfg.MergeMaxAttempts,
		Cache:       tabular.NewMemoryCache(time.Duration(cfg.CacheTTLSec) * time.Second),
		Locker:      tabular.NewLocalLocker(),
	}
	if strings.TrimSpace(cfg.RedisAddress) != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddress, err)
		}
		ttl := time.Duration(cfg.LockTTLSec) * time.Second
		opts.Cache = tabular.NewRedisCache(client, "cyclecount:table:", time.Duration(cfg.CacheTTLSec)*time.Second)
		opts.Locker = tabular.NewRedisLocker(client, ttl, ttl)
	}

	var backend tabular.Backend
	switch cfg.StoreBackend {
	case "sheets":
		sb, err := tabular.NewSheetsBackend(ctx, cfg)
		if err != nil {
			return nil, err
		}
		backend = sb
		opts.Limiter = tabular.NewRateLimiter(cfg.SheetsRateLimitRPS)
	case "sqlite":
		backend = db
	default:
		return nil, fmt.Errorf("unsupported STORE_BACKEND: %s", cfg.StoreBackend)
	}
	return tabular.NewAdapter(backend, opts), nil
}

func login(cfg config.Config, username, password string) workflow.Actor {
	if strings.TrimSpace(username) == "" {
		must(fmt.Errorf("--user is required"))
	}
	dir, err := auth.LoadDirectory(cfg.UsersFile)
	must(err)
	u, err := dir.Authenticate(username, password)
	must(err)
	return workflow.ActorFromUser(u)
}

func readInput(path string) tabular.Table {
	if strings.TrimSpace(path) == "" {
		must(fmt.Errorf("--file is required"))
	}
	tbl, err := ingest.ReadFile(path)
	must(err)
	return tbl
}

func requireSession(id string) {
	if strings.TrimSpace(id) == "" {
		must(fmt.Errorf("--session is required"))
	}
}

func formatOptional(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// finish prints the outcome and exits non-zero unless it succeeded.
func finish(out internal.Outcome) {
	fmt.Printf("%s: %s\n", out.Status, out.Message)
	for _, w := range out.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
	switch {
	case out.OK():
		return
	case out.Retryable:
		fmt.Fprintln(os.Stderr, "the operation can be retried")
		os.Exit(75)
	default:
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("usage: cyclecount <command>")
	fmt.Println("commands:")
	fmt.Println("  users:hash --password=...")
	fmt.Println("  session:start --user=... --file=stock.xlsx --org=... --branch=... [--id=...] [--seed=N]")
	fmt.Println("  users:list --user=...")
	fmt.Println("  session:list --user=... [--open]")
	fmt.Println("  session:lines --user=... --session=INV-...")
	fmt.Println("  count:import --user=... --session=INV-... --file=counts.xlsx")
	fmt.Println("  justify:import --user=... --session=INV-... --file=justifications.xlsx")
	fmt.Println("  validate:import --user=... --session=INV-... --file=validations.xlsx")
	fmt.Println("  session:close --user=... --session=INV-...")
	fmt.Println("  report:show --user=... --session=INV-...")
	fmt.Println("  report:export --user=... --session=INV-... [--out=./out/report.xlsx]")
	fmt.Println("  audit:list --user=... [--session=INV-...]")
	fmt.Println("passwords are read from --password or CYCLECOUNT_PASSWORD")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
