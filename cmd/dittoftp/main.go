package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/marmos91/dittoftp/internal/logger"
	"github.com/marmos91/dittoftp/pkg/config"
	"github.com/marmos91/dittoftp/pkg/server"
	"github.com/marmos91/dittoftp/pkg/usermanager"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"
)

// Set at build time with -ldflags "-X main.version=..."
var (
	version = "dev"
	commit  = "none"
)

const usage = `DittoFTP - multi-client FTP server

Usage:
  dittoftp <command> [flags]

Commands:
  start     Start the server
  init      Write a default configuration file
  user      Manage user accounts (add, list, delete, passwd)
  version   Print version information

Run 'dittoftp <command> -h' for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "start":
		err = runStart(os.Args[2:])
	case "init":
		err = runInit(os.Args[2:])
	case "user":
		err = runUser(os.Args[2:])
	case "version":
		fmt.Printf("dittoftp %s (commit %s)\n", version, commit)
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// ============================================================================
// start
// ============================================================================

func runStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/dittoftp/config.yaml)")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	if err := config.ApplyLogging(&cfg.Logging); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsResult := config.InitializeMetrics(cfg)
	if metricsResult.Server != nil {
		go func() {
			if err := metricsResult.Server.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	comp, err := config.InitializeServerContext(ctx, cfg, metricsResult)
	if err != nil {
		return err
	}
	defer func() {
		if err := comp.Close(); err != nil {
			logger.Error("Failed to close user store: %v", err)
		}
	}()
	metricsResult.ExposeStatus(comp.ServerContext)

	adapters, err := config.CreateAdapters(cfg, comp.Commands, metricsResult.FTPMetrics)
	if err != nil {
		return err
	}

	srv := server.New(comp.ServerContext)
	srv.StopTimeout = cfg.Server.ShutdownTimeout
	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			return err
		}
		logger.Info("Listener %s configured on port %d", a.Protocol(), a.Port())
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("DittoFTP %s is running. Press Ctrl+C to stop.", version)

	var serveErr error
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
		cancel()
		serveErr = <-serverDone
	case serveErr = <-serverDone:
	}

	if metricsResult.Server != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsResult.Server.Stop(stopCtx); err != nil {
			logger.Warn("Metrics server shutdown error: %v", err)
		}
		stopCancel()
	}

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return fmt.Errorf("server error: %w", serveErr)
	}
	logger.Info("Server stopped gracefully")
	return nil
}

// ============================================================================
// init
// ============================================================================

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("config", "", "Where to write the file (default: $XDG_CONFIG_HOME/dittoftp/config.yaml)")
	force := fs.Bool("force", false, "Overwrite an existing file")
	_ = fs.Parse(args)

	target := *path
	if target == "" {
		target = config.GetDefaultConfigPath()
	}

	if err := config.InitConfigToPath(target, *force); err != nil {
		return err
	}

	color.Green("Configuration written to %s", target)
	color.Yellow("The sample admin account uses password 'admin'. Change it before exposing the server.")
	return nil
}

// ============================================================================
// user
// ============================================================================

const userUsage = `Usage:
  dittoftp user add <name> [flags]
  dittoftp user list
  dittoftp user delete <name>
  dittoftp user passwd <name>

All subcommands accept -config.
`

func runUser(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, userUsage)
		return fmt.Errorf("missing user subcommand")
	}

	sub, rest := args[0], args[1:]
	switch sub {
	case "add":
		return runUserAdd(rest)
	case "list":
		return runUserList(rest)
	case "delete":
		return runUserDelete(rest)
	case "passwd":
		return runUserPasswd(rest)
	default:
		fmt.Fprint(os.Stderr, userUsage)
		return fmt.Errorf("unknown user subcommand %q", sub)
	}
}

// openUsers loads the configuration and opens its user store. Seed users
// are created as on server start.
func openUsers(configPath string) (*usermanager.Manager, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	// Keep store initialization logs out of the command output
	logger.SetLevel("WARN")

	if cfg.Users.Type == "memory" {
		color.Yellow("Warning: users.type is 'memory'; changes are lost when this command exits.")
	}
	return config.CreateUserManager(context.Background(), &cfg.Users)
}

// nameArg splits "<name> [flags]" so the name may come before the flags.
func nameArg(fs *flag.FlagSet, args []string) (string, error) {
	var name string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		name, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if name == "" && fs.NArg() > 0 {
		name = fs.Arg(0)
	}
	if name == "" {
		return "", fmt.Errorf("user name is required")
	}
	return name, nil
}

func runUserAdd(args []string) error {
	fs := flag.NewFlagSet("user add", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	home := fs.String("home", "/", "Home directory inside the file system backend")
	write := fs.Bool("write", false, "Grant write permission")
	writePaths := fs.String("write-paths", "", "Comma separated subtrees the write permission is limited to")
	disabled := fs.Bool("disabled", false, "Create the account disabled")
	maxLogins := fs.Int("max-logins", 0, "Concurrent logins allowed (0 = unlimited)")
	maxLoginsPerIP := fs.Int("max-logins-per-ip", 0, "Concurrent logins per client address (0 = unlimited)")
	idle := fs.Duration("idle", 0, "Idle timeout overriding the listener's (0 = listener default)")
	upRate := fs.Int("upload-rate", 0, "Upload limit in bytes/s (0 = unlimited)")
	downRate := fs.Int("download-rate", 0, "Download limit in bytes/s (0 = unlimited)")
	password := fs.String("password", "", "Password (prompted when omitted)")

	name, err := nameArg(fs, args)
	if err != nil {
		return err
	}

	m, err := openUsers(*configPath)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	ctx := context.Background()
	exists, err := m.DoesExist(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("user %q already exists", name)
	}

	pw := *password
	if pw == "" && name != usermanager.AnonymousName {
		if pw, err = promptPassword(); err != nil {
			return err
		}
	}

	u := &usermanager.User{
		Name:            name,
		Password:        pw,
		HomeDir:         *home,
		Enabled:         !*disabled,
		WritePermission: *write,
		MaxIdleTime:     *idle,
		MaxLogins:       *maxLogins,
		MaxLoginsPerIP:  *maxLoginsPerIP,
		MaxUploadRate:   *upRate,
		MaxDownloadRate: *downRate,
	}
	if *writePaths != "" {
		for _, p := range strings.Split(*writePaths, ",") {
			if p = strings.TrimSpace(p); p != "" {
				u.WritePaths = append(u.WritePaths, p)
			}
		}
	}

	if err := m.Save(ctx, u); err != nil {
		return err
	}

	color.Green("User %q created", name)
	return nil
}

func runUserList(args []string) error {
	fs := flag.NewFlagSet("user list", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	m, err := openUsers(*configPath)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	ctx := context.Background()
	names, err := m.AllUserNames(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("No users configured")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Name", "Home", "Enabled", "Write", "Max Logins", "Idle", "Up B/s", "Down B/s")
	for _, name := range names {
		u, err := m.GetUserByName(ctx, name)
		if err != nil {
			return err
		}

		write := yesNo(u.WritePermission)
		if u.WritePermission && len(u.WritePaths) > 0 {
			write = strings.Join(u.WritePaths, ",")
		}
		role := u.Name
		if m.IsAdmin(u.Name) {
			role += " (admin)"
		}

		if err := table.Append(
			role,
			u.HomeDir,
			yesNo(u.Enabled),
			write,
			limit(u.MaxLogins),
			durationOrDefault(u.MaxIdleTime),
			limit(u.MaxUploadRate),
			limit(u.MaxDownloadRate),
		); err != nil {
			return err
		}
	}
	return table.Render()
}

func runUserDelete(args []string) error {
	fs := flag.NewFlagSet("user delete", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")

	name, err := nameArg(fs, args)
	if err != nil {
		return err
	}

	m, err := openUsers(*configPath)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	ctx := context.Background()
	exists, err := m.DoesExist(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("user %q does not exist", name)
	}

	if err := m.Delete(ctx, name); err != nil {
		return err
	}
	color.Green("User %q deleted", name)
	return nil
}

func runUserPasswd(args []string) error {
	fs := flag.NewFlagSet("user passwd", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	password := fs.String("password", "", "New password (prompted when omitted)")

	name, err := nameArg(fs, args)
	if err != nil {
		return err
	}

	m, err := openUsers(*configPath)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	ctx := context.Background()
	u, err := m.GetUserByName(ctx, name)
	if err != nil {
		return err
	}

	pw := *password
	if pw == "" {
		if pw, err = promptPassword(); err != nil {
			return err
		}
	}
	u.Password = pw

	if err := m.Save(ctx, u); err != nil {
		return err
	}
	color.Green("Password of %q updated", name)
	return nil
}

// promptPassword reads a password twice without echo when stdin is a
// terminal, or one line otherwise.
func promptPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Print("Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	fmt.Print("Repeat password: ")
	second, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	if string(first) != string(second) {
		return "", fmt.Errorf("passwords do not match")
	}
	if len(first) == 0 {
		return "", fmt.Errorf("password must not be empty")
	}
	return string(first), nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func limit(n int) string {
	if n == 0 {
		return "-"
	}
	return strconv.Itoa(n)
}

func durationOrDefault(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.String()
}
