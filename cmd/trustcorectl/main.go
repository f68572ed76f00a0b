// trustcorectl is the control CLI for trustcore: inspect device
// identity, credential and license state, and the entitlement history
// log without going through a host application.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"trustcore/internal/config"
	"trustcore/internal/logging"
	"trustcore/internal/trustcore"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
	Commit    = "unknown"
)

var (
	configPath  = flag.String("config", "", "path to config file")
	noColor     = flag.Bool("no-color", false, "disable colored output")
	showVersion = flag.Bool("version", false, "show version information")
	quiet       = flag.Bool("q", false, "suppress banner")
)

type colors struct {
	Reset, Bold, Dim, Red, Green, Yellow, Cyan string
}

var c colors

func initColors() {
	if *noColor || os.Getenv("NO_COLOR") != "" || !isTerminal() {
		c = colors{}
		return
	}
	c = colors{
		Reset:  "\033[0m",
		Bold:   "\033[1m",
		Dim:    "\033[2m",
		Red:    "\033[31m",
		Green:  "\033[32m",
		Yellow: "\033[33m",
		Cyan:   "\033[36m",
	}
}

func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

const banner = `
%s    ╔╦╗╦═╗╦ ╦╔═╗╔╦╗  ╔═╗╔═╗╦═╗╔═╗%s
%s     ║ ╠╦╝║ ║╚═╗ ║   ║  ║ ║╠╦╝║╣ %s%sctl%s
%s     ╩ ╩╚═╚═╝╚═╝ ╩   ╚═╝╚═╝╩╚═╚═╝%s

`

func printBanner() {
	fmt.Fprintf(os.Stderr, banner,
		c.Cyan+c.Bold, c.Reset,
		c.Cyan+c.Bold, c.Reset, c.Dim, c.Reset,
		c.Dim, c.Reset,
	)
}

func printVersion() {
	fmt.Printf("%strustcorectl%s %s%s%s\n", c.Bold, c.Reset, c.Cyan, Version, c.Reset)
	fmt.Printf("  %sBuild%s     %s\n", c.Dim, c.Reset, BuildTime)
	fmt.Printf("  %sCommit%s    %s\n", c.Dim, c.Reset, Commit)
	fmt.Printf("  %sPlatform%s  %s/%s\n", c.Dim, c.Reset, runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  %sGo%s        %s\n", c.Dim, c.Reset, runtime.Version())
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "%s%s ERROR %s %s\n", c.Bold, c.Red, c.Reset, msg)
}

func printSection(title string) {
	fmt.Printf("\n%s%s %s %s\n\n", c.Bold, c.Cyan, title, c.Reset)
}

func usage() {
	fmt.Fprintf(os.Stderr, `%sUSAGE%s
    trustcorectl [options] <command> [arguments]

%sCOMMANDS%s
    %sstatus%s                Show device, license, and credential state
    %sactivate%s <key>        Activate a license key
    %sdeactivate%s            Release the current license
    %svalidate%s              Run background license validation now
    %shistory%s               Show the entitlement event history
    %smigrate%s               Migrate legacy credentials into the sealed store
    %shelp%s                  Show this help message
    %sversion%s               Show version information

%sOPTIONS%s
    -config <path>   Path to config file
    -no-color        Disable colored output
    -q               Suppress banner

`,
		c.Bold, c.Reset,
		c.Bold, c.Reset,
		c.Cyan, c.Reset,
		c.Cyan, c.Reset,
		c.Cyan, c.Reset,
		c.Cyan, c.Reset,
		c.Cyan, c.Reset,
		c.Cyan, c.Reset,
		c.Cyan, c.Reset,
		c.Cyan, c.Reset,
		c.Bold, c.Reset,
	)
}

func main() {
	flag.Parse()
	initColors()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if flag.NArg() < 1 {
		if !*quiet {
			printBanner()
		}
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)
	if !*quiet && cmd != "help" && cmd != "version" {
		printBanner()
	}

	switch cmd {
	case "status":
		cmdStatus()
	case "activate":
		if flag.NArg() < 2 {
			printError("Usage: trustcorectl activate <license-key>")
			os.Exit(1)
		}
		cmdActivate(flag.Arg(1))
	case "deactivate":
		cmdDeactivate()
	case "validate":
		cmdValidate()
	case "history":
		cmdHistory()
	case "migrate":
		cmdMigrate()
	case "help":
		if !*quiet {
			printBanner()
		}
		usage()
	case "version":
		printVersion()
	default:
		printError(fmt.Sprintf("Unknown command: %s", cmd))
		usage()
		os.Exit(1)
	}
}

func openCore() *trustcore.Core {
	cfg, err := config.Load(*configPath)
	if err != nil {
		printError(fmt.Sprintf("loading config: %v", err))
		os.Exit(1)
	}

	log, err := logging.New(&logging.Config{
		Level:     logging.LevelInfo,
		Format:    logging.FormatText,
		Output:    "stderr",
		Component: "trustcorectl",
	})
	if err != nil {
		printError(fmt.Sprintf("starting logger: %v", err))
		os.Exit(1)
	}

	core, err := trustcore.Open(cfg, log)
	if err != nil {
		printError(fmt.Sprintf("opening trust core: %v", err))
		os.Exit(1)
	}
	return core
}

func cmdStatus() {
	core := openCore()
	defer core.Close()

	printSection("DEVICE")
	fmt.Printf("  %sDevice ID%s   %s\n", c.Dim, c.Reset, core.GetDeviceID())

	printSection("CREDENTIALS")
	if core.HasCredentials() {
		record, err := core.GetCredentials()
		if err != nil {
			fmt.Printf("  %sStatus%s      %s%sINVALID%s (%v)\n", c.Dim, c.Reset, c.Bold, c.Red, c.Reset, err)
		} else {
			fmt.Printf("  %sStatus%s      %s%sPRESENT%s\n", c.Dim, c.Reset, c.Bold, c.Green, c.Reset)
			if record.UserEmail != "" {
				fmt.Printf("  %sAccount%s     %s\n", c.Dim, c.Reset, record.UserEmail)
			}
		}
	} else {
		fmt.Printf("  %sStatus%s      %sNOT LINKED%s\n", c.Dim, c.Reset, c.Dim, c.Reset)
	}

	printSection("LICENSE")
	status := core.GetLicenseStatus()
	switch {
	case status.TimeTamperDetected:
		fmt.Printf("  %sStatus%s      %s%sTAMPER SUSPECT%s (system clock moved backward)\n", c.Dim, c.Reset, c.Bold, c.Red, c.Reset)
	case status.IsPro && status.LicenseKey != nil:
		fmt.Printf("  %sStatus%s      %s%sLICENSED%s\n", c.Dim, c.Reset, c.Bold, c.Green, c.Reset)
		fmt.Printf("  %sKey%s         %s\n", c.Dim, c.Reset, *status.LicenseKey)
		if status.InGracePeriod {
			fmt.Printf("  %sGrace%s       %sin grace period, revalidation overdue%s\n", c.Dim, c.Reset, c.Yellow, c.Reset)
		}
	case status.IsTrial:
		fmt.Printf("  %sStatus%s      %s%sTRIAL%s\n", c.Dim, c.Reset, c.Bold, c.Cyan, c.Reset)
		if status.TrialEndsAt != nil {
			fmt.Printf("  %sEnds%s        %s\n", c.Dim, c.Reset, time.Unix(*status.TrialEndsAt, 0).Format(time.RFC3339))
		}
	default:
		fmt.Printf("  %sStatus%s      %sUNLICENSED%s\n", c.Dim, c.Reset, c.Dim, c.Reset)
	}
	fmt.Println()
}

func cmdActivate(key string) {
	core := openCore()
	defer core.Close()

	result, err := core.ActivateLicense(context.Background(), key)
	if err != nil {
		printError(fmt.Sprintf("activation request failed: %v", err))
		os.Exit(1)
	}
	if !result.Success {
		printError(fmt.Sprintf("activation rejected: %s", result.ErrorMessage))
		os.Exit(1)
	}
	fmt.Printf("%s%s LICENSE ACTIVATED %s\n\n", c.Bold, c.Green, c.Reset)
}

func cmdDeactivate() {
	core := openCore()
	defer core.Close()

	if err := core.DeactivateLicense(context.Background()); err != nil {
		printError(fmt.Sprintf("deactivation failed: %v", err))
		os.Exit(1)
	}
	fmt.Printf("%s%s LICENSE DEACTIVATED %s\n\n", c.Bold, c.Green, c.Reset)
}

func cmdValidate() {
	core := openCore()
	defer core.Close()

	result, err := core.ValidateLicenseBackground(context.Background())
	if err != nil {
		printError(fmt.Sprintf("validation failed: %v", err))
		os.Exit(1)
	}
	switch {
	case result.Downgraded:
		fmt.Printf("%s%s LICENSE DOWNGRADED %s\n\n", c.Bold, c.Yellow, c.Reset)
	case result.InGracePeriod:
		fmt.Printf("%s%s VALIDATION DEFERRED %s (offline, within grace period)\n\n", c.Bold, c.Yellow, c.Reset)
	case result.Success:
		fmt.Printf("%s%s VALIDATION OK %s\n\n", c.Bold, c.Green, c.Reset)
	default:
		fmt.Printf("  %sNo license to validate.%s\n\n", c.Dim, c.Reset)
	}
}

func cmdHistory() {
	core := openCore()
	defer core.Close()

	events, err := core.History()
	if err != nil {
		printError(fmt.Sprintf("reading history: %v", err))
		os.Exit(1)
	}

	if len(events) == 0 {
		fmt.Printf("  %sNo entitlement events recorded.%s\n", c.Dim, c.Reset)
		return
	}

	printSection("ENTITLEMENT HISTORY")
	for _, e := range events {
		mark := c.Green + "✓" + c.Reset
		if !e.Verified {
			mark = c.Red + "✗" + c.Reset
		}
		fmt.Printf("  %s  %s  %-22s  %s\n", mark, e.OccurredAt.Format(time.RFC3339), e.Type, e.Detail)
	}
	fmt.Println()
}

func cmdMigrate() {
	core := openCore()
	defer core.Close()

	migrated, err := core.MigrateCredentials()
	if err != nil {
		printError(fmt.Sprintf("migration failed: %v", err))
		os.Exit(1)
	}
	if migrated {
		fmt.Printf("%s%s CREDENTIALS MIGRATED %s\n\n", c.Bold, c.Green, c.Reset)
	} else {
		fmt.Printf("  %sNothing to migrate.%s\n\n", c.Dim, c.Reset)
	}
}
