// Package main provides a headless terminal client for placing and
// receiving calls.
//
// Commands are read from standard input, one per line:
//
//	call <address|username> [video]   place a call
//	accept | reject | hangup          answer, decline or end
//	mute | unmute                     toggle the microphone
//	camera on|off                     toggle the camera
//	share | unshare                   screen sharing
//	retry | dismiss                   act on the last notice
//	status | history | quit
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opd-ai/peercall"
	"github.com/opd-ai/peercall/av"
	"github.com/opd-ai/peercall/media"
)

// CLI configuration
type CLIConfig struct {
	email    string
	envFile  string
	logLevel string
	simulate bool
	timeout  time.Duration
	help     bool
}

func parseCLIFlags() *CLIConfig {
	config := &CLIConfig{}

	flag.StringVar(&config.email, "email", os.Getenv("PEERCALL_EMAIL"), "Local address to log in as")
	flag.StringVar(&config.envFile, "env", "", "Environment file (default: .env when present)")
	flag.StringVar(&config.logLevel, "log-level", "", "Override PEERCALL_LOG_LEVEL")
	flag.BoolVar(&config.simulate, "simulate", false, "Use the in-memory broker and synthetic media")
	flag.DurationVar(&config.timeout, "login-timeout", 15*time.Second, "Broker registration timeout")
	flag.BoolVar(&config.help, "help", false, "Show help message")

	flag.Parse()
	return config
}

func printUsage() {
	fmt.Println("peercall - headless call client")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  %s -email alice@example.com [options]\n", os.Args[0])
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("All PEERCALL_ environment variables are honored; see the peercall package.")
}

func validateCLIConfig(config *CLIConfig) error {
	if config.email == "" {
		return fmt.Errorf("email is required")
	}
	if config.timeout <= 0 {
		return fmt.Errorf("login timeout must be positive")
	}
	return nil
}

func main() {
	config := parseCLIFlags()
	if config.help {
		printUsage()
		os.Exit(0)
	}
	if err := validateCLIConfig(config); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n\n", err)
		printUsage()
		os.Exit(1)
	}

	if err := run(config, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "peercall: %v\n", err)
		os.Exit(1)
	}
}

func run(config *CLIConfig, in io.Reader, out io.Writer) error {
	opts, err := peercall.LoadOptions(config.envFile)
	if err != nil {
		return err
	}
	if config.logLevel != "" {
		opts.LogLevel = config.logLevel
	}
	if config.simulate {
		opts.UseSimulation = true
	}
	opts.ApplyLogLevel()

	client, err := peercall.New(opts, peercall.WithRinger(av.LogRinger{}))
	if err != nil {
		return err
	}
	defer client.Close()

	client.OnStateChange(func(s av.Snapshot) { printSnapshot(out, s) })

	ctx, cancel := context.WithTimeout(context.Background(), config.timeout)
	err = client.Login(ctx, config.email)
	cancel()
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Fprintf(out, "Logged in as %s. Type a command.\n", config.email)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "Interrupted.")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := execute(ctx, client, line, out)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// execute runs one command line. It reports whether the client should exit.
func execute(ctx context.Context, client *peercall.Client, line string, out io.Writer) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	switch cmd, args := strings.ToLower(fields[0]), fields[1:]; cmd {
	case "call":
		if len(args) == 0 {
			return false, fmt.Errorf("usage: call <address|username> [video]")
		}
		kind := media.KindAudio
		if len(args) > 1 && strings.EqualFold(args[1], "video") {
			kind = media.KindVideo
		}
		return false, client.Call(ctx, args[0], kind)
	case "accept":
		return false, client.Accept(ctx)
	case "reject":
		return false, client.Reject()
	case "hangup":
		return false, client.HangUp()
	case "mute":
		return false, client.ToggleAudio(false)
	case "unmute":
		return false, client.ToggleAudio(true)
	case "camera":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: camera on|off")
		}
		return false, client.ToggleVideo(strings.EqualFold(args[0], "on"))
	case "share":
		return false, client.StartScreenShare(ctx)
	case "unshare":
		return false, client.StopScreenShare()
	case "retry":
		return false, client.Retry(ctx)
	case "dismiss":
		client.DismissNotice()
		return false, nil
	case "status":
		printSnapshot(out, client.Snapshot())
		if level := client.RemoteAudioLevel(); level > 0 {
			fmt.Fprintf(out, "  remote level %.2f\n", level)
		}
		return false, nil
	case "history":
		printHistory(out, client.History())
		return false, nil
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q", cmd)
	}
}

func printSnapshot(out io.Writer, s av.Snapshot) {
	switch s.State {
	case av.StateIdle:
		status := "ready"
		if !s.Ready {
			status = "offline"
		}
		fmt.Fprintf(out, "[%s] %s\n", s.Phase(), status)
	case av.StateConnected:
		fmt.Fprintf(out, "[%s] %s (%s call, %s) mic=%t camera=%t sharing=%t\n",
			s.Phase(), s.RemoteName, s.Kind, s.Duration, s.AudioEnabled, s.VideoEnabled, s.ScreenSharing)
	default:
		fmt.Fprintf(out, "[%s] %s (%s call)\n", s.Phase(), s.RemoteName, s.Kind)
	}
	if s.State == av.StateIdle && s.Notice != nil {
		hint := ""
		if s.Notice.Retryable {
			hint = " Type 'retry' to call again."
		}
		fmt.Fprintf(out, "  %s%s\n", s.Notice.Message, hint)
	}
}

func printHistory(out io.Writer, h *av.CallHistory) {
	records := h.Records()
	if len(records) == 0 {
		fmt.Fprintln(out, "No calls yet.")
		return
	}
	for _, r := range records {
		fmt.Fprintf(out, "%s  %-6s %-20s %-10s %s\n",
			r.EndedAt.Format(time.Kitchen), r.Role, r.Name, r.State, r.Duration)
	}
	stats := h.Stats()
	fmt.Fprintf(out, "%d calls, %d connected, %d missed, average %s\n",
		stats.TotalCalls, stats.ConnectedCalls, stats.MissedCalls, stats.AverageDuration.Truncate(time.Second))
}
