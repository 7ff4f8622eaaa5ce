package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/airframesio/checksumo/cmd/diff"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitInterrupted = 130
)

// exitFunc terminates the process when the deadline passes outside wait mode
var exitFunc = os.Exit

func runCheck(tables []string) (code int) {
	// Add panic recovery to catch any unexpected crashes
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "\n❌ PANIC: %v\n", r)
			code = exitFailure
		}
	}()

	config := loadConfig(viper.GetViper(), tables)

	closer, err := initLogger(config.Debug, config.LogFormat, config.LogDir, !config.TUI)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailure
	}
	defer closer.Close()

	logger.Info("")
	logger.Info(fmt.Sprintf("🚀 checksumo v%s", Version))
	logger.Info("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	logger.Debug("Validating configuration...")
	if err := config.Validate(); err != nil {
		logger.Error(fmt.Sprintf("❌ Configuration error: %s", err.Error()))
		return exitFailure
	}
	logger.Debug("Configuration validated successfully")

	ctx := signalContext
	if ctx == nil {
		logger.Warn("Signal context not set, creating fallback...")
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
	}

	return executeCheck(ctx, config)
}

func executeCheck(ctx context.Context, config *Config) int {
	runID := uuid.NewString()
	start := time.Now()
	deadline := start.Add(config.Timeout)

	if err := WritePIDFile(); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			logger.Error(fmt.Sprintf("❌ %v", err))
			return exitFailure
		}
		logger.Warn(fmt.Sprintf("⚠️  Could not write PID file: %v", err))
	}
	defer func() {
		_ = RemovePIDFile()
		_ = RemoveTaskFile()
	}()

	task := &TaskInfo{
		PID:       os.Getpid(),
		RunID:     runID,
		StartTime: start,
		Mode:      config.WatchMode,
		Tables:    config.Tables,
		State:     diff.StateScanning.String(),
		Deadline:  deadline,
	}
	if err := WriteTaskInfo(task); err != nil {
		logger.Debug(fmt.Sprintf("Could not write task info: %v", err))
	}

	var out io.Writer = os.Stdout
	var tuiOut bytes.Buffer
	if config.TUI {
		// stdout would tear through the dashboard, SQL is printed once it closes
		out = &tuiOut
	}

	checker := NewChecker(config, logger, out, runID)
	checker.Observe(taskObserver(task))

	if config.ReportEnabled() {
		sink, err := NewReportSink(config, logger)
		if err != nil {
			logger.Error(fmt.Sprintf("❌ %v", err))
			return exitFailure
		}
		checker.WithReportSink(sink)
	}

	// Set while the dashboard owns the terminal
	var program atomic.Pointer[tea.Program]
	release := func() {
		if p := program.Load(); p != nil {
			_ = p.ReleaseTerminal()
		}
	}

	alarm := NewAlarm(deadline, deadlineHandler(config.WatchMode, release))
	alarmCtx, stopAlarm := context.WithCancel(ctx)
	defer stopAlarm()
	alarm.Start(alarmCtx)

	logger.Debug(fmt.Sprintf("Run %s, deadline %s", runID, deadline.Format(time.RFC3339)))

	var err error
	if config.TUI {
		err = runWithTUI(ctx, config, checker, alarm, start, &program)
		os.Stdout.Write(tuiOut.Bytes())
	} else {
		_, err = checker.Run(ctx, alarm.Done())
	}

	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		logger.Info("")
		logger.Info("✅ Check completed")
		return exitOK
	case errors.Is(err, context.Canceled):
		logger.Info("")
		logger.Info("⚠️  Check cancelled by user")
		return exitInterrupted
	default:
		logger.Error(fmt.Sprintf("❌ Check failed: %s", err.Error()))
		return exitFailure
	}
}

// deadlineHandler returns the alarm hook for mode. The wait loop consumes the
// alarm itself; every other mode stops the process after calling release,
// which hands the terminal back when a dashboard is running.
func deadlineHandler(mode string, release func()) func(time.Time) {
	if mode == ModeWait {
		return func(deadline time.Time) {
			logger.Warn(fmt.Sprintf("⏰ Deadline %s reached, finishing the current iteration", deadline.Format(time.RFC3339)))
		}
	}
	return func(deadline time.Time) {
		if release != nil {
			release()
		}
		logger.Error(fmt.Sprintf("⏰ Check did not finish before %s", deadline.Format(time.RFC3339)))
		fmt.Fprintf(os.Stderr, "timed out at %s\n", deadline.Format(time.RFC3339))
		_ = RemovePIDFile()
		_ = RemoveTaskFile()
		exitFunc(exitFailure)
	}
}

// taskObserver mirrors watch transitions into the task file read by status
func taskObserver(task *TaskInfo) func(diff.Event) {
	return func(e diff.Event) {
		task.State = e.State.String()
		task.Iteration = e.Iteration
		task.PendingRows = e.Rows
		if len(e.Tables) > 0 {
			task.Tables = e.Tables
		}
		_ = WriteTaskInfo(task)
	}
}

func runWithTUI(ctx context.Context, config *Config, checker *Checker, alarm *Alarm, start time.Time, running *atomic.Pointer[tea.Program]) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := newWatchModel(config.WatchMode, start, alarm.Deadline(), cancel)
	program := tea.NewProgram(model, tea.WithOutput(os.Stderr), tea.WithContext(ctx))
	running.Store(program)
	defer running.Store(nil)

	checker.Observe(func(e diff.Event) {
		program.Send(watchEventMsg(e))
	})

	done := make(chan error, 1)
	go func() {
		_, err := checker.Run(ctx, alarm.Done())
		program.Send(checkDoneMsg{err: err})
		done <- err
	}()

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		logger.Error(fmt.Sprintf("❌ Dashboard failed: %v", err))
	}

	// The dashboard may exit first on q or ctrl+c, the check follows the cancellation
	return <-done
}

var (
	statusLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	statusValueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Bold(true)
)

func runStatus(w io.Writer) int {
	pid, err := ReadPIDFile()
	if err != nil || !IsProcessRunning(pid) {
		fmt.Fprintln(w, infoStyle.Render("No check is currently running"))
		return exitOK
	}

	info, err := ReadTaskInfo()
	if err != nil {
		fmt.Fprintf(w, "%s %d\n", statusLabelStyle.Render("Running with PID"), pid)
		return exitOK
	}

	fmt.Fprintln(w, renderStatus(info, time.Now()))
	return exitOK
}

func renderStatus(info *TaskInfo, now time.Time) string {
	line := func(label string, value any) string {
		return fmt.Sprintf("%s %s", statusLabelStyle.Render(fmt.Sprintf("%-13s", label+":")), statusValueStyle.Render(fmt.Sprint(value)))
	}

	remaining := info.Deadline.Sub(now).Round(time.Second)
	if remaining < 0 {
		remaining = 0
	}

	lines := []string{
		titleStyle.Render("checksumo status"),
		"",
		line("PID", info.PID),
		line("Run", info.RunID),
		line("Mode", info.Mode),
		line("State", info.State),
		line("Iteration", info.Iteration),
		line("Pending rows", info.PendingRows),
		line("Tables", fmt.Sprint(info.Tables)),
		line("Running for", now.Sub(info.StartTime).Round(time.Second)),
		line("Deadline in", remaining),
		line("Updated", info.LastUpdate.Format("15:04:05")),
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
