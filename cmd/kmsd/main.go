package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/srlehn/kmsdisplay"
	"github.com/srlehn/kmsdisplay/display"
	"github.com/srlehn/kmsdisplay/internal/errors"
	"github.com/srlehn/kmsdisplay/internal/logx"
)

var rootCmd = &cobra.Command{
	Use:              filepath.Base(os.Args[0]),
	Short:            `kmsd drives monitors through kernel mode setting`,
	Long:             `kmsd drives monitors through kernel mode setting` + "\n\n" + `without subcommand all connected monitors are mode-set once and released again`,
	SilenceUsage:     true,
	SilenceErrors:    true,
	TraverseChildren: true,
	Args:             cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		run(modesetFunc)
	},
}

func init() {
	cobra.EnablePrefixMatching = true
	rootCmd.PersistentFlags().StringVarP(&deviceFlag, `device`, `D`, kmsdisplay.DefaultDevicePath, `drm device node`)
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, `debug`, `d`, false, `debug errors and log level`)
	rootCmd.PersistentFlags().BoolVarP(&silentFlag, `silent`, `s`, false, `silence errors and logs`)
	rootCmd.PersistentFlags().StringVarP(&logFileFlag, `log-file`, `l`, ``, `log file`)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var (
	deviceFlag  string
	debugFlag   bool
	silentFlag  bool
	logFileFlag string
)

// session carries what every subcommand needs.
type session struct {
	ctx    context.Context
	logger *slog.Logger
}

func (s *session) Logger() *slog.Logger { return s.logger }

// loggerOption passes the session logger on to a display.Manager.
func (s *session) loggerOption() display.Option {
	if s.logger == nil {
		return display.SetSLogger(nil, false)
	}
	return display.SetSLogger(s.logger.Handler(), true)
}

func newLogger() (*slog.Logger, io.Closer, error) {
	if silentFlag && len(logFileFlag) == 0 {
		return nil, nil, nil
	}
	lvl := slog.LevelInfo
	if debugFlag {
		lvl = slog.LevelDebug
	}
	var (
		w      io.Writer = os.Stderr
		closer io.Closer
	)
	if len(logFileFlag) > 0 {
		f, err := os.OpenFile(logFileFlag, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, errors.New(err)
		}
		w, closer = f, f
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), closer, nil
}

func run(fn func(s *session) error) {
	var exitCode int
	defer func() {
		// catch panics to print their stack
		if r := recover(); r != nil {
			exitCode = 1
			if !silentFlag {
				if stackFramer, ok := r.(interface{ ErrorStack() string }); ok {
					fmt.Fprintln(os.Stderr, "\n"+stackFramer.ErrorStack())
				} else {
					fmt.Fprintln(os.Stderr, r)
					debug.PrintStack()
				}
			}
		}
		os.Exit(exitCode)
	}()
	if fn == nil {
		fmt.Fprintln(os.Stderr, errors.NilParam())
		exitCode = 1
		return
	}
	logger, logCloser, err := newLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		exitCode = 1
		return
	}
	if logCloser != nil {
		defer logCloser.Close()
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	s := &session{ctx: ctx, logger: logger}
	if err := fn(s); err != nil {
		if len(logFileFlag) > 0 {
			logx.IsErr(err, s, slog.LevelError)
		}
		exitCode = 1
		if !silentFlag {
			if stackFramer, ok := err.(interface{ ErrorStack() string }); debugFlag && ok {
				fmt.Fprintln(os.Stderr, "\n"+stackFramer.ErrorStack())
			} else {
				fmt.Fprintln(os.Stderr, err.Error())
			}
		}
	}
}

// openManager opens the device and explains a failed master acquisition.
func openManager(s *session, opts ...display.Option) (*display.Manager, error) {
	m, err := kmsdisplay.Open(deviceFlag, append([]display.Option{s.loggerOption()}, opts...)...)
	if err != nil {
		if holders := deviceHolders(deviceFlag); len(holders) > 0 {
			logx.Warn(`device is in use`, s, `device`, deviceFlag, `holders`, holders)
		}
		return nil, err
	}
	return m, nil
}

func modesetFunc(s *session) error {
	m, err := openManager(s)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.UpdateConnections(); err != nil {
		return err
	}
	for _, out := range m.Outputs() {
		mode := out.Mode()
		fmt.Printf("connector %d: crtc %d, %s@%d\n", out.ConnectorID(), out.CRTC(), mode.String(), mode.Vrefresh)
	}
	return nil
}
