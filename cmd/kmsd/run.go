package main

import (
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/srlehn/kmsdisplay"
	"github.com/srlehn/kmsdisplay/display"
	"github.com/srlehn/kmsdisplay/internal/logx"
)

var (
	imageFlag      string
	resizerFlag    string
	pollFlag       time.Duration
	vtGraphicsFlag string
)

func init() {
	runCmd.Flags().StringVarP(&imageFlag, `image`, `i`, ``, `wallpaper image file (test pattern if empty)`)
	runCmd.Flags().StringVarP(&resizerFlag, `resizer`, `r`, ``, `wallpaper scaler, one of: `+strings.Join(kmsdisplay.Resizers(), `, `))
	runCmd.Flags().DurationVarP(&pollFlag, `poll`, `p`, display.DefaultPollInterval, `hot-plug poll interval`)
	runCmd.Flags().StringVar(&vtGraphicsFlag, `vt-graphics`, ``, `switch this virtual terminal (e.g. /dev/tty1) to graphics mode while running`)
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   runCmdStr,
	Short: `show a wallpaper or test pattern on all monitors`,
	Long:  `show a wallpaper or test pattern on all monitors until interrupted, following hot-plugs`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		run(runFunc)
	},
}

var runCmdStr = `run`

func runFunc(s *session) error {
	frameFunc := kmsdisplay.TestPattern()
	if len(imageFlag) > 0 {
		rsz, err := kmsdisplay.ResizerByName(resizerFlag)
		if err != nil {
			return err
		}
		img, err := kmsdisplay.LoadImage(imageFlag)
		if err != nil {
			return err
		}
		wp, err := kmsdisplay.NewWallpaper(img, rsz)
		if err != nil {
			return err
		}
		frameFunc = wp.FrameFunc()
	}
	if len(vtGraphicsFlag) > 0 {
		vt, err := newVTGraphics(vtGraphicsFlag)
		if err != nil {
			return err
		}
		defer func() { logx.IsErr(vt.Close(), s, slog.LevelWarn, `tty`, vtGraphicsFlag) }()
	}
	m, err := openManager(s, display.SetFrameFunc(frameFunc), display.SetPollInterval(pollFlag))
	if err != nil {
		return err
	}
	defer m.Close()
	logx.Info(`running`, s, `device`, deviceFlag)
	return m.Run(s.ctx)
}
