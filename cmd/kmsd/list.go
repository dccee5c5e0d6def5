package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/srlehn/kmsdisplay/internal/logx"
	"github.com/srlehn/kmsdisplay/kms"
)

func init() {
	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:   listCmdStr,
	Short: `list connectors`,
	Long:  `list connectors, their state, modes and the crtcs their encoders can drive`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		run(listFunc)
	},
}

var (
	listCmdStr = `list`

	styleName         = lipgloss.NewStyle().Bold(true)
	styleConnected    = lipgloss.NewStyle().Foreground(lipgloss.Color(`10`))
	styleDisconnected = lipgloss.NewStyle().Faint(true)
	stylePreferred    = lipgloss.NewStyle().Underline(true)
	styleIndent       = lipgloss.NewStyle().PaddingLeft(4)
)

// listFunc only reads the device and works without master.
func listFunc(s *session) error {
	dev, err := kms.OpenCard(deviceFlag)
	if err != nil {
		return err
	}
	defer dev.Close()
	res, err := kms.GetResources(dev)
	if err != nil {
		return err
	}
	crtcs := res.CRTCs()
	fmt.Printf("%s: %d crtcs %v\n", deviceFlag, len(crtcs), crtcs)
	for _, connID := range res.Connectors() {
		conn, err := kms.GetConnector(dev, connID)
		if logx.IsErr(err, s, slog.LevelWarn, `connector`, connID) {
			continue
		}
		state := styleDisconnected.Render(conn.Connection().String())
		if conn.IsConnected() {
			state = styleConnected.Render(conn.Connection().String())
		}
		fmt.Printf("%s (%d): %s\n", styleName.Render(conn.Name()), conn.ID(), state)

		var possible []string
		for _, encID := range conn.Encoders() {
			enc, err := kms.GetEncoder(dev, encID)
			if logx.IsErr(err, s, slog.LevelWarn, `connector`, connID, `encoder`, encID) {
				continue
			}
			for i, crtcID := range crtcs {
				if enc.HasCRTC(i) {
					possible = append(possible, fmt.Sprintf(`%d`, crtcID))
				}
			}
		}
		if len(possible) > 0 {
			fmt.Println(styleIndent.Render(`crtcs: ` + strings.Join(possible, `, `)))
		}
		best, errBest := conn.BestMode()
		for _, mode := range conn.Modes() {
			line := fmt.Sprintf(`%s@%d`, mode.String(), mode.Vrefresh)
			if errBest == nil && mode == best {
				line = stylePreferred.Render(line) + ` *`
			}
			fmt.Println(styleIndent.Render(line))
		}
	}
	return nil
}
