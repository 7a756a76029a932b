package cli

import (
	"fmt"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/SchirmForge/ssh-tunnel-manager/internal/model"
)

var (
	styleConnected = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	styleFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	styleWaiting   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleDim       = lipgloss.NewStyle().Faint(true)
	styleHeader    = lipgloss.NewStyle().Bold(true).Underline(true)
)

func stateStyle(state model.TunnelState) lipgloss.Style {
	switch state {
	case model.StateConnected:
		return styleConnected
	case model.StateFailed:
		return styleFailed
	case model.StateWaitingForAuth, model.StateConnecting, model.StateDisconnecting:
		return styleWaiting
	}
	return styleDim
}

func renderStatusTable(tunnels []model.TunnelStatusResponse) string {
	var b strings.Builder
	b.WriteString(styleHeader.Render(fmt.Sprintf("%-38s %-18s %s", "ID", "STATE", "DETAIL")))
	b.WriteString("\n")
	if len(tunnels) == 0 {
		b.WriteString(styleDim.Render("no active tunnels"))
		b.WriteString("\n")
		return b.String()
	}
	for _, t := range tunnels {
		detail := t.Status.Reason
		if t.PendingAuth != nil {
			detail = "awaiting auth: " + t.PendingAuth.Prompt
		}
		line := fmt.Sprintf("%-38s %-18s %s",
			t.ID, stateStyle(t.Status.State).Render(string(t.Status.State)), detail)
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func renderEvent(ev model.Event) string {
	ts := styleDim.Render(time.Now().Format("15:04:05"))
	switch ev.Type {
	case model.EventStarting:
		return fmt.Sprintf("%s %s %s", ts, styleWaiting.Render("starting"), ev.ID)
	case model.EventConnected:
		return fmt.Sprintf("%s %s %s", ts, styleConnected.Render("connected"), ev.ID)
	case model.EventDisconnected:
		return fmt.Sprintf("%s %s %s: %s", ts, styleDim.Render("disconnected"), ev.ID, ev.Reason)
	case model.EventError:
		return fmt.Sprintf("%s %s %s: %s", ts, styleFailed.Render("error"), ev.ID, ev.Error)
	case model.EventAuthRequired:
		prompt := ""
		if ev.Request != nil {
			prompt = ev.Request.Prompt
		}
		return fmt.Sprintf("%s %s %s: %s", ts, styleWaiting.Render("auth required"), ev.ID, prompt)
	case model.EventHeartbeat:
		return fmt.Sprintf("%s %s", ts, styleDim.Render("heartbeat"))
	}
	return fmt.Sprintf("%s %s %s", ts, ev.Type, ev.ID)
}

func connectedBanner(p *model.Profile) string {
	return styleConnected.Render("connected: ") +
		fmt.Sprintf("%s (%s:%d -> %s:%d)", p.Name,
			p.Forwarding.BindAddr(), p.Forwarding.LocalPort,
			p.Forwarding.RemoteHost, p.Forwarding.RemotePort)
}

// terminalAuthHandler answers daemon auth prompts from the terminal.
// Hidden prompts are read without echo, and a failed hidden read is
// returned as an error. A failed plain read cancels the authentication
// with an empty value.
func terminalAuthHandler(cmd *cobra.Command) func(req model.AuthRequest) (string, error) {
	return func(req model.AuthRequest) (string, error) {
		fmt.Fprintln(cmd.ErrOrStderr(), req.Prompt)
		if req.Hidden && term.IsTerminal(int(syscall.Stdin)) {
			b, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return "", err
			}
			return string(b), nil
		}
		var value string
		if _, err := fmt.Fscanln(cmd.InOrStdin(), &value); err != nil {
			return "", nil
		}
		return value, nil
	}
}
